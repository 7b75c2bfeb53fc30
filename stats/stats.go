// Package stats folds grouped referral and commission totals into the
// per-referrer summary shown on a dashboard.
package stats

import (
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/ledger"
)

// Stats is a referrer's summary. Every bucket is always present; statuses
// with no rows report zero.
type Stats struct {
	ReferralCode          string `json:"referral_code"`
	TotalReferrals        int64  `json:"total_referrals"`
	ActiveReferrals       int64  `json:"active_referrals"`
	PendingReferrals      int64  `json:"pending_referrals"`
	ChurnedReferrals      int64  `json:"churned_referrals"`
	ExpiredReferrals      int64  `json:"expired_referrals"`
	TotalEarningsCents    int64  `json:"total_earnings_cents"`
	PendingEarningsCents  int64  `json:"pending_earnings_cents"`
	ApprovedEarningsCents int64  `json:"approved_earnings_cents"`
	PaidEarningsCents     int64  `json:"paid_earnings_cents"`
}

// Build assembles Stats from grouped counts and sums. Nil maps are treated
// as empty. Totals include every status, known or not.
func Build(code string, counts map[ledger.Status]int64, sums map[commission.Status]int64) *Stats {
	s := &Stats{ReferralCode: code}

	for status, n := range counts {
		s.TotalReferrals += n
		switch status {
		case ledger.StatusActive:
			s.ActiveReferrals = n
		case ledger.StatusPending:
			s.PendingReferrals = n
		case ledger.StatusChurned:
			s.ChurnedReferrals = n
		case ledger.StatusExpired:
			s.ExpiredReferrals = n
		}
	}

	for status, cents := range sums {
		s.TotalEarningsCents += cents
		switch status {
		case commission.StatusPending:
			s.PendingEarningsCents = cents
		case commission.StatusApproved:
			s.ApprovedEarningsCents = cents
		case commission.StatusPaid:
			s.PaidEarningsCents = cents
		}
	}

	return s
}
