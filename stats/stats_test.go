package stats_test

import (
	"testing"

	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/stats"
)

func TestBuild(t *testing.T) {
	got := stats.Build("save10",
		map[ledger.Status]int64{
			ledger.StatusActive:  5,
			ledger.StatusPending: 2,
			ledger.StatusChurned: 1,
			ledger.StatusExpired: 3,
		},
		map[commission.Status]int64{
			commission.StatusPending:  5000,
			commission.StatusApproved: 3000,
			commission.StatusPaid:     10000,
		},
	)

	want := stats.Stats{
		ReferralCode:          "save10",
		TotalReferrals:        11,
		ActiveReferrals:       5,
		PendingReferrals:      2,
		ChurnedReferrals:      1,
		ExpiredReferrals:      3,
		TotalEarningsCents:    18000,
		PendingEarningsCents:  5000,
		ApprovedEarningsCents: 3000,
		PaidEarningsCents:     10000,
	}
	if *got != want {
		t.Errorf("Build() = %+v, want %+v", *got, want)
	}
}

func TestBuildMissingBuckets(t *testing.T) {
	got := stats.Build("", nil, map[commission.Status]int64{commission.StatusPaid: 700})

	if got.TotalReferrals != 0 || got.ActiveReferrals != 0 || got.PendingReferrals != 0 {
		t.Errorf("expected zero referral buckets, got %+v", *got)
	}
	if got.PendingEarningsCents != 0 {
		t.Errorf("PendingEarningsCents = %d, want 0", got.PendingEarningsCents)
	}
	if got.TotalEarningsCents != 700 || got.PaidEarningsCents != 700 {
		t.Errorf("expected 700 paid and total, got %+v", *got)
	}
}
