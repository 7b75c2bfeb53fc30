// Package commission defines the revenue-share credit a referrer earns for
// one paid invoice of a referred user.
package commission

import (
	"time"

	"github.com/xraph/referral/id"
	"github.com/xraph/referral/types"
)

// Status tracks a commission through payout.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
)

// Statuses lists every commission status in payout order.
var Statuses = []Status{StatusPending, StatusApproved, StatusPaid}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid:
		return true
	}
	return false
}

// CanAdvance reports whether a commission may move from one status to the next.
// Payout only moves forward: pending -> approved -> paid.
func CanAdvance(from, to Status) bool {
	return (from == StatusPending && to == StatusApproved) ||
		(from == StatusApproved && to == StatusPaid)
}

// Commission is keyed externally by the processor's invoice ID; at most one
// exists per invoice.
type Commission struct {
	types.Entity
	ID              id.CommissionID `json:"id"`
	ReferralID      id.ReferralID   `json:"referral_id"`
	ReferrerUserID  string          `json:"referrer_user_id"`
	StripeInvoiceID string          `json:"stripe_invoice_id"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	PeriodStart     *time.Time      `json:"period_start,omitempty"`
	PeriodEnd       *time.Time      `json:"period_end,omitempty"`
}

// Amount returns the commission as Money.
func (c *Commission) Amount() types.Money {
	return types.New(c.AmountCents, c.Currency)
}
