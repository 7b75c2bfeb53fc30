// Package ledger defines the referral record and its lifecycle.
//
// A referral links a referrer to one referred user. It is created pending
// at sign-up, becomes active when the referred user subscribes, and ends
// either churned (subscription canceled) or expired (commission window
// elapsed). Commission terms are snapshotted at creation.
package ledger

import (
	"time"

	"github.com/xraph/referral/id"
	"github.com/xraph/referral/types"
)

// Status is the lifecycle state of a referral.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusChurned Status = "churned"
	StatusExpired Status = "expired"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusActive, StatusChurned, StatusExpired}

// OpenStatuses are the non-terminal states. At most one referral per
// referred user may be in one of these.
var OpenStatuses = []Status{StatusPending, StatusActive}

// IsOpen reports whether s is non-terminal.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusActive
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusChurned, StatusExpired:
		return true
	}
	return false
}

// Referral is the relationship between a referrer and one referred user.
type Referral struct {
	types.Entity
	ID                       id.ReferralID     `json:"id"`
	ReferrerUserID           string            `json:"referrer_user_id"`
	ReferredUserID           string            `json:"referred_user_id"`
	ReferralCodeID           id.ReferralCodeID `json:"referral_code_id"`
	Status                   Status            `json:"status"`
	CommissionRateBps        types.BasisPoints `json:"commission_rate_bps"`
	CommissionDurationMonths int               `json:"commission_duration_months"`
	SubscribedAt             *time.Time        `json:"subscribed_at,omitempty"`
	ExpiresAt                *time.Time        `json:"expires_at,omitempty"`
	ChurnedAt                *time.Time        `json:"churned_at,omitempty"`
}

// ExpiredAt reports whether the commission window has closed at t.
// A referral without ExpiresAt never expires.
func (r *Referral) ExpiredAt(t time.Time) bool {
	return r.ExpiresAt != nil && t.After(*r.ExpiresAt)
}

// Terms is the commission configuration snapshotted onto a new referral.
type Terms struct {
	RateBps        types.BasisPoints `json:"rate_bps"`
	DurationMonths int               `json:"duration_months"`
}
