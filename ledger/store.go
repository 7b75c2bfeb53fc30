package ledger

import (
	"context"
	"time"

	"github.com/xraph/referral/id"
)

// Store persists referrals. Status changes are single conditional writes so
// concurrent callers cannot double-apply a transition.
type Store interface {
	// CreateReferral inserts a pending referral. A second open referral for
	// the same referred user must fail with the root ErrConflict.
	CreateReferral(ctx context.Context, r *Referral) error
	GetReferral(ctx context.Context, referralID id.ReferralID) (*Referral, error)
	// GetOpenReferral returns the referred user's pending or active referral.
	GetOpenReferral(ctx context.Context, referredUserID string) (*Referral, error)
	GetReferralByStatus(ctx context.Context, referredUserID string, status Status) (*Referral, error)
	// ActivateReferral applies pending -> active. It reports false when the
	// referral was no longer pending.
	ActivateReferral(ctx context.Context, referralID id.ReferralID, subscribedAt, expiresAt time.Time) (bool, error)
	// ChurnReferrals moves every open referral of the user to churned and
	// returns the IDs that this call changed.
	ChurnReferrals(ctx context.Context, referredUserID string, churnedAt time.Time) ([]id.ReferralID, error)
	// ExpireReferral applies active -> expired. It reports false when the
	// referral was no longer active.
	ExpireReferral(ctx context.Context, referralID id.ReferralID, at time.Time) (bool, error)
	ListReferrals(ctx context.Context, referrerUserID string, opts ListOpts) ([]*Referral, error)
	// ListExpiredActive returns active referrals whose window closed before asOf.
	ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*Referral, error)
	// CountReferralsByStatus groups the referrer's referrals by status.
	// Statuses with no rows may be absent.
	CountReferralsByStatus(ctx context.Context, referrerUserID string) (map[Status]int64, error)
}

// ListOpts filters referral listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
