package code

import (
	"context"
)

// Store persists referral codes. Implementations must enforce uniqueness on
// both UserID and Value and report violations as the root ErrConflict.
type Store interface {
	CreateCode(ctx context.Context, c *ReferralCode) error
	GetCodeByUser(ctx context.Context, userID string) (*ReferralCode, error)
	GetCodeByValue(ctx context.Context, value string) (*ReferralCode, error)
	SetCodeActive(ctx context.Context, userID string, active bool) error
}
