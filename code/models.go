// Package code defines referral codes: the shareable tokens a referrer hands
// out so new sign-ups can be attributed to them.
package code

import (
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/types"
)

// ReferralCode is the single code owned by a user. Value is stored in
// normalized form (trimmed, lowercase) and is unique across all users.
type ReferralCode struct {
	types.Entity
	ID       id.ReferralCodeID `json:"id"`
	UserID   string            `json:"user_id"`
	Value    string            `json:"code"`
	IsActive bool              `json:"is_active"`
}
