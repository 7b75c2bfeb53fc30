package referral

import (
	"context"

	"github.com/xraph/referral/stats"
)

// GetReferralStats summarizes the referrer's referrals and earnings. Every
// bucket is present; ReferralCode is empty if the user has no code yet.
func (e *Engine) GetReferralStats(ctx context.Context, userID string) (*stats.Stats, error) {
	var value string
	c, err := e.store.GetCodeByUser(ctx, userID)
	switch {
	case err == nil:
		value = c.Value
	case !IsNotFound(err):
		return nil, err
	}

	counts, err := e.store.CountReferralsByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	sums, err := e.store.SumCommissionsByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	return stats.Build(value, counts, sums), nil
}
