package referral

import (
	"context"
	"errors"

	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
)

// ActivateReferral moves the referred user's pending referral to active and
// starts the commission window. It returns (nil, nil) when there is nothing
// to activate, which includes a repeated subscription event.
func (e *Engine) ActivateReferral(ctx context.Context, referredUserID string) (*ledger.Referral, error) {
	r, err := e.store.GetReferralByStatus(ctx, referredUserID, ledger.StatusPending)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil //nolint:nilnil // no pending referral
		}
		return nil, err
	}

	if err := r.Activate(e.now()); err != nil {
		return nil, errors.Join(ErrInvalidTransition, err)
	}

	ok, err := e.store.ActivateReferral(ctx, r.ID, *r.SubscribedAt, *r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost to a concurrent activation or churn.
		return nil, nil //nolint:nilnil // no longer pending
	}

	e.logger.Info("referral activated",
		"referral_id", r.ID.String(),
		"referred_user_id", referredUserID,
		"expires_at", r.ExpiresAt,
	)
	e.plugins.EmitReferralActivated(ctx, r)

	return r, nil
}

// ExpireReferralOnChurn marks the referred user's open referral churned. It
// returns the IDs it changed; a repeat call returns none and logs nothing.
func (e *Engine) ExpireReferralOnChurn(ctx context.Context, referredUserID string) ([]id.ReferralID, error) {
	ids, err := e.store.ChurnReferrals(ctx, referredUserID, e.now())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	e.logger.Info("referral churned",
		"referred_user_id", referredUserID,
		"count", len(ids),
	)
	e.plugins.EmitReferralChurned(ctx, referredUserID, ids)

	return ids, nil
}

// expire applies active -> expired for r and reports whether this call did it.
func (e *Engine) expire(ctx context.Context, r *ledger.Referral) (bool, error) {
	now := e.now()
	ok, err := e.store.ExpireReferral(ctx, r.ID, now)
	if err != nil || !ok {
		return false, err
	}
	_ = r.Expire(now) //nolint:errcheck // store already applied the transition

	e.logger.Info("referral expired",
		"referral_id", r.ID.String(),
		"referred_user_id", r.ReferredUserID,
	)
	e.plugins.EmitReferralExpired(ctx, r)
	return true, nil
}

// GetReferral retrieves a referral by ID.
func (e *Engine) GetReferral(ctx context.Context, referralID id.ReferralID) (*ledger.Referral, error) {
	return e.store.GetReferral(ctx, referralID)
}

// ListReferrals lists the referrer's referrals, newest first.
func (e *Engine) ListReferrals(ctx context.Context, referrerUserID string, opts ledger.ListOpts) ([]*ledger.Referral, error) {
	if opts.Status != "" && !opts.Status.IsValid() {
		return nil, ValidationError{Field: "status", Message: "unknown referral status", Err: ErrInvalidInput}
	}
	return e.store.ListReferrals(ctx, referrerUserID, clampReferralOpts(opts))
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}

func clampReferralOpts(o ledger.ListOpts) ledger.ListOpts {
	o.Limit = clampLimit(o.Limit)
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
