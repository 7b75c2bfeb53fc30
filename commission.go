package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/types"
)

// CommissionInput describes one paid invoice of a referred user.
type CommissionInput struct {
	ReferredUserID     string     `json:"referred_user_id"`
	StripeInvoiceID    string     `json:"stripe_invoice_id"`
	PaymentAmountCents int64      `json:"payment_amount_cents"`
	Currency           string     `json:"currency"`
	PeriodStart        *time.Time `json:"period_start,omitempty"`
	PeriodEnd          *time.Time `json:"period_end,omitempty"`
}

// CommissionResult is the credit computed for an invoice.
type CommissionResult struct {
	CommissionCents int64         `json:"commission_cents"`
	Currency        string        `json:"currency"`
	ReferralID      id.ReferralID `json:"referral_id"`
	// Created is false when the invoice had already been credited.
	Created bool `json:"created"`
}

// RecordCommission credits the referrer of the paying user. It is safe under
// at-least-once delivery: a replayed invoice returns the stored amount and
// writes nothing. It returns (nil, nil) when there is no active referral or
// the referral's commission window has closed; in the latter case the
// referral is moved to expired.
func (e *Engine) RecordCommission(ctx context.Context, in CommissionInput) (*CommissionResult, error) {
	in.StripeInvoiceID = strings.TrimSpace(in.StripeInvoiceID)
	if in.StripeInvoiceID == "" {
		return nil, ValidationError{Field: "stripe_invoice_id", Message: "required", Err: ErrInvalidInput}
	}
	in.ReferredUserID = strings.TrimSpace(in.ReferredUserID)
	if in.ReferredUserID == "" {
		return nil, ValidationError{Field: "referred_user_id", Message: "required", Err: ErrInvalidInput}
	}

	// A replay returns the stored credit whatever amount it carries.
	existing, err := e.store.GetCommissionByInvoice(ctx, in.StripeInvoiceID)
	switch {
	case err == nil:
		return &CommissionResult{
			CommissionCents: existing.AmountCents,
			Currency:        existing.Currency,
			ReferralID:      existing.ReferralID,
		}, nil
	case !IsNotFound(err):
		return nil, fmt.Errorf("lookup commission: %w", err)
	}

	if in.PaymentAmountCents < 0 {
		return nil, ErrInvalidAmount
	}

	r, err := e.store.GetReferralByStatus(ctx, in.ReferredUserID, ledger.StatusActive)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil //nolint:nilnil // nobody to credit
		}
		return nil, err
	}

	now := e.now()
	if r.ExpiredAt(now) {
		if _, err := e.expire(ctx, r); err != nil {
			return nil, err
		}
		return nil, nil //nolint:nilnil // commission window closed
	}

	cents, err := commission.Compute(in.PaymentAmountCents, r.CommissionRateBps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	c := &commission.Commission{
		Entity:          types.NewEntity(now),
		ID:              id.NewCommissionID(),
		ReferralID:      r.ID,
		ReferrerUserID:  r.ReferrerUserID,
		StripeInvoiceID: in.StripeInvoiceID,
		AmountCents:     cents,
		Currency:        types.NormalizeCurrency(in.Currency),
		Status:          commission.StatusPending,
		PeriodStart:     in.PeriodStart,
		PeriodEnd:       in.PeriodEnd,
	}

	created, err := e.store.CreateCommission(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create commission: %w", err)
	}

	if created {
		e.logger.Info("commission recorded",
			"commission_id", c.ID.String(),
			"referral_id", r.ID.String(),
			"invoice_id", c.StripeInvoiceID,
			"amount", c.Amount().String(),
		)
		e.plugins.EmitCommissionRecorded(ctx, c)
	}

	return &CommissionResult{
		CommissionCents: cents,
		Currency:        c.Currency,
		ReferralID:      r.ID,
		Created:         created,
	}, nil
}

// AdvanceCommission moves a commission forward in the payout pipeline.
func (e *Engine) AdvanceCommission(ctx context.Context, commissionID id.CommissionID, to commission.Status) (*commission.Commission, error) {
	c, err := e.store.GetCommission(ctx, commissionID)
	if err != nil {
		return nil, err
	}

	from := c.Status
	if !commission.CanAdvance(from, to) {
		return nil, fmt.Errorf("%w: commission %s -> %s", ErrInvalidTransition, from, to)
	}

	now := e.now()
	ok, err := e.store.UpdateCommissionStatus(ctx, commissionID, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: commission no longer %s", ErrInvalidTransition, from)
	}

	c.Status = to
	c.Touch(now)

	e.plugins.EmitCommissionAdvanced(ctx, c, from)
	return c, nil
}

// GetCommission retrieves a commission by ID.
func (e *Engine) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Commission, error) {
	return e.store.GetCommission(ctx, commissionID)
}

// ListCommissions lists the referrer's commissions, newest first.
func (e *Engine) ListCommissions(ctx context.Context, referrerUserID string, opts commission.ListOpts) ([]*commission.Commission, error) {
	if opts.Status != "" && !opts.Status.IsValid() {
		return nil, ValidationError{Field: "status", Message: "unknown commission status", Err: ErrInvalidInput}
	}
	opts.Limit = clampLimit(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return e.store.ListCommissions(ctx, referrerUserID, opts)
}
