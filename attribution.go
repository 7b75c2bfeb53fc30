package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/types"
)

// Attribution identifies who a code belongs to.
type Attribution struct {
	ReferrerUserID string            `json:"referrer_user_id"`
	ReferralCodeID id.ReferralCodeID `json:"referral_code_id"`
	Code           string            `json:"code"`
}

// LookupReferralCode resolves a user-typed code to its owner. Unknown and
// inactive codes both yield (nil, nil).
func (e *Engine) LookupReferralCode(ctx context.Context, raw string) (*Attribution, error) {
	value := code.Normalize(raw)
	if value == "" {
		return nil, nil //nolint:nilnil // absent code is not an error
	}

	c, err := e.store.GetCodeByValue(ctx, value)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil //nolint:nilnil // unknown code is not an error
		}
		return nil, err
	}
	if !c.IsActive {
		return nil, nil //nolint:nilnil // inactive codes do not attribute
	}

	return &Attribution{
		ReferrerUserID: c.UserID,
		ReferralCodeID: c.ID,
		Code:           c.Value,
	}, nil
}

// CreateReferral attributes referredUserID to the owner of rawCode. The new
// referral is pending with the referrer's current terms snapshotted onto it.
func (e *Engine) CreateReferral(ctx context.Context, referredUserID, rawCode string) (*ledger.Referral, error) {
	referredUserID = strings.TrimSpace(referredUserID)
	if referredUserID == "" {
		return nil, ValidationError{Field: "referred_user_id", Message: "required", Err: ErrInvalidInput}
	}

	attr, err := e.LookupReferralCode(ctx, rawCode)
	if err != nil {
		return nil, err
	}
	if attr == nil {
		return nil, ErrInvalidReferralCode
	}
	if attr.ReferrerUserID == referredUserID {
		return nil, ErrSelfReferralNotAllowed
	}

	// Fast path; the unique index below is what actually guarantees it.
	if _, err := e.store.GetOpenReferral(ctx, referredUserID); err == nil {
		return nil, ErrAlreadyReferred
	} else if !IsNotFound(err) {
		return nil, err
	}

	terms, err := e.terms.TermsFor(ctx, attr.ReferrerUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve terms: %w", err)
	}
	if err := validateTerms(terms); err != nil {
		return nil, err
	}

	r := &ledger.Referral{
		Entity:                   types.NewEntity(e.now()),
		ID:                       id.NewReferralID(),
		ReferrerUserID:           attr.ReferrerUserID,
		ReferredUserID:           referredUserID,
		ReferralCodeID:           attr.ReferralCodeID,
		Status:                   ledger.StatusPending,
		CommissionRateBps:        terms.RateBps,
		CommissionDurationMonths: terms.DurationMonths,
	}

	if err := e.store.CreateReferral(ctx, r); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrAlreadyReferred
		}
		return nil, err
	}

	if e.profiles != nil {
		if err := e.profiles.RecordReferralCode(ctx, referredUserID, attr.Code); err != nil {
			e.logger.Warn("failed to record referral code on profile",
				"referred_user_id", referredUserID,
				"error", err,
			)
		}
	}

	e.logger.Info("referral created",
		"referral_id", r.ID.String(),
		"referrer_user_id", r.ReferrerUserID,
		"referred_user_id", r.ReferredUserID,
	)
	e.plugins.EmitReferralCreated(ctx, r)

	return r, nil
}

func validateTerms(t ledger.Terms) error {
	if !t.RateBps.Valid() {
		return ValidationError{Field: "commission_rate_bps", Message: "must be within 0-10000", Err: ErrInvalidInput}
	}
	if t.DurationMonths <= 0 {
		return ValidationError{Field: "commission_duration_months", Message: "must be positive", Err: ErrInvalidInput}
	}
	return nil
}
