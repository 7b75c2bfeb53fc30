package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/types"
)

// CodeResult is returned by GetOrCreateReferralCode.
type CodeResult struct {
	Code  *code.ReferralCode `json:"code"`
	IsNew bool               `json:"is_new"`
}

// GetOrCreateReferralCode returns the user's referral code, creating one on
// first use. A user owns at most one code; if one exists it is returned as-is
// and customCode is ignored. An empty customCode requests a generated code.
//
// Concurrent first calls for the same user converge on a single row: the
// loser of the insert race re-reads and returns the winner's code.
func (e *Engine) GetOrCreateReferralCode(ctx context.Context, userID, customCode string) (*CodeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required", Err: ErrInvalidInput}
	}

	existing, err := e.store.GetCodeByUser(ctx, userID)
	switch {
	case err == nil:
		return &CodeResult{Code: existing}, nil
	case !IsNotFound(err):
		return nil, fmt.Errorf("lookup code for user: %w", err)
	}

	if customCode != "" {
		return e.createCustomCode(ctx, userID, customCode)
	}

	for attempt := 1; attempt <= e.maxUniqueRetries; attempt++ {
		candidate, err := e.generator.Generate()
		if err != nil {
			return nil, err
		}

		c := e.newCode(userID, code.Normalize(candidate))
		err = e.store.CreateCode(ctx, c)
		if err == nil {
			e.codeCreated(ctx, c)
			return &CodeResult{Code: c, IsNew: true}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("create code: %w", err)
		}

		// Either the value collided or another request created this user's
		// code first. Only the first needs another attempt.
		if owned, ok := e.ownedCode(ctx, userID); ok {
			return &CodeResult{Code: owned}, nil
		}

		e.logger.Debug("referral code collision",
			"user_id", userID,
			"attempt", attempt,
		)
	}

	e.logger.Warn("referral code generation exhausted",
		"user_id", userID,
		"attempts", e.maxUniqueRetries,
	)
	return nil, ErrCodeGenerationExhausted
}

func (e *Engine) createCustomCode(ctx context.Context, userID, customCode string) (*CodeResult, error) {
	value := code.Normalize(customCode)
	if err := code.Validate(value); err != nil {
		return nil, ValidationError{Field: "code", Message: err.Error(), Err: ErrInvalidCode}
	}

	c := e.newCode(userID, value)
	err := e.store.CreateCode(ctx, c)
	if err == nil {
		e.codeCreated(ctx, c)
		return &CodeResult{Code: c, IsNew: true}, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("create code: %w", err)
	}

	if owned, ok := e.ownedCode(ctx, userID); ok {
		return &CodeResult{Code: owned}, nil
	}
	return nil, ErrCodeAlreadyTaken
}

// ownedCode re-reads the user's code after an insert conflict.
func (e *Engine) ownedCode(ctx context.Context, userID string) (*code.ReferralCode, bool) {
	c, err := e.store.GetCodeByUser(ctx, userID)
	if err != nil {
		return nil, false
	}
	return c, true
}

func (e *Engine) newCode(userID, value string) *code.ReferralCode {
	return &code.ReferralCode{
		Entity:   types.NewEntity(e.now()),
		ID:       id.NewReferralCodeID(),
		UserID:   userID,
		Value:    value,
		IsActive: true,
	}
}

func (e *Engine) codeCreated(ctx context.Context, c *code.ReferralCode) {
	e.logger.Info("referral code created",
		"user_id", c.UserID,
		"code", c.Value,
	)
	e.plugins.EmitCodeCreated(ctx, c)
}

// GetReferralCode returns the user's code, active or not.
func (e *Engine) GetReferralCode(ctx context.Context, userID string) (*code.ReferralCode, error) {
	return e.store.GetCodeByUser(ctx, userID)
}

// DeactivateReferralCode stops the user's code from attributing new sign-ups.
// Existing referrals are unaffected.
func (e *Engine) DeactivateReferralCode(ctx context.Context, userID string) error {
	return e.setCodeActive(ctx, userID, false)
}

// ReactivateReferralCode lets a deactivated code attribute sign-ups again.
func (e *Engine) ReactivateReferralCode(ctx context.Context, userID string) error {
	return e.setCodeActive(ctx, userID, true)
}

func (e *Engine) setCodeActive(ctx context.Context, userID string, active bool) error {
	if err := e.store.SetCodeActive(ctx, userID, active); err != nil {
		return err
	}
	e.logger.Info("referral code active flag changed",
		"user_id", userID,
		"active", active,
	)
	return nil
}
