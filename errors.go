package referral

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("referral: not found")
	ErrConflict     = errors.New("referral: unique constraint conflict")
	ErrInvalidInput = errors.New("referral: invalid input")

	// Code errors
	ErrCodeNotFound            = errors.New("referral: referral code not found")
	ErrInvalidCode             = errors.New("referral: invalid referral code format")
	ErrCodeAlreadyTaken        = errors.New("referral: referral code already taken")
	ErrCodeGenerationExhausted = errors.New("referral: could not generate a unique referral code")

	// Attribution errors
	ErrInvalidReferralCode    = errors.New("referral: unknown or inactive referral code")
	ErrSelfReferralNotAllowed = errors.New("referral: self-referral not allowed")
	ErrAlreadyReferred        = errors.New("referral: user already has an open referral")

	// Ledger errors
	ErrReferralNotFound  = errors.New("referral: referral not found")
	ErrInvalidTransition = errors.New("referral: invalid status transition")

	// Commission errors
	ErrCommissionNotFound = errors.New("referral: commission not found")
	ErrInvalidAmount      = errors.New("referral: invalid payment amount")

	// Webhook errors
	ErrWebhookSignature = errors.New("referral: webhook signature verification failed")
	ErrBillingSync      = errors.New("referral: billing update failed")

	// Store errors
	ErrStoreNotReady     = errors.New("referral: store not ready")
	ErrStoreClosed       = errors.New("referral: store is closed")
	ErrTransactionFailed = errors.New("referral: transaction failed")
	ErrMigrationFailed   = errors.New("referral: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("referral: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap exposes the sentinel the validation failure maps to, if any.
func (e ValidationError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "referral: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("referral: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap lets errors.Is and errors.As see every collected error.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrReferralNotFound) ||
		errors.Is(err, ErrCommissionNotFound)
}

// IsConflict returns true if the error reports a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation returns true for errors caused by the caller's input. These are
// rejected actions and must not be retried automatically.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrCodeAlreadyTaken) ||
		errors.Is(err, ErrInvalidReferralCode) ||
		errors.Is(err, ErrSelfReferralNotAllowed) ||
		errors.Is(err, ErrAlreadyReferred) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrBillingSync) ||
		errors.Is(err, ErrCodeGenerationExhausted)
}
