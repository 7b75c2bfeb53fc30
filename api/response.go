package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/referral"
)

type successResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapDomainError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeError(w, r, status, code, message)
}

// mapDomainError maps engine sentinels to an HTTP status and error code.
// Order matters: the specific rejections are checked before the broad
// validation and conflict classes they also belong to.
func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, referral.ErrInvalidReferralCode):
		return http.StatusUnprocessableEntity, "invalid_referral_code"
	case errors.Is(err, referral.ErrSelfReferralNotAllowed):
		return http.StatusUnprocessableEntity, "self_referral_not_allowed"
	case errors.Is(err, referral.ErrAlreadyReferred):
		return http.StatusConflict, "already_referred"
	case errors.Is(err, referral.ErrCodeAlreadyTaken):
		return http.StatusConflict, "code_taken"
	case errors.Is(err, referral.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code"
	case errors.Is(err, referral.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, referral.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, referral.ErrWebhookSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, referral.ErrBillingSync):
		return http.StatusInternalServerError, "billing_sync_failed"
	case errors.Is(err, referral.ErrCodeGenerationExhausted):
		return http.StatusServiceUnavailable, "code_generation_exhausted"
	case referral.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case referral.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case referral.IsConflict(err):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
