// Package api exposes the referral engine over HTTP: webhook intake for the
// payment processor plus the user-facing code, referral and stats routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/referral"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/stats"
	"github.com/xraph/referral/webhook"
)

const (
	maxWebhookBody  = 1 << 20
	webhookDeadline = 15 * time.Second
)

// Service is the engine surface the handlers call.
type Service interface {
	GetOrCreateReferralCode(ctx context.Context, userID, customCode string) (*referral.CodeResult, error)
	LookupReferralCode(ctx context.Context, raw string) (*referral.Attribution, error)
	CreateReferral(ctx context.Context, referredUserID, rawCode string) (*ledger.Referral, error)
	GetReferralStats(ctx context.Context, userID string) (*stats.Stats, error)
	ListReferrals(ctx context.Context, referrerUserID string, opts ledger.ListOpts) ([]*ledger.Referral, error)
	ListCommissions(ctx context.Context, referrerUserID string, opts commission.ListOpts) ([]*commission.Commission, error)
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the referral routes.
type Handler struct {
	service    Service
	verifier   *webhook.Verifier
	dispatcher *webhook.Dispatcher
	ready      Pinger
	logger     *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithWebhook enables POST /webhooks/stripe.
func WithWebhook(v *webhook.Verifier, d *webhook.Dispatcher) HandlerOption {
	return func(h *Handler) {
		h.verifier = v
		h.dispatcher = d
	}
}

// WithReadiness makes /readyz ping p.
func WithReadiness(p Pinger) HandlerOption {
	return func(h *Handler) { h.ready = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler returns a Handler over service.
func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type createCodeRequest struct {
	CustomCode string `json:"custom_code"`
}

type createCodeResponse struct {
	Code     string `json:"code"`
	IsActive bool   `json:"is_active"`
	IsNew    bool   `json:"is_new"`
}

type createReferralRequest struct {
	Code string `json:"code"`
}

func (h *Handler) createCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid json body")
			return
		}
	}

	res, err := h.service.GetOrCreateReferralCode(r.Context(), actorFromContext(r.Context()), req.CustomCode)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeSuccess(w, status, createCodeResponse{
		Code:     res.Code.Value,
		IsActive: res.Code.IsActive,
		IsNew:    res.IsNew,
	})
}

func (h *Handler) lookupCode(w http.ResponseWriter, r *http.Request) {
	attr, err := h.service.LookupReferralCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if attr == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "referral code not found")
		return
	}
	writeSuccess(w, http.StatusOK, attr)
}

func (h *Handler) createReferral(w http.ResponseWriter, r *http.Request) {
	var req createReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	ref, err := h.service.CreateReferral(r.Context(), actorFromContext(r.Context()), strings.TrimSpace(req.Code))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, ref)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownUser(w, r)
	if !ok {
		return
	}
	s, err := h.service.GetReferralStats(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, s)
}

func (h *Handler) listReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownUser(w, r)
	if !ok {
		return
	}
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	refs, err := h.service.ListReferrals(r.Context(), userID, ledger.ListOpts{
		Status: ledger.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, refs)
}

func (h *Handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownUser(w, r)
	if !ok {
		return
	}
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListCommissions(r.Context(), userID, commission.ListOpts{
		Status: commission.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, list)
}

// stripeWebhook verifies, parses and dispatches one delivery. Skipped
// events are acknowledged with 200 so the processor stops redelivering;
// dispatch failures return 500 so it retries.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || h.dispatcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "webhook_not_configured", "webhook intake is disabled")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body too large")
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, r, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	ev, err := webhook.ParseStripe(payload)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed_payload", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), webhookDeadline)
	defer cancel()

	out, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		h.logger.Error("webhook dispatch failed",
			"request_id", requestIDFromContext(r.Context()),
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Ping(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "not_ready", "store unavailable")
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ownUser returns the {user_id} path parameter if it is the caller.
func (h *Handler) ownUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "user_id")
	if userID != actorFromContext(r.Context()) {
		writeError(w, r, http.StatusForbidden, "forbidden", "cannot read another user's referrals")
		return "", false
	}
	return userID, true
}

func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "limit must be an integer")
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "offset must be an integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}
