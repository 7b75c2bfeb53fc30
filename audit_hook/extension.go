// Package audithook bridges referral lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnCodeCreated        = (*Extension)(nil)
	_ plugin.OnReferralCreated    = (*Extension)(nil)
	_ plugin.OnReferralActivated  = (*Extension)(nil)
	_ plugin.OnReferralChurned    = (*Extension)(nil)
	_ plugin.OnReferralExpired    = (*Extension)(nil)
	_ plugin.OnCommissionRecorded = (*Extension)(nil)
	_ plugin.OnCommissionAdvanced = (*Extension)(nil)
	_ plugin.OnWebhookSkipped     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges referral lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnCodeCreated implements plugin.OnCodeCreated.
func (e *Extension) OnCodeCreated(ctx context.Context, c *code.ReferralCode) error {
	return e.record(ctx, ActionCodeCreated, SeverityInfo, OutcomeSuccess,
		ResourceCode, c.ID.String(), CategoryReferral, "",
		"user_id", c.UserID,
		"code", c.Value,
	)
}

// ──────────────────────────────────────────────────
// Referral lifecycle hooks
// ──────────────────────────────────────────────────

// OnReferralCreated implements plugin.OnReferralCreated.
func (e *Extension) OnReferralCreated(ctx context.Context, r *ledger.Referral) error {
	return e.record(ctx, ActionReferralCreated, SeverityInfo, OutcomeSuccess,
		ResourceReferral, r.ID.String(), CategoryReferral, "",
		"referrer_user_id", r.ReferrerUserID,
		"referred_user_id", r.ReferredUserID,
		"commission_rate_bps", int(r.CommissionRateBps),
		"commission_duration_months", r.CommissionDurationMonths,
	)
}

// OnReferralActivated implements plugin.OnReferralActivated.
func (e *Extension) OnReferralActivated(ctx context.Context, r *ledger.Referral) error {
	kv := []any{"referred_user_id", r.ReferredUserID}
	if r.ExpiresAt != nil {
		kv = append(kv, "expires_at", *r.ExpiresAt)
	}
	return e.record(ctx, ActionReferralActivated, SeverityInfo, OutcomeSuccess,
		ResourceReferral, r.ID.String(), CategoryReferral, "", kv...)
}

// OnReferralChurned implements plugin.OnReferralChurned.
func (e *Extension) OnReferralChurned(ctx context.Context, referredUserID string, ids []id.ReferralID) error {
	refs := make([]string, len(ids))
	for i, rid := range ids {
		refs[i] = rid.String()
	}
	return e.record(ctx, ActionReferralChurned, SeverityWarning, OutcomeSuccess,
		ResourceReferral, strings.Join(refs, ","), CategoryReferral, "subscription canceled",
		"referred_user_id", referredUserID,
		"count", len(ids),
	)
}

// OnReferralExpired implements plugin.OnReferralExpired.
func (e *Extension) OnReferralExpired(ctx context.Context, r *ledger.Referral) error {
	return e.record(ctx, ActionReferralExpired, SeverityInfo, OutcomeSuccess,
		ResourceReferral, r.ID.String(), CategoryReferral, "commission window closed",
		"referrer_user_id", r.ReferrerUserID,
	)
}

// ──────────────────────────────────────────────────
// Commission lifecycle hooks
// ──────────────────────────────────────────────────

// OnCommissionRecorded implements plugin.OnCommissionRecorded.
func (e *Extension) OnCommissionRecorded(ctx context.Context, c *commission.Commission) error {
	return e.record(ctx, ActionCommissionRecorded, SeverityInfo, OutcomeSuccess,
		ResourceCommission, c.ID.String(), CategoryPayout, "",
		"referral_id", c.ReferralID.String(),
		"stripe_invoice_id", c.StripeInvoiceID,
		"amount_cents", c.AmountCents,
		"currency", c.Currency,
	)
}

// OnCommissionAdvanced implements plugin.OnCommissionAdvanced.
func (e *Extension) OnCommissionAdvanced(ctx context.Context, c *commission.Commission, from commission.Status) error {
	action := ActionCommissionApproved
	if c.Status == commission.StatusPaid {
		action = ActionCommissionPaid
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceCommission, c.ID.String(), CategoryPayout, "",
		"from", string(from),
		"to", string(c.Status),
		"amount_cents", c.AmountCents,
	)
}

// OnWebhookSkipped implements plugin.OnWebhookSkipped.
func (e *Extension) OnWebhookSkipped(ctx context.Context, eventType, reason string) error {
	return e.record(ctx, ActionWebhookSkipped, SeverityInfo, OutcomeSkipped,
		ResourceWebhook, "", CategoryIntegration, reason,
		"event_type", eventType,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
