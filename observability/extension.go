// Package observability provides a metrics plugin for the referral engine
// that records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnCodeCreated        = (*MetricsExtension)(nil)
	_ plugin.OnReferralCreated    = (*MetricsExtension)(nil)
	_ plugin.OnReferralActivated  = (*MetricsExtension)(nil)
	_ plugin.OnReferralChurned    = (*MetricsExtension)(nil)
	_ plugin.OnReferralExpired    = (*MetricsExtension)(nil)
	_ plugin.OnCommissionRecorded = (*MetricsExtension)(nil)
	_ plugin.OnCommissionAdvanced = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived    = (*MetricsExtension)(nil)
	_ plugin.OnWebhookSkipped     = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records referral lifecycle metrics.
// Register it as an engine plugin.
type MetricsExtension struct {
	// Code metrics
	CodeCreated Counter

	// Referral metrics
	ReferralCreated   Counter
	ReferralActivated Counter
	ReferralChurned   Counter
	ReferralExpired   Counter

	// Commission metrics
	CommissionRecorded Counter
	CommissionAmount   Histogram
	CommissionApproved Counter
	CommissionPaid     Counter

	// Webhook metrics
	WebhookReceived Counter
	WebhookSkipped  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		CodeCreated: factory.Counter("referral.code.created"),

		ReferralCreated:   factory.Counter("referral.referral.created"),
		ReferralActivated: factory.Counter("referral.referral.activated"),
		ReferralChurned:   factory.Counter("referral.referral.churned"),
		ReferralExpired:   factory.Counter("referral.referral.expired"),

		CommissionRecorded: factory.Counter("referral.commission.recorded"),
		CommissionAmount:   factory.Histogram("referral.commission.amount_cents"),
		CommissionApproved: factory.Counter("referral.commission.approved"),
		CommissionPaid:     factory.Counter("referral.commission.paid"),

		WebhookReceived: factory.Counter("referral.webhook.received"),
		WebhookSkipped:  factory.Counter("referral.webhook.skipped"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnCodeCreated implements plugin.OnCodeCreated.
func (m *MetricsExtension) OnCodeCreated(_ context.Context, _ *code.ReferralCode) error {
	m.CodeCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Referral lifecycle hooks
// ──────────────────────────────────────────────────

// OnReferralCreated implements plugin.OnReferralCreated.
func (m *MetricsExtension) OnReferralCreated(_ context.Context, _ *ledger.Referral) error {
	m.ReferralCreated.Inc()
	return nil
}

// OnReferralActivated implements plugin.OnReferralActivated.
func (m *MetricsExtension) OnReferralActivated(_ context.Context, _ *ledger.Referral) error {
	m.ReferralActivated.Inc()
	return nil
}

// OnReferralChurned implements plugin.OnReferralChurned. It counts
// referrals, not cancellations.
func (m *MetricsExtension) OnReferralChurned(_ context.Context, _ string, ids []id.ReferralID) error {
	m.ReferralChurned.Add(float64(len(ids)))
	return nil
}

// OnReferralExpired implements plugin.OnReferralExpired.
func (m *MetricsExtension) OnReferralExpired(_ context.Context, _ *ledger.Referral) error {
	m.ReferralExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Commission lifecycle hooks
// ──────────────────────────────────────────────────

// OnCommissionRecorded implements plugin.OnCommissionRecorded.
func (m *MetricsExtension) OnCommissionRecorded(_ context.Context, c *commission.Commission) error {
	m.CommissionRecorded.Inc()
	m.CommissionAmount.Observe(float64(c.AmountCents))
	return nil
}

// OnCommissionAdvanced implements plugin.OnCommissionAdvanced.
func (m *MetricsExtension) OnCommissionAdvanced(_ context.Context, c *commission.Commission, _ commission.Status) error {
	switch c.Status {
	case commission.StatusApproved:
		m.CommissionApproved.Inc()
	case commission.StatusPaid:
		m.CommissionPaid.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _, _ string) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookSkipped implements plugin.OnWebhookSkipped.
func (m *MetricsExtension) OnWebhookSkipped(_ context.Context, _, _ string) error {
	m.WebhookSkipped.Inc()
	return nil
}
