package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
)

func TestMetricsExtensionCounts(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	factory := NewPrometheusFactory(reg)
	m := NewMetricsExtension(factory)

	_ = m.OnCodeCreated(ctx, nil)
	_ = m.OnReferralCreated(ctx, nil)
	_ = m.OnReferralChurned(ctx, "user_b", []id.ReferralID{id.NewReferralID(), id.NewReferralID()})
	_ = m.OnCommissionRecorded(ctx, &commission.Commission{AmountCents: 1000})
	_ = m.OnCommissionAdvanced(ctx, &commission.Commission{Status: commission.StatusApproved}, commission.StatusPending)
	_ = m.OnCommissionAdvanced(ctx, &commission.Commission{Status: commission.StatusPaid}, commission.StatusApproved)
	_ = m.OnWebhookReceived(ctx, "stripe", "invoice.paid")
	_ = m.OnWebhookSkipped(ctx, "charge.refunded", "unhandled_event_type")

	tests := []struct {
		name string
		c    Counter
		want float64
	}{
		{"code created", m.CodeCreated, 1},
		{"referral created", m.ReferralCreated, 1},
		{"referral churned", m.ReferralChurned, 2},
		{"referral activated", m.ReferralActivated, 0},
		{"commission recorded", m.CommissionRecorded, 1},
		{"commission approved", m.CommissionApproved, 1},
		{"commission paid", m.CommissionPaid, 1},
		{"webhook received", m.WebhookReceived, 1},
		{"webhook skipped", m.WebhookSkipped, 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(tt.c.(prometheus.Counter))
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(reg, "referral_commission_amount_cents"); n != 1 {
		t.Errorf("amount histogram series = %d, want 1", n)
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	f := NewPrometheusFactory(prometheus.NewRegistry())

	a := f.Counter("referral.code.created")
	b := f.Counter("referral.code.created")
	if a != b {
		t.Fatal("expected the same counter for the same name")
	}

	// A second extension over the same factory must not panic on
	// duplicate registration.
	_ = NewMetricsExtension(f)
	_ = NewMetricsExtension(f)
}

func TestMetricName(t *testing.T) {
	if got := metricName("referral.webhook.received"); got != "referral_webhook_received" {
		t.Errorf("metricName = %q", got)
	}
}
