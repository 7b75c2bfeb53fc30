package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/referral"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/plugin"
	"github.com/xraph/referral/store/memory"
	"github.com/xraph/referral/webhook"
)

var now = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup returns an engine where user_b was referred by user_a.
func setup(t *testing.T) *referral.Engine {
	t.Helper()
	ctx := context.Background()

	e := referral.New(memory.New(),
		referral.WithLogger(quietLogger()),
		referral.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.GetOrCreateReferralCode(ctx, "user_a", "friend")
	require.NoError(t, err)
	_, err = e.CreateReferral(ctx, "user_b", "FRIEND")
	require.NoError(t, err)
	return e
}

func referralStatus(t *testing.T, e *referral.Engine) ledger.Status {
	t.Helper()
	refs, err := e.ListReferrals(context.Background(), "user_a", ledger.ListOpts{})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	return refs[0].Status
}

func subscriptionEvent(kind webhook.Kind, userID string) webhook.Event {
	return webhook.Event{
		ID:   "evt_sub",
		Type: kind.String(),
		Kind: kind,
		Subscription: &webhook.Subscription{
			ID:       "sub_1",
			Status:   "active",
			Metadata: map[string]string{"user_id": userID},
		},
	}
}

func invoiceEvent(invoiceID string, amount int64) webhook.Event {
	return webhook.Event{
		ID:   "evt_" + invoiceID,
		Type: "invoice.paid",
		Kind: webhook.KindInvoicePaid,
		Invoice: &webhook.Invoice{
			ID:              invoiceID,
			AmountPaidCents: amount,
			Currency:        "usd",
			Metadata:        map[string]string{"user_id": "user_b"},
		},
	}
}

type fakeSync struct {
	err         error
	activated   []string
	downgrades  []string
	beforeChurn ledger.Status
	engine      *referral.Engine
	t           *testing.T
}

func (f *fakeSync) Activate(_ context.Context, userID string, _ *webhook.Subscription) error {
	if f.err != nil {
		return f.err
	}
	f.activated = append(f.activated, userID)
	return nil
}

func (f *fakeSync) Downgrade(_ context.Context, userID string, _ *webhook.Subscription) error {
	if f.err != nil {
		return f.err
	}
	if f.engine != nil {
		f.beforeChurn = referralStatus(f.t, f.engine)
	}
	f.downgrades = append(f.downgrades, userID)
	return nil
}

func TestDispatchLifecycle(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	d := webhook.NewDispatcher(e, webhook.WithLogger(quietLogger()))

	out, err := d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionActivated, "user_b"))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	assert.Len(t, out.ReferralIDs, 1)
	assert.Equal(t, "user_b", out.UserID)
	assert.False(t, out.DeliveryID.IsNil())
	assert.Equal(t, ledger.StatusActive, referralStatus(t, e))

	out, err = d.Dispatch(ctx, invoiceEvent("in_1", 2000))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	require.NotNil(t, out.Commission)
	assert.Equal(t, int64(1000), out.Commission.CommissionCents)
	assert.True(t, out.Commission.Created)

	// Redelivery is handled but writes nothing new.
	out, err = d.Dispatch(ctx, invoiceEvent("in_1", 2000))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	assert.Equal(t, int64(1000), out.Commission.CommissionCents)
	assert.False(t, out.Commission.Created)

	out, err = d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionCanceled, "user_b"))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	assert.Len(t, out.ReferralIDs, 1)
	assert.Equal(t, ledger.StatusChurned, referralStatus(t, e))

	out, err = d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionCanceled, "user_b"))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusSkipped, out.Status)
	assert.Equal(t, webhook.ReasonNoOpenReferral, out.Reason)

	out, err = d.Dispatch(ctx, invoiceEvent("in_2", 2000))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusSkipped, out.Status)
	assert.Equal(t, webhook.ReasonNoActiveReferral, out.Reason)
}

func TestDispatchSkips(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	d := webhook.NewDispatcher(e, webhook.WithLogger(quietLogger()))

	tests := []struct {
		name   string
		ev     webhook.Event
		reason string
	}{
		{
			name:   "other kind",
			ev:     webhook.Event{Type: "charge.refunded", Kind: webhook.KindOther, SkipReason: webhook.ReasonUnhandledEventType},
			reason: webhook.ReasonUnhandledEventType,
		},
		{
			name:   "no user",
			ev:     subscriptionEvent(webhook.KindSubscriptionActivated, ""),
			reason: webhook.ReasonMissingUser,
		},
		{
			name:   "no pending referral",
			ev:     subscriptionEvent(webhook.KindSubscriptionActivated, "user_z"),
			reason: webhook.ReasonNoPendingReferral,
		},
		{
			name:   "missing invoice id",
			ev:     invoiceEvent("", 2000),
			reason: webhook.ReasonMissingInvoiceID,
		},
		{
			name:   "negative amount",
			ev:     invoiceEvent("in_neg", -5),
			reason: webhook.ReasonInvalidAmount,
		},
		{
			name:   "pending referral earns nothing",
			ev:     invoiceEvent("in_pending", 2000),
			reason: webhook.ReasonNoActiveReferral,
		},
		{
			name:   "invoice kind without invoice",
			ev:     webhook.Event{ID: "evt_bare", Type: "invoice.paid", Kind: webhook.KindInvoicePaid},
			reason: webhook.ReasonMissingPayload,
		},
		{
			name:   "subscription kind without subscription",
			ev:     webhook.Event{ID: "evt_bare", Type: "subscription.canceled", Kind: webhook.KindSubscriptionCanceled},
			reason: webhook.ReasonMissingPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.Dispatch(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, webhook.StatusSkipped, out.Status)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestDispatchDowngradeFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	sync := &fakeSync{err: errors.New("billing unavailable")}
	d := webhook.NewDispatcher(e, webhook.WithLogger(quietLogger()), webhook.WithSubscriptionSync(sync))

	_, err := d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionCanceled, "user_b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, referral.ErrBillingSync)
	assert.True(t, referral.IsRetryable(err))
	assert.Equal(t, ledger.StatusPending, referralStatus(t, e), "nothing churned while billing failed")

	sync.err = nil
	sync.engine, sync.t = e, t
	out, err := d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionCanceled, "user_b"))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	assert.Equal(t, []string{"user_b"}, sync.downgrades)
	assert.Equal(t, ledger.StatusPending, sync.beforeChurn, "downgrade runs before churn")
	assert.Equal(t, ledger.StatusChurned, referralStatus(t, e))

	// A repeat cancellation still downgrades and is reported handled.
	out, err = d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionCanceled, "user_b"))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)
	assert.Equal(t, webhook.ReasonNoOpenReferral, out.Reason)
	assert.Len(t, sync.downgrades, 2)
}

func TestDispatchCustomResolver(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	resolver := webhook.UserResolverFunc(func(_ context.Context, customerID string, _ map[string]string) (string, error) {
		switch customerID {
		case "cus_b":
			return "user_b", nil
		case "cus_err":
			return "", fmt.Errorf("customer directory down")
		}
		return "", nil
	})
	d := webhook.NewDispatcher(e, webhook.WithLogger(quietLogger()), webhook.WithUserResolver(resolver))

	ev := subscriptionEvent(webhook.KindSubscriptionActivated, "")
	ev.Subscription.CustomerID = "cus_b"
	out, err := d.Dispatch(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusHandled, out.Status)

	ev.Subscription.CustomerID = "cus_err"
	_, err = d.Dispatch(ctx, ev)
	require.Error(t, err)
}

type webhookRecorder struct {
	received []string
	skipped  []string
}

func (r *webhookRecorder) Name() string { return "webhook-recorder" }

func (r *webhookRecorder) OnWebhookReceived(_ context.Context, provider, eventType string) error {
	r.received = append(r.received, provider+":"+eventType)
	return nil
}

func (r *webhookRecorder) OnWebhookSkipped(_ context.Context, eventType, reason string) error {
	r.skipped = append(r.skipped, eventType+":"+reason)
	return nil
}

func TestDispatchEmitsWebhookHooks(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	rec := &webhookRecorder{}
	reg := plugin.NewRegistry().WithLogger(quietLogger())
	require.NoError(t, reg.Register(rec))

	d := webhook.NewDispatcher(e, webhook.WithLogger(quietLogger()), webhook.WithPlugins(reg))

	_, err := d.Dispatch(ctx, subscriptionEvent(webhook.KindSubscriptionActivated, "user_b"))
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, webhook.Event{Type: "charge.refunded", Kind: webhook.KindOther})
	require.NoError(t, err)

	assert.Equal(t, []string{"stripe:subscription.activated", "stripe:charge.refunded"}, rec.received)
	assert.Equal(t, []string{"charge.refunded:unhandled_event_type"}, rec.skipped)
}
