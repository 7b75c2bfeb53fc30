package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/referral"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/plugin"
)

// ProviderStripe names the provider in plugin hooks and logs.
const ProviderStripe = "stripe"

// DefaultUserMetadataKey is the metadata key carrying the application user ID.
const DefaultUserMetadataKey = "user_id"

// Engine is the part of *referral.Engine the dispatcher drives.
type Engine interface {
	ActivateReferral(ctx context.Context, referredUserID string) (*ledger.Referral, error)
	ExpireReferralOnChurn(ctx context.Context, referredUserID string) ([]id.ReferralID, error)
	RecordCommission(ctx context.Context, in referral.CommissionInput) (*referral.CommissionResult, error)
}

// UserResolver maps a processor customer to an application user ID. An empty
// result with a nil error means the delivery has no user.
type UserResolver interface {
	ResolveUser(ctx context.Context, customerID string, metadata map[string]string) (string, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context, customerID string, metadata map[string]string) (string, error)

// ResolveUser implements UserResolver.
func (f UserResolverFunc) ResolveUser(ctx context.Context, customerID string, metadata map[string]string) (string, error) {
	return f(ctx, customerID, metadata)
}

// MetadataResolver reads the user ID from object metadata.
type MetadataResolver struct {
	Key string
}

// ResolveUser implements UserResolver.
func (m MetadataResolver) ResolveUser(_ context.Context, _ string, metadata map[string]string) (string, error) {
	key := m.Key
	if key == "" {
		key = DefaultUserMetadataKey
	}
	return strings.TrimSpace(metadata[key]), nil
}

// SubscriptionSync keeps the application's billing entitlements in step with
// the processor. Its failures are returned from Dispatch so the delivery is
// retried.
type SubscriptionSync interface {
	Activate(ctx context.Context, userID string, sub *Subscription) error
	Downgrade(ctx context.Context, userID string, sub *Subscription) error
}

// Status is the dispatch result reported back to the processor.
type Status string

const (
	StatusHandled Status = "handled"
	StatusSkipped Status = "skipped"
)

// Outcome describes what a delivery did.
type Outcome struct {
	DeliveryID id.WebhookEventID `json:"delivery_id"`
	EventID    string            `json:"event_id,omitempty"`
	EventType  string            `json:"event_type"`
	Kind       string            `json:"kind"`
	Status     Status            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	UserID     string            `json:"user_id,omitempty"`

	ReferralIDs []id.ReferralID            `json:"referral_ids,omitempty"`
	Commission  *referral.CommissionResult `json:"commission,omitempty"`
}

// Dispatcher routes parsed events to the engine.
type Dispatcher struct {
	engine   Engine
	resolver UserResolver
	sync     SubscriptionSync
	plugins  *plugin.Registry
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithUserResolver overrides the default metadata resolver.
func WithUserResolver(r UserResolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithSubscriptionSync sets the billing collaborator.
func WithSubscriptionSync(s SubscriptionSync) DispatcherOption {
	return func(d *Dispatcher) { d.sync = s }
}

// WithPlugins sets the registry receiving webhook hooks.
func WithPlugins(r *plugin.Registry) DispatcherOption {
	return func(d *Dispatcher) { d.plugins = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a Dispatcher over engine.
func NewDispatcher(engine Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:   engine,
		resolver: MetadataResolver{Key: DefaultUserMetadataKey},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch applies ev. A skipped Outcome with a nil error means the delivery
// should be acknowledged; a non-nil error means it should be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*Outcome, error) {
	out := &Outcome{
		DeliveryID: id.NewWebhookEventID(),
		EventID:    ev.ID,
		EventType:  ev.Type,
		Kind:       ev.Kind.String(),
	}

	if d.plugins != nil {
		d.plugins.EmitWebhookReceived(ctx, ProviderStripe, ev.Type)
	}

	if ev.Kind == KindOther {
		reason := ev.SkipReason
		if reason == "" {
			reason = ReasonUnhandledEventType
		}
		return d.skip(ctx, out, reason), nil
	}
	if !ev.hasPayload() {
		return d.skip(ctx, out, ReasonMissingPayload), nil
	}

	customerID, md := ev.metadata()
	userID, err := d.resolver.ResolveUser(ctx, customerID, md)
	if err != nil {
		return nil, fmt.Errorf("resolve user for %s: %w", ev.Type, err)
	}
	if userID == "" {
		return d.skip(ctx, out, ReasonMissingUser), nil
	}
	out.UserID = userID

	switch ev.Kind {
	case KindSubscriptionActivated:
		err = d.activated(ctx, out, ev.Subscription)
	case KindSubscriptionCanceled:
		err = d.canceled(ctx, out, ev.Subscription)
	case KindInvoicePaid:
		err = d.invoicePaid(ctx, out, ev.Invoice)
	}
	if err != nil {
		return nil, err
	}

	if out.Status == StatusSkipped {
		return d.skip(ctx, out, out.Reason), nil
	}

	d.logger.Info("webhook handled",
		"delivery_id", out.DeliveryID.String(),
		"event_id", out.EventID,
		"event_type", out.EventType,
		"user_id", out.UserID,
	)
	return out, nil
}

func (d *Dispatcher) activated(ctx context.Context, out *Outcome, sub *Subscription) error {
	synced := false
	if d.sync != nil {
		if err := d.sync.Activate(ctx, out.UserID, sub); err != nil {
			return fmt.Errorf("%w: activate: %w", referral.ErrBillingSync, err)
		}
		synced = true
	}

	ref, err := d.engine.ActivateReferral(ctx, out.UserID)
	if err != nil {
		return fmt.Errorf("activate referral: %w", err)
	}
	if ref != nil {
		out.ReferralIDs = []id.ReferralID{ref.ID}
	}
	settle(out, ref != nil, synced, ReasonNoPendingReferral)
	return nil
}

// canceled downgrades billing before churning the referral: if the
// downgrade fails nothing is churned and the delivery is retried whole.
func (d *Dispatcher) canceled(ctx context.Context, out *Outcome, sub *Subscription) error {
	synced := false
	if d.sync != nil {
		if err := d.sync.Downgrade(ctx, out.UserID, sub); err != nil {
			return fmt.Errorf("%w: downgrade: %w", referral.ErrBillingSync, err)
		}
		synced = true
	}

	ids, err := d.engine.ExpireReferralOnChurn(ctx, out.UserID)
	if err != nil {
		return fmt.Errorf("churn referral: %w", err)
	}
	out.ReferralIDs = ids
	settle(out, len(ids) > 0, synced, ReasonNoOpenReferral)
	return nil
}

func (d *Dispatcher) invoicePaid(ctx context.Context, out *Outcome, inv *Invoice) error {
	if inv.ID == "" {
		out.Status, out.Reason = StatusSkipped, ReasonMissingInvoiceID
		return nil
	}

	res, err := d.engine.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID:     out.UserID,
		StripeInvoiceID:    inv.ID,
		PaymentAmountCents: inv.AmountPaidCents,
		Currency:           inv.Currency,
		PeriodStart:        inv.PeriodStart,
		PeriodEnd:          inv.PeriodEnd,
	})
	switch {
	case errors.Is(err, referral.ErrInvalidAmount):
		out.Status, out.Reason = StatusSkipped, ReasonInvalidAmount
		return nil
	case err != nil:
		return fmt.Errorf("record commission: %w", err)
	}

	if res == nil {
		out.Status, out.Reason = StatusSkipped, ReasonNoActiveReferral
		return nil
	}
	out.Commission = res
	out.ReferralIDs = []id.ReferralID{res.ReferralID}
	out.Status = StatusHandled
	return nil
}

// settle marks the outcome handled if either the engine or the billing
// collaborator acted. The reason is kept when only billing acted.
func settle(out *Outcome, acted, synced bool, reason string) {
	if !acted {
		out.Reason = reason
	}
	if acted || synced {
		out.Status = StatusHandled
		return
	}
	out.Status = StatusSkipped
}

func (d *Dispatcher) skip(ctx context.Context, out *Outcome, reason string) *Outcome {
	out.Status = StatusSkipped
	out.Reason = reason

	if d.plugins != nil {
		d.plugins.EmitWebhookSkipped(ctx, out.EventType, reason)
	}
	d.logger.Debug("webhook skipped",
		"delivery_id", out.DeliveryID.String(),
		"event_id", out.EventID,
		"event_type", out.EventType,
		"reason", reason,
	)
	return out
}
