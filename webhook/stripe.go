package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when a delivery body is not a processor event.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// Stripe event types and the provider-neutral aliases accepted alongside them.
const (
	stripeSubscriptionCreated = "customer.subscription.created"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
	stripeInvoicePaid         = "invoice.paid"
	stripeInvoiceSucceeded    = "invoice.payment_succeeded"

	aliasSubscriptionActivated = "subscription.activated"
	aliasSubscriptionCanceled  = "subscription.canceled"
)

type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	Currency     string            `json:"currency"`
	PeriodStart  int64             `json:"period_start"`
	PeriodEnd    int64             `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`

	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// ParseStripe parses a Stripe event body. Unknown event types are not an
// error; they come back as KindOther with ReasonUnhandledEventType.
func ParseStripe(payload []byte) (Event, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	created := unixTime(env.Created)
	var ev Event

	switch env.Type {
	case stripeSubscriptionCreated, stripeSubscriptionUpdated, aliasSubscriptionActivated,
		stripeSubscriptionDeleted, aliasSubscriptionCanceled:
		sub, err := decodeObject[stripeSubscription](env)
		if err != nil {
			return Event{}, err
		}
		kind, ok := subscriptionKind(env.Type, sub.Status)
		if !ok {
			return other(env.ID, env.Type, created, ReasonSubscriptionStatus), nil
		}
		ev = Event{
			Kind: kind,
			Subscription: &Subscription{
				ID:         sub.ID,
				CustomerID: sub.Customer,
				Status:     sub.Status,
				Metadata:   sub.Metadata,
			},
		}

	case stripeInvoicePaid, stripeInvoiceSucceeded:
		inv, err := decodeObject[stripeInvoice](env)
		if err != nil {
			return Event{}, err
		}
		ev = Event{
			Kind: KindInvoicePaid,
			Invoice: &Invoice{
				ID:              inv.ID,
				CustomerID:      inv.Customer,
				SubscriptionID:  inv.Subscription,
				AmountPaidCents: inv.AmountPaid,
				Currency:        strings.ToLower(inv.Currency),
				PeriodStart:     optionalUnix(inv.PeriodStart),
				PeriodEnd:       optionalUnix(inv.PeriodEnd),
				Metadata:        mergeMetadata(inv.SubscriptionDetails.Metadata, inv.Metadata),
			},
		}

	default:
		return other(env.ID, env.Type, created, ReasonUnhandledEventType), nil
	}

	ev.ID = env.ID
	ev.Type = env.Type
	ev.CreatedAt = created
	return ev, nil
}

// subscriptionKind maps a subscription event to a kind. Status changes other
// than becoming active or canceled are not referral events.
func subscriptionKind(eventType, status string) (Kind, bool) {
	switch eventType {
	case stripeSubscriptionDeleted, aliasSubscriptionCanceled:
		return KindSubscriptionCanceled, true
	case aliasSubscriptionActivated:
		return KindSubscriptionActivated, true
	}

	switch status {
	case "active":
		return KindSubscriptionActivated, true
	case "canceled":
		return KindSubscriptionCanceled, true
	}
	return KindOther, false
}

func decodeObject[T any](env stripeEnvelope) (T, error) {
	var obj T
	if len(env.Data.Object) == 0 {
		return obj, fmt.Errorf("%w: %s without data.object", ErrMalformedPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return obj, fmt.Errorf("%w: %s object: %w", ErrMalformedPayload, env.Type, err)
	}
	return obj, nil
}

// mergeMetadata overlays b onto a; invoice metadata wins over the
// subscription's.
func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 {
		return b
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func optionalUnix(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := unixTime(sec)
	return &t
}
