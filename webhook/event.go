// Package webhook adapts payment-processor webhook deliveries into referral
// engine calls. Payloads are parsed into a closed set of event kinds; every
// event type the engine does not act on becomes KindOther and is
// acknowledged as skipped so the processor does not redeliver it.
package webhook

import "time"

// Kind discriminates Event. The set is closed.
type Kind int

const (
	// KindOther is any delivery the engine does not act on.
	KindOther Kind = iota
	KindSubscriptionActivated
	KindSubscriptionCanceled
	KindInvoicePaid
)

func (k Kind) String() string {
	switch k {
	case KindSubscriptionActivated:
		return "subscription.activated"
	case KindSubscriptionCanceled:
		return "subscription.canceled"
	case KindInvoicePaid:
		return "invoice.paid"
	default:
		return "other"
	}
}

// Skip reasons reported in Outcome.Reason.
const (
	ReasonUnhandledEventType = "unhandled_event_type"
	ReasonSubscriptionStatus = "subscription_status_ignored"
	ReasonMissingUser        = "missing_user"
	ReasonNoPendingReferral  = "no_pending_referral"
	ReasonNoOpenReferral     = "no_open_referral"
	ReasonNoActiveReferral   = "no_active_referral"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonMissingInvoiceID   = "missing_invoice_id"
	ReasonMissingPayload     = "missing_payload"
)

// Event is one parsed delivery. Exactly one payload pointer is set for the
// non-Other kinds: Subscription for the subscription kinds, Invoice for
// KindInvoicePaid.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Subscription *Subscription `json:"subscription,omitempty"`
	Invoice      *Invoice      `json:"invoice,omitempty"`

	// SkipReason explains a KindOther event.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Subscription is the part of a subscription object the engine needs.
type Subscription struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Invoice is the part of a paid invoice the engine needs.
type Invoice struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	SubscriptionID  string            `json:"subscription_id,omitempty"`
	AmountPaidCents int64             `json:"amount_paid_cents"`
	Currency        string            `json:"currency"`
	PeriodStart     *time.Time        `json:"period_start,omitempty"`
	PeriodEnd       *time.Time        `json:"period_end,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// metadata returns the metadata carried by whichever payload is set.
func (e Event) metadata() (customerID string, md map[string]string) {
	switch {
	case e.Subscription != nil:
		return e.Subscription.CustomerID, e.Subscription.Metadata
	case e.Invoice != nil:
		return e.Invoice.CustomerID, e.Invoice.Metadata
	}
	return "", nil
}

// hasPayload reports whether the payload pointer for e.Kind is set.
func (e Event) hasPayload() bool {
	switch e.Kind {
	case KindSubscriptionActivated, KindSubscriptionCanceled:
		return e.Subscription != nil
	case KindInvoicePaid:
		return e.Invoice != nil
	}
	return true
}

func other(id, typ string, created time.Time, reason string) Event {
	return Event{ID: id, Type: typ, Kind: KindOther, CreatedAt: created, SkipReason: reason}
}
