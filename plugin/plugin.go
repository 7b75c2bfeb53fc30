// Package plugin provides lifecycle hooks for the referral engine.
// Plugins implement Plugin plus any of the hook interfaces below; the
// Registry discovers which ones at registration time.
package plugin

import (
	"context"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Code hooks
// ──────────────────────────────────────────────────

// OnCodeCreated is called after a referral code is stored.
type OnCodeCreated interface {
	Plugin
	OnCodeCreated(ctx context.Context, c *code.ReferralCode) error
}

// ──────────────────────────────────────────────────
// Referral hooks
// ──────────────────────────────────────────────────

// OnReferralCreated is called after a pending referral is stored.
type OnReferralCreated interface {
	Plugin
	OnReferralCreated(ctx context.Context, r *ledger.Referral) error
}

// OnReferralActivated is called when a referral becomes active.
type OnReferralActivated interface {
	Plugin
	OnReferralActivated(ctx context.Context, r *ledger.Referral) error
}

// OnReferralChurned is called when a cancellation churned at least one referral.
type OnReferralChurned interface {
	Plugin
	OnReferralChurned(ctx context.Context, referredUserID string, referralIDs []id.ReferralID) error
}

// OnReferralExpired is called when an active referral's window closes.
type OnReferralExpired interface {
	Plugin
	OnReferralExpired(ctx context.Context, r *ledger.Referral) error
}

// ──────────────────────────────────────────────────
// Commission hooks
// ──────────────────────────────────────────────────

// OnCommissionRecorded is called after a new commission row is written.
// Replayed invoices do not trigger it.
type OnCommissionRecorded interface {
	Plugin
	OnCommissionRecorded(ctx context.Context, c *commission.Commission) error
}

// OnCommissionAdvanced is called when a commission moves toward payout.
type OnCommissionAdvanced interface {
	Plugin
	OnCommissionAdvanced(ctx context.Context, c *commission.Commission, from commission.Status) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called for every verified webhook delivery.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider, eventType string) error
}

// OnWebhookSkipped is called when a delivery is acknowledged without action.
type OnWebhookSkipped interface {
	Plugin
	OnWebhookSkipped(ctx context.Context, eventType, reason string) error
}
