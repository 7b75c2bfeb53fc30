package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages registered plugins. Hook implementations are cached per
// interface at registration so dispatch does no type assertions.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit               []OnInit
	onShutdown           []OnShutdown
	onCodeCreated        []OnCodeCreated
	onReferralCreated    []OnReferralCreated
	onReferralActivated  []OnReferralActivated
	onReferralChurned    []OnReferralChurned
	onReferralExpired    []OnReferralExpired
	onCommissionRecorded []OnCommissionRecorded
	onCommissionAdvanced []OnCommissionAdvanced
	onWebhookReceived    []OnWebhookReceived
	onWebhookSkipped     []OnWebhookSkipped
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCodeCreated); ok {
		r.onCodeCreated = append(r.onCodeCreated, v)
	}
	if v, ok := p.(OnReferralCreated); ok {
		r.onReferralCreated = append(r.onReferralCreated, v)
	}
	if v, ok := p.(OnReferralActivated); ok {
		r.onReferralActivated = append(r.onReferralActivated, v)
	}
	if v, ok := p.(OnReferralChurned); ok {
		r.onReferralChurned = append(r.onReferralChurned, v)
	}
	if v, ok := p.(OnReferralExpired); ok {
		r.onReferralExpired = append(r.onReferralExpired, v)
	}
	if v, ok := p.(OnCommissionRecorded); ok {
		r.onCommissionRecorded = append(r.onCommissionRecorded, v)
	}
	if v, ok := p.(OnCommissionAdvanced); ok {
		r.onCommissionAdvanced = append(r.onCommissionAdvanced, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookSkipped); ok {
		r.onWebhookSkipped = append(r.onWebhookSkipped, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnCodeCreated", reflect.TypeOf((*OnCodeCreated)(nil)).Elem()},
	{"OnReferralCreated", reflect.TypeOf((*OnReferralCreated)(nil)).Elem()},
	{"OnReferralActivated", reflect.TypeOf((*OnReferralActivated)(nil)).Elem()},
	{"OnReferralChurned", reflect.TypeOf((*OnReferralChurned)(nil)).Elem()},
	{"OnReferralExpired", reflect.TypeOf((*OnReferralExpired)(nil)).Elem()},
	{"OnCommissionRecorded", reflect.TypeOf((*OnCommissionRecorded)(nil)).Elem()},
	{"OnCommissionAdvanced", reflect.TypeOf((*OnCommissionAdvanced)(nil)).Elem()},
	{"OnWebhookReceived", reflect.TypeOf((*OnWebhookReceived)(nil)).Elem()},
	{"OnWebhookSkipped", reflect.TypeOf((*OnWebhookSkipped)(nil)).Elem()},
}

// implementedInterfaces lists the hook interfaces p implements, for logging.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs fn for each plugin, logging failures. Hooks never fail the
// operation that triggered them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list []T, fn func(T) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitCodeCreated calls OnCodeCreated for all plugins that implement it.
func (r *Registry) EmitCodeCreated(ctx context.Context, c *code.ReferralCode) {
	emit(ctx, r, "OnCodeCreated", snapshot(r, &r.onCodeCreated), func(p OnCodeCreated) error {
		return p.OnCodeCreated(ctx, c)
	})
}

// EmitReferralCreated calls OnReferralCreated for all plugins that implement it.
func (r *Registry) EmitReferralCreated(ctx context.Context, ref *ledger.Referral) {
	emit(ctx, r, "OnReferralCreated", snapshot(r, &r.onReferralCreated), func(p OnReferralCreated) error {
		return p.OnReferralCreated(ctx, ref)
	})
}

// EmitReferralActivated calls OnReferralActivated for all plugins that implement it.
func (r *Registry) EmitReferralActivated(ctx context.Context, ref *ledger.Referral) {
	emit(ctx, r, "OnReferralActivated", snapshot(r, &r.onReferralActivated), func(p OnReferralActivated) error {
		return p.OnReferralActivated(ctx, ref)
	})
}

// EmitReferralChurned calls OnReferralChurned for all plugins that implement it.
func (r *Registry) EmitReferralChurned(ctx context.Context, referredUserID string, ids []id.ReferralID) {
	emit(ctx, r, "OnReferralChurned", snapshot(r, &r.onReferralChurned), func(p OnReferralChurned) error {
		return p.OnReferralChurned(ctx, referredUserID, ids)
	})
}

// EmitReferralExpired calls OnReferralExpired for all plugins that implement it.
func (r *Registry) EmitReferralExpired(ctx context.Context, ref *ledger.Referral) {
	emit(ctx, r, "OnReferralExpired", snapshot(r, &r.onReferralExpired), func(p OnReferralExpired) error {
		return p.OnReferralExpired(ctx, ref)
	})
}

// EmitCommissionRecorded calls OnCommissionRecorded for all plugins that implement it.
func (r *Registry) EmitCommissionRecorded(ctx context.Context, c *commission.Commission) {
	emit(ctx, r, "OnCommissionRecorded", snapshot(r, &r.onCommissionRecorded), func(p OnCommissionRecorded) error {
		return p.OnCommissionRecorded(ctx, c)
	})
}

// EmitCommissionAdvanced calls OnCommissionAdvanced for all plugins that implement it.
func (r *Registry) EmitCommissionAdvanced(ctx context.Context, c *commission.Commission, from commission.Status) {
	emit(ctx, r, "OnCommissionAdvanced", snapshot(r, &r.onCommissionAdvanced), func(p OnCommissionAdvanced) error {
		return p.OnCommissionAdvanced(ctx, c, from)
	})
}

// EmitWebhookReceived calls OnWebhookReceived for all plugins that implement it.
func (r *Registry) EmitWebhookReceived(ctx context.Context, provider, eventType string) {
	emit(ctx, r, "OnWebhookReceived", snapshot(r, &r.onWebhookReceived), func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, provider, eventType)
	})
}

// EmitWebhookSkipped calls OnWebhookSkipped for all plugins that implement it.
func (r *Registry) EmitWebhookSkipped(ctx context.Context, eventType, reason string) {
	emit(ctx, r, "OnWebhookSkipped", snapshot(r, &r.onWebhookSkipped), func(p OnWebhookSkipped) error {
		return p.OnWebhookSkipped(ctx, eventType, reason)
	})
}

// callWithTimeout calls a plugin function with a timeout so a slow hook
// cannot stall the request that triggered it.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
