package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/referral"
	"github.com/xraph/referral/plugin"
	"github.com/xraph/referral/store"
	"github.com/xraph/referral/webhook"
)

// Option configures the referral Forge extension.
type Option func(*Extension)

// WithStore sets the store for the referral engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store around db using the named driver
// ("postgres", "sqlite" or "mongo"). An explicit WithStore wins.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.StoreDriver = driver
	}
}

// WithEngineOption passes a referral.Option through to the underlying engine.
func WithEngineOption(opt referral.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, referral.WithPlugin(p))
	}
}

// WithSubscriptionSync sets the billing collaborator the webhook
// dispatcher calls on subscription changes.
func WithSubscriptionSync(s webhook.SubscriptionSync) Option {
	return func(e *Extension) { e.subscriptionSync = s }
}

// WithUserResolver overrides how webhook customers map to users.
func WithUserResolver(r webhook.UserResolver) Option {
	return func(e *Extension) { e.userResolver = r }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP handler construction.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for referral routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithWebhookSecret enables webhook intake with the given signing secret.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithDefaultTerms sets the commission terms offered to referrers.
func WithDefaultTerms(rateBps, months int) Option {
	return func(e *Extension) {
		e.config.DefaultRateBps = rateBps
		e.config.DefaultDurationMonths = months
	}
}

// WithExpirySweep enables the background expiry sweep.
func WithExpirySweep(interval time.Duration, batchSize int) Option {
	return func(e *Extension) {
		e.config.ExpirySweepInterval = interval
		e.config.ExpirySweepBatchSize = batchSize
	}
}
