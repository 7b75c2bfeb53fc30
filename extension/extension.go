// Package extension provides the Forge extension adapter for the referral
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.referral" or "referral" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/referral"
	"github.com/xraph/referral/api"
	"github.com/xraph/referral/store"
	"github.com/xraph/referral/store/memory"
	mongostore "github.com/xraph/referral/store/mongo"
	"github.com/xraph/referral/store/postgres"
	"github.com/xraph/referral/store/sqlite"
	"github.com/xraph/referral/types"
	"github.com/xraph/referral/webhook"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "referral"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Referral codes and revenue-share commissions"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the referral engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *referral.Engine
	handler    *api.Handler
	store      store.Store
	groveDB    *grove.DB
	engineOpts []referral.Option

	subscriptionSync webhook.SubscriptionSync
	userResolver     webhook.UserResolver
}

// New creates a new referral Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *referral.Engine { return e.engine }

// Handler returns the HTTP handler, or nil when routes are disabled.
func (e *Extension) Handler() *api.Handler { return e.handler }

// Routes returns the referral routes mounted under BasePath, or nil when
// routes are disabled.
func (e *Extension) Routes() http.Handler {
	if e.handler == nil {
		return nil
	}
	base := strings.TrimRight(e.config.BasePath, "/")
	if base == "" {
		return api.NewRouter(e.handler)
	}
	r := chi.NewRouter()
	r.Mount(base, api.NewRouter(e.handler))
	return r
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*referral.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.handler == nil {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.handler, nil
	})
}

// init builds the store, engine and handler from the resolved config.
func (e *Extension) init() error {
	s, err := e.buildStore()
	if err != nil {
		return err
	}
	e.store = s
	e.engine = referral.New(e.store, e.buildEngineOpts()...)

	if !e.config.DisableRoutes {
		e.handler = api.NewHandler(e.engine, e.buildHandlerOpts()...)
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("referral: extension not initialized")
	}

	// The sweep outlives the start context; Stop ends it.
	if err := e.engine.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("referral: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore picks the store: an explicit WithStore, then a grove.DB with
// its driver, then the in-memory store.
func (e *Extension) buildStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.groveDB == nil {
		return memory.New(), nil
	}

	switch strings.ToLower(e.config.StoreDriver) {
	case "postgres", "pg":
		return postgres.New(e.groveDB), nil
	case "sqlite", "sqlite3":
		return sqlite.New(e.groveDB), nil
	case "mongo", "mongodb":
		return mongostore.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("referral: unknown store driver %q", e.config.StoreDriver)
	}
}

// buildEngineOpts constructs referral.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []referral.Option {
	cfg := e.config
	opts := make([]referral.Option, 0, len(e.engineOpts)+5)

	opts = append(opts,
		referral.WithCodeLength(cfg.CodeLength),
		referral.WithMaxUniqueRetries(cfg.MaxUniqueRetries),
		referral.WithDefaultTerms(types.BasisPoints(cfg.DefaultRateBps), cfg.DefaultDurationMonths),
	)
	if cfg.ExpirySweepInterval > 0 {
		opts = append(opts, referral.WithExpirySweep(cfg.ExpirySweepInterval, cfg.ExpirySweepBatchSize))
	}
	if cfg.DisableMigrate {
		opts = append(opts, referral.WithoutMigrate())
	}

	// Pass-through options go last so they win.
	opts = append(opts, e.engineOpts...)

	return opts
}

func (e *Extension) buildHandlerOpts() []api.HandlerOption {
	opts := []api.HandlerOption{api.WithReadiness(e.store)}
	if e.config.WebhookSecret == "" {
		return opts
	}

	dopts := []webhook.DispatcherOption{webhook.WithPlugins(e.engine.Plugins())}
	if e.subscriptionSync != nil {
		dopts = append(dopts, webhook.WithSubscriptionSync(e.subscriptionSync))
	}
	if e.userResolver != nil {
		dopts = append(dopts, webhook.WithUserResolver(e.userResolver))
	}

	return append(opts, api.WithWebhook(
		webhook.NewVerifier(e.config.WebhookSecret, webhook.WithTolerance(e.config.WebhookTolerance)),
		webhook.NewDispatcher(e.engine, dopts...),
	))
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("referral: configuration is required but not found in config files; " +
				"ensure 'extensions.referral' or 'referral' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("referral: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("default_rate_bps", e.config.DefaultRateBps),
		forge.F("default_duration_months", e.config.DefaultDurationMonths),
		forge.F("expiry_sweep_interval", e.config.ExpirySweepInterval),
		forge.F("webhook_enabled", e.config.WebhookSecret != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.referral", "referral"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("referral: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("referral: failed to bind config",
			forge.F("key", key),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.CodeLength == 0 {
		cfg.CodeLength = defaults.CodeLength
	}
	if cfg.MaxUniqueRetries == 0 {
		cfg.MaxUniqueRetries = defaults.MaxUniqueRetries
	}
	if cfg.DefaultRateBps == 0 {
		cfg.DefaultRateBps = defaults.DefaultRateBps
	}
	if cfg.DefaultDurationMonths == 0 {
		cfg.DefaultDurationMonths = defaults.DefaultDurationMonths
	}
	if cfg.ExpirySweepBatchSize == 0 {
		cfg.ExpirySweepBatchSize = defaults.ExpirySweepBatchSize
	}
	if cfg.WebhookTolerance == 0 {
		cfg.WebhookTolerance = defaults.WebhookTolerance
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	fillString(&yamlConfig.BasePath, programmaticConfig.BasePath)
	fillString(&yamlConfig.StoreDriver, programmaticConfig.StoreDriver)
	fillString(&yamlConfig.WebhookSecret, programmaticConfig.WebhookSecret)

	fillInt(&yamlConfig.CodeLength, programmaticConfig.CodeLength)
	fillInt(&yamlConfig.MaxUniqueRetries, programmaticConfig.MaxUniqueRetries)
	fillInt(&yamlConfig.DefaultRateBps, programmaticConfig.DefaultRateBps)
	fillInt(&yamlConfig.DefaultDurationMonths, programmaticConfig.DefaultDurationMonths)
	fillInt(&yamlConfig.ExpirySweepBatchSize, programmaticConfig.ExpirySweepBatchSize)

	if yamlConfig.ExpirySweepInterval == 0 {
		yamlConfig.ExpirySweepInterval = programmaticConfig.ExpirySweepInterval
	}
	if yamlConfig.WebhookTolerance == 0 {
		yamlConfig.WebhookTolerance = programmaticConfig.WebhookTolerance
	}

	return mergeWithDefaults(yamlConfig)
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}
