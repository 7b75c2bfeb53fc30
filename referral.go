package referral

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/plugin"
	"github.com/xraph/referral/store"
	"github.com/xraph/referral/types"
)

// Defaults applied by New.
const (
	DefaultMaxUniqueRetries = 5
	DefaultRateBps          = types.BasisPoints(5000)
	DefaultDurationMonths   = 24
)

// ProfileRecorder receives the "attributed via code" side effect when a
// referral is created. It is informational only.
type ProfileRecorder interface {
	RecordReferralCode(ctx context.Context, referredUserID, code string) error
}

// ProfileRecorderFunc adapts a plain function to ProfileRecorder.
type ProfileRecorderFunc func(ctx context.Context, referredUserID, code string) error

// RecordReferralCode implements ProfileRecorder.
func (f ProfileRecorderFunc) RecordReferralCode(ctx context.Context, referredUserID, code string) error {
	return f(ctx, referredUserID, code)
}

// TermsProvider returns the commission terms currently offered to a
// referrer. Terms are copied onto each new referral.
type TermsProvider interface {
	TermsFor(ctx context.Context, referrerUserID string) (ledger.Terms, error)
}

// StaticTerms offers the same terms to every referrer.
type StaticTerms ledger.Terms

// TermsFor implements TermsProvider.
func (s StaticTerms) TermsFor(context.Context, string) (ledger.Terms, error) {
	return ledger.Terms(s), nil
}

// Engine is the referral code and commission engine. It holds no referral
// state of its own; every decision is made against the store.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	generator        code.Generator
	terms            TermsProvider
	profiles         ProfileRecorder
	nowFn            func() time.Time
	maxUniqueRetries int
	skipMigrate      bool

	// Optional expiry sweep
	sweepInterval  time.Duration
	sweepBatchSize int
	stopChan       chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		generator:        code.NewRandomGenerator(code.DefaultLength),
		terms:            StaticTerms{RateBps: DefaultRateBps, DurationMonths: DefaultDurationMonths},
		nowFn:            func() time.Time { return time.Now().UTC() },
		maxUniqueRetries: DefaultMaxUniqueRetries,
		sweepBatchSize:   100,
		stopChan:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// WithCodeGenerator overrides how random codes are produced.
func WithCodeGenerator(g code.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithCodeLength sets the length of generated codes.
func WithCodeLength(n int) Option {
	return func(e *Engine) { e.generator = code.NewRandomGenerator(n) }
}

// WithMaxUniqueRetries bounds the insert attempts for a generated code.
func WithMaxUniqueRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxUniqueRetries = n
		}
	}
}

// WithDefaultTerms sets the terms snapshotted onto new referrals.
func WithDefaultTerms(rate types.BasisPoints, months int) Option {
	return func(e *Engine) {
		e.terms = StaticTerms{RateBps: rate, DurationMonths: months}
	}
}

// WithTermsProvider resolves terms per referrer.
func WithTermsProvider(p TermsProvider) Option {
	return func(e *Engine) { e.terms = p }
}

// WithProfileRecorder sets the collaborator notified of attributions.
func WithProfileRecorder(p ProfileRecorder) Option {
	return func(e *Engine) { e.profiles = p }
}

// WithExpirySweep enables a background worker that expires active
// referrals whose commission window has closed. Without it, expiry is only
// discovered when a commission is attempted.
func WithExpirySweep(interval time.Duration, batchSize int) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
		if batchSize > 0 {
			e.sweepBatchSize = batchSize
		}
	}
}

// WithoutMigrate makes Start skip store migration, for deployments that
// apply schema changes out of band.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start migrates the store, initializes plugins and starts the optional sweep.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.expirySweepWorker(ctx)
	}

	e.logger.Info("referral engine started",
		"max_unique_retries", e.maxUniqueRetries,
		"sweep_interval", e.sweepInterval,
	)

	return nil
}

// Stop halts background work, notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

func (e *Engine) now() time.Time {
	return e.nowFn().UTC()
}
