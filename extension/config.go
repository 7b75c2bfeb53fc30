package extension

import "time"

// Config holds the referral extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.referral" or "referral" keys).
type Config struct {
	// DisableRoutes prevents HTTP handler construction.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for referral routes (default: "/referral").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// StoreDriver selects the backend built around a grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo".
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// CodeLength is the length of generated referral codes (default: 8).
	CodeLength int `json:"code_length" mapstructure:"code_length" yaml:"code_length"`

	// MaxUniqueRetries bounds insert attempts for a generated code (default: 5).
	MaxUniqueRetries int `json:"max_unique_retries" mapstructure:"max_unique_retries" yaml:"max_unique_retries"`

	// DefaultRateBps is the commission rate offered to referrers in basis
	// points (default: 5000, i.e. 50%).
	DefaultRateBps int `json:"default_rate_bps" mapstructure:"default_rate_bps" yaml:"default_rate_bps"`

	// DefaultDurationMonths is the commission window after activation
	// (default: 24).
	DefaultDurationMonths int `json:"default_duration_months" mapstructure:"default_duration_months" yaml:"default_duration_months"`

	// ExpirySweepInterval enables the background expiry sweep when positive.
	ExpirySweepInterval time.Duration `json:"expiry_sweep_interval" mapstructure:"expiry_sweep_interval" yaml:"expiry_sweep_interval"`

	// ExpirySweepBatchSize is how many referrals one sweep pass expires (default: 100).
	ExpirySweepBatchSize int `json:"expiry_sweep_batch_size" mapstructure:"expiry_sweep_batch_size" yaml:"expiry_sweep_batch_size"`

	// WebhookSecret is the processor's endpoint signing secret. Webhook
	// intake is disabled when empty.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// WebhookTolerance is the allowed signature age (default: 5m).
	WebhookTolerance time.Duration `json:"webhook_tolerance" mapstructure:"webhook_tolerance" yaml:"webhook_tolerance"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:              "/referral",
		CodeLength:            8,
		MaxUniqueRetries:      5,
		DefaultRateBps:        5000,
		DefaultDurationMonths: 24,
		ExpirySweepBatchSize:  100,
		WebhookTolerance:      5 * time.Minute,
	}
}
