package config

import (
	"errors"
	"time"
)

// ErrNoAPIKeys is returned by RequireWorker when no generation API key is configured.
var ErrNoAPIKeys = errors.New("llm.api_keys must list at least one key to run the worker")

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"`
	LLM        LLMConfig        `mapstructure:"llm"        validate:"required"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" validate:"required"`
	Store      StoreConfig      `mapstructure:"store"      validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects and configures the job store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (embedded, default) or "postgres".
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`

	// Path is the SQLite database file. Used when Driver is sqlite.
	Path string `mapstructure:"path" validate:"required_if=Driver sqlite"`

	// URL is the Postgres connection string. Used when Driver is postgres.
	URL string `mapstructure:"url" validate:"required_if=Driver postgres"`

	// MaxReadConns bounds the read-only connection pool.
	MaxReadConns int `mapstructure:"max_read_conns" validate:"gte=1"`
}

// AuthConfig contains API authentication settings. When JWTSecret is empty
// the HTTP API is served without authentication.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gte=1"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// APIKeys are the interchangeable credentials rotated by the credential pool.
	// Only the worker needs them; see RequireWorker.
	APIKeys []string `mapstructure:"api_keys" validate:"dive,required"`

	ModelName string `mapstructure:"model_name" validate:"required"`

	// PromptTemplatePath overrides the embedded batch prompt template.
	PromptTemplatePath string `mapstructure:"prompt_template_path"`

	CallTimeoutSeconds       int `mapstructure:"call_timeout_seconds"         validate:"gte=1"`
	RateLimitCooldownSeconds int `mapstructure:"rate_limit_cooldown_seconds"  validate:"gte=1"`
	AcquireTimeoutSeconds    int `mapstructure:"acquire_timeout_seconds"      validate:"gte=1"`
	PoolExhaustedBackoffSecs int `mapstructure:"pool_exhausted_backoff_secs"  validate:"gte=1"`
}

// DispatcherConfig controls batching, concurrency and recovery of the worker pool.
type DispatcherConfig struct {
	BatchSize                 int `mapstructure:"batch_size"                   validate:"gte=1,lte=50"`
	WorkerBudget              int `mapstructure:"worker_budget"                validate:"gte=1,lte=256"`
	PollIntervalMillis        int `mapstructure:"poll_interval_millis"         validate:"gte=10"`
	MaxAttempts               int `mapstructure:"max_attempts"                 validate:"gte=1"`
	StaleAfterMinutes         int `mapstructure:"stale_after_minutes"          validate:"gte=1"`
	StaleCheckIntervalSeconds int `mapstructure:"stale_check_interval_seconds" validate:"gte=1"`

	// RecoverOnStart returns every processing job to the queue when the worker
	// starts. Disable it when several workers share one Postgres store.
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

// StoreConfig controls the contention retry policy applied to store writes.
type StoreConfig struct {
	RetryMaxAttempts     int `mapstructure:"retry_max_attempts"      validate:"gte=1,lte=50"`
	RetryBaseDelayMillis int `mapstructure:"retry_base_delay_millis" validate:"gte=1"`
	RetryMaxDelayMillis  int `mapstructure:"retry_max_delay_millis"  validate:"gtefield=RetryBaseDelayMillis"`
}

// CallTimeout returns the per-call deadline for the generation API.
func (c LLMConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// RateLimitCooldown returns how long a throttled credential stays out of rotation.
func (c LLMConfig) RateLimitCooldown() time.Duration {
	return time.Duration(c.RateLimitCooldownSeconds) * time.Second
}

// AcquireTimeout returns how long a batch waits for a credential lease.
func (c LLMConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// PoolBackoff returns how long the dispatcher pauses after the pool is exhausted.
func (c LLMConfig) PoolBackoff() time.Duration {
	return time.Duration(c.PoolExhaustedBackoffSecs) * time.Second
}

// PollInterval returns the idle sleep between poll cycles.
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// StaleAfter returns the staleness threshold for processing jobs.
func (c DispatcherConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// StaleCheckInterval returns how often the poller looks for stale jobs.
func (c DispatcherConfig) StaleCheckInterval() time.Duration {
	return time.Duration(c.StaleCheckIntervalSeconds) * time.Second
}

// RetryBaseDelay returns the first backoff delay for contended writes.
func (c StoreConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMillis) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap for contended writes.
func (c StoreConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMillis) * time.Millisecond
}

// RequireWorker checks the settings that only the generation worker needs.
// Producer and operator commands run without them.
func (c *Config) RequireWorker() error {
	if len(c.LLM.APIKeys) == 0 {
		return ErrNoAPIKeys
	}
	return nil
}
