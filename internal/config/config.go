package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// LoggerConfig contains logging related settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// WorkerConfig contains the worker pool and queue policy settings.
type WorkerConfig struct {
	// Count is the number of concurrent workers (the pool's admission ceiling).
	Count int `mapstructure:"count" validate:"required,gt=0,lte=1024"`

	// PollInterval is how long an idle worker sleeps when no job is eligible.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`

	// HandlerTimeout bounds a single handler execution.
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"required,gt=0"`

	// StaleAfter is how long a job may stay claimed without finishing before
	// the reaper assumes its worker crashed and requeues it.
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"required,gt=0"`

	// ReapInterval is how often the reaper scans for stale claims.
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"required,gt=0"`

	// DefaultMaxAttempts applies to jobs enqueued without an explicit ceiling.
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gt=0"`

	// BackoffBase and BackoffCap parameterize the retry delay curve
	// min(base * 2^(attempts-1), cap).
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"required,gt=0"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"  validate:"required,gtefield=BackoffBase"`

	// ShutdownTimeout bounds how long a graceful Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}
