package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. JOBQ_DATABASE_URL maps to the database.url key.
const envPrefix = "JOBQ"

// Load configuration from environment variables.
// Environment variables take precedence over defaults.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for every key so AutomaticEnv picks the
// corresponding environment variables up even when no config file is read.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.handler_timeout", time.Minute)
	v.SetDefault("worker.stale_after", 15*time.Minute)
	v.SetDefault("worker.reap_interval", time.Minute)
	v.SetDefault("worker.default_max_attempts", 5)
	v.SetDefault("worker.backoff_base", time.Second)
	v.SetDefault("worker.backoff_cap", 5*time.Minute)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
}
