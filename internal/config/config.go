// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. Command-line flags override it.
type Config struct {
	DBPath    string `env:"CANON_DB_PATH" envDefault:"./canon.db"`
	QueueDSN  string `env:"CANON_QUEUE_DSN" envDefault:"memory://"`
	ModelsDir string `env:"CANON_MODELS_DIR" envDefault:"./models"`

	StageWorkers     int           `env:"CANON_STAGE_WORKERS" envDefault:"1"`
	ScheduleInterval time.Duration `env:"CANON_SCHEDULE_INTERVAL" envDefault:"30s"`
	LeaseTimeout     time.Duration `env:"CANON_LEASE_TIMEOUT" envDefault:"30s"`

	RetryBaseDelay   time.Duration `env:"CANON_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay    time.Duration `env:"CANON_RETRY_MAX_DELAY" envDefault:"5m"`
	MaxRetryAttempts int           `env:"CANON_MAX_RETRY_ATTEMPTS" envDefault:"5"`

	LogFormat string `env:"CANON_LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"CANON_LOG_LEVEL" envDefault:"info"`
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.StageWorkers < 1 {
		return fmt.Errorf("CANON_STAGE_WORKERS must be at least 1, got %d", c.StageWorkers)
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("CANON_MAX_RETRY_ATTEMPTS must be at least 1, got %d", c.MaxRetryAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base <= max, got base=%s max=%s", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != FormatText && c.LogFormat != FormatJSON {
		return fmt.Errorf("CANON_LOG_FORMAT must be %q or %q, got %q", FormatText, FormatJSON, c.LogFormat)
	}
	return nil
}
