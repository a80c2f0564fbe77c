package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Engine tuning
	if c.Engine.SweepInterval <= 0 {
		errs = append(errs, "ENGINE_SWEEP_INTERVAL must be positive")
	}
	if c.Engine.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("ENGINE_RETENTION_DAYS must be at least 1, got %d", c.Engine.RetentionDays))
	}
	if c.Engine.RetentionInterval <= 0 {
		errs = append(errs, "ENGINE_RETENTION_INTERVAL must be positive")
	}
	if c.Engine.CheckRateLimit < 1 {
		errs = append(errs, fmt.Sprintf("ENGINE_CHECK_RATE_LIMIT must be at least 1, got %d", c.Engine.CheckRateLimit))
	}
	if c.Engine.CheckRateWindow <= 0 {
		errs = append(errs, "ENGINE_CHECK_RATE_WINDOW must be positive")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
