package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural problems: enum
// fields hold known values, numeric fields sit in range, and each
// selected backend carries the settings it needs.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Backend-conditional requirements the struct tags cannot express.
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if cfg.Autoscale.MaxWorkers < cfg.Autoscale.MinWorkers {
		return fmt.Errorf("autoscale: max_workers (%d) is below min_workers (%d)",
			cfg.Autoscale.MaxWorkers, cfg.Autoscale.MinWorkers)
	}
	if cfg.Autoscale.Enabled && cfg.Queue.External() {
		return fmt.Errorf("autoscale: not available with the %s queue backend; size queue.consumers instead",
			cfg.Queue.Backend)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry: profiling endpoint is required when profiling is enabled")
	}

	return nil
}
