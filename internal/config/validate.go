package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Validate checks the structural validity of a Config. All problems are
// reported together via errors.Join rather than one at a time.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.Server.Bind == "" {
		errs = append(errs, errors.New("config: server.bind is required"))
	} else if _, err := net.ResolveTCPAddr("tcp", cfg.Server.Bind); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid server.bind %q: %w", cfg.Server.Bind, err))
	}

	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("config: database.path is required"))
	}

	if cfg.Executor.Workers < 0 {
		errs = append(errs, fmt.Errorf("config: executor.workers must be >= 0, got %d", cfg.Executor.Workers))
	}
	if cfg.Executor.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("config: executor.queue_size must be >= 0, got %d", cfg.Executor.QueueSize))
	}
	if cfg.Executor.StartsPerSecond < 0 {
		errs = append(errs, errors.New("config: executor.starts_per_second must be >= 0"))
	}

	if cfg.Dispatch.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Dispatch.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("config: invalid dispatch.timezone %q: %w", cfg.Dispatch.Timezone, err))
		}
	}
	if cfg.Dispatch.SweepInterval < 0 {
		errs = append(errs, errors.New("config: dispatch.sweep_interval must be >= 0"))
	}

	return errors.Join(errs...)
}
