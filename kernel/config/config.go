// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kernel runtime configuration.
//
// Configuration comes from a single YAML file passed explicitly; there
// is no automatic discovery and environment variables never override
// file values. A missing path yields the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for an atom kernel instance.
type Config struct {
	// TickInterval is the wall-clock duration of one kernel tick.
	// Default: 10ms.
	TickInterval time.Duration `yaml:"tick_interval"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`

	// TraceLimit caps how many IPC trace events inspection commands
	// print. Default: 100.
	TraceLimit int `yaml:"trace_limit"`

	// AuditLimit caps how many capability audit entries inspection
	// commands print. Default: 100.
	AuditLimit int `yaml:"audit_limit"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		TickInterval: 10 * time.Millisecond,
		LogLevel:     "info",
		TraceLimit:   100,
		AuditLimit:   100,
	}
}

// Load reads configuration from path, merged over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.TraceLimit < 0 {
		errs = append(errs, fmt.Errorf("trace_limit must be non-negative, got %d", c.TraceLimit))
	}
	if c.AuditLimit < 0 {
		errs = append(errs, fmt.Errorf("audit_limit must be non-negative, got %d", c.AuditLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Level translates LogLevel into a slog level.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
}
