// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the lifecycle service configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// for the deployment-specific values (ports, paths, service URLs). A config
// that fails validation aborts startup; nothing else in the service checks
// configuration again.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "48h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full lifecycle service configuration.
//
// Thread Safety: safe to read concurrently. Not safe to modify after Load.
type Config struct {
	// Server contains the HTTP API settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Evaluation contains the decision rule inputs.
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`

	// Shadow contains shadow trial settings.
	Shadow ShadowConfig `json:"shadow" yaml:"shadow"`

	// Cycle contains the optional built-in cycle scheduler settings.
	Cycle CycleConfig `json:"cycle" yaml:"cycle"`

	// State contains state store settings.
	State StateConfig `json:"state" yaml:"state"`

	// Services contains the external collaborator endpoints.
	Services ServicesConfig `json:"services" yaml:"services"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int `json:"port" yaml:"port" validate:"min=1,max=65535"`
}

// EvaluationConfig contains the decision rule inputs.
type EvaluationConfig struct {
	// TrackedMetrics is the evaluation metric set shared by training-time
	// comparison and shadow trial completion.
	TrackedMetrics []string `json:"tracked_metrics" yaml:"tracked_metrics" validate:"required,min=1,dive,required"`

	// SignificanceThreshold is the relative improvement a metric must
	// exceed to count as significant.
	SignificanceThreshold float64 `json:"significance_threshold" yaml:"significance_threshold" validate:"gt=0"`
}

// ShadowConfig contains shadow trial settings.
type ShadowConfig struct {
	// Duration is the fixed trial length.
	Duration Duration `json:"duration" yaml:"duration" validate:"gt=0"`
}

// CycleConfig contains the built-in scheduler settings. The scheduler is
// optional; an external scheduler can drive the cycle endpoint instead.
type CycleConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Interval Duration `json:"interval" yaml:"interval"`
}

// StateConfig contains state store settings.
type StateConfig struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

// ServicesConfig contains the external collaborator endpoints.
type ServicesConfig struct {
	TrainerURL  string   `json:"trainer_url" yaml:"trainer_url" validate:"required,url"`
	TrackerURL  string   `json:"tracker_url" yaml:"tracker_url" validate:"required,url"`
	DeployerURL string   `json:"deployer_url" yaml:"deployer_url" validate:"required,url"`
	MonitorURL  string   `json:"monitor_url" yaml:"monitor_url" validate:"required,url"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 12300},
		Evaluation: EvaluationConfig{
			TrackedMetrics:        []string{"accuracy"},
			SignificanceThreshold: 0.02,
		},
		Shadow: ShadowConfig{Duration: Duration(48 * time.Hour)},
		Cycle: CycleConfig{
			Enabled:  false,
			Interval: Duration(1 * time.Hour),
		},
		State: StateConfig{Path: "state/lifecycle"},
		Services: ServicesConfig{
			Timeout: Duration(30 * time.Second),
		},
	}
}

// Load reads the YAML file at path (when path is non-empty), applies
// environment overrides and validates the result.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Non-nil on unreadable file, bad YAML or failed validation.
//     Treat as fatal at startup.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration with struct tags plus the cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Cycle.Enabled && c.Cycle.Interval <= 0 {
		return fmt.Errorf("invalid configuration: cycle.interval must be positive when the scheduler is enabled")
	}
	return nil
}

// applyEnv applies deployment overrides. Only the values that differ per
// environment are overridable; decision rule inputs stay in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MODELCYCLE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MODELCYCLE_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("MODELCYCLE_TRAINER_URL"); v != "" {
		cfg.Services.TrainerURL = v
	}
	if v := os.Getenv("MODELCYCLE_TRACKER_URL"); v != "" {
		cfg.Services.TrackerURL = v
	}
	if v := os.Getenv("MODELCYCLE_DEPLOYER_URL"); v != "" {
		cfg.Services.DeployerURL = v
	}
	if v := os.Getenv("MODELCYCLE_MONITOR_URL"); v != "" {
		cfg.Services.MonitorURL = v
	}
}
