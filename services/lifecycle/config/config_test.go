// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: 9090
evaluation:
  tracked_metrics: [accuracy, f1_score, precision]
  significance_threshold: 0.05
shadow:
  duration: 72h
cycle:
  enabled: true
  interval: 30m
state:
  path: /var/lib/modelcycle
services:
  trainer_url: http://trainer:8001
  tracker_url: http://tracker:5000
  deployer_url: http://deployer:8002
  monitor_url: http://monitor:8003
  timeout: 45s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"accuracy", "f1_score", "precision"}, cfg.Evaluation.TrackedMetrics)
	assert.InDelta(t, 0.05, cfg.Evaluation.SignificanceThreshold, 1e-9)
	assert.Equal(t, 72*time.Hour, cfg.Shadow.Duration.Std())
	assert.True(t, cfg.Cycle.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Cycle.Interval.Std())
	assert.Equal(t, "/var/lib/modelcycle", cfg.State.Path)
	assert.Equal(t, "http://monitor:8003", cfg.Services.MonitorURL)
	assert.Equal(t, 45*time.Second, cfg.Services.Timeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODELCYCLE_PORT", "7777")
	t.Setenv("MODELCYCLE_STATE_PATH", "/tmp/override")
	t.Setenv("MODELCYCLE_TRACKER_URL", "http://tracker-override:5000")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "/tmp/override", cfg.State.Path)
	assert.Equal(t, "http://tracker-override:5000", cfg.Services.TrackerURL)
	// Untouched values stay from the file.
	assert.Equal(t, "http://trainer:8001", cfg.Services.TrainerURL)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadDurationFails(t *testing.T) {
	path := writeConfig(t, `
shadow:
  duration: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_MissingServiceURLFails(t *testing.T) {
	path := writeConfig(t, `
evaluation:
  tracked_metrics: [accuracy]
  significance_threshold: 0.02
services:
  trainer_url: http://trainer:8001
  tracker_url: http://tracker:5000
  deployer_url: http://deployer:8002
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_EmptyMetricsFails(t *testing.T) {
	path := writeConfig(t, `
evaluation:
  tracked_metrics: []
  significance_threshold: 0.02
services:
  trainer_url: http://trainer:8001
  tracker_url: http://tracker:5000
  deployer_url: http://deployer:8002
  monitor_url: http://monitor:8003
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_SchedulerNeedsInterval(t *testing.T) {
	cfg := Default()
	cfg.Services = ServicesConfig{
		TrainerURL:  "http://trainer:8001",
		TrackerURL:  "http://tracker:5000",
		DeployerURL: "http://deployer:8002",
		MonitorURL:  "http://monitor:8003",
	}
	cfg.Cycle.Enabled = true
	cfg.Cycle.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle.interval")
}

func TestDefault_IsInternallyConsistent(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 48*time.Hour, cfg.Shadow.Duration.Std())
	assert.NotEmpty(t, cfg.Evaluation.TrackedMetrics)
	assert.Greater(t, cfg.Evaluation.SignificanceThreshold, 0.0)
	assert.False(t, cfg.Cycle.Enabled)
}
