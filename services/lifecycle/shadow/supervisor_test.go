// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shadow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
	"github.com/AleutianAI/modelcycle/services/lifecycle/evaluation"
)

// fakeDeployer implements clients.Deployer with overridable functions.
type fakeDeployer struct {
	deployShadow func(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error)
	cleanups     []string
}

func (f *fakeDeployer) DeployChampion(_ context.Context, name, _ string) (datatypes.DeploymentInfo, error) {
	return datatypes.DeploymentInfo{ContainerID: "champ-" + name, Healthy: true}, nil
}

func (f *fakeDeployer) DeployShadow(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error) {
	if f.deployShadow != nil {
		return f.deployShadow(ctx, name, version)
	}
	return datatypes.DeploymentInfo{ContainerID: "shadow-" + name, Healthy: true}, nil
}

func (f *fakeDeployer) CleanupShadow(_ context.Context, name string) error {
	f.cleanups = append(f.cleanups, name)
	return nil
}

func testSupervisor(clock Clock) (*Supervisor, *fakeDeployer) {
	deployer := &fakeDeployer{}
	engine := evaluation.NewEngine(nil)
	config := Config{
		Duration:              48 * time.Hour,
		TrackedMetrics:        []string{"accuracy", "f1"},
		SignificanceThreshold: 0.01,
	}
	return NewSupervisor(deployer, engine, clock, config, nil), deployer
}

func testChallenger(name string) *datatypes.ChallengerEntry {
	return &datatypes.ChallengerEntry{
		Model: datatypes.ModelRecord{
			Name:    name,
			Version: "1",
			RunID:   "run-" + name,
			Metrics: map[string]float64{"accuracy": 0.91, "f1": 0.89},
		},
		Status: datatypes.ChallengerTrained,
	}
}

// =============================================================================
// StartTrial Tests
// =============================================================================

func TestStartTrial_CreatesRunningTrial(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(t0)
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()

	trial, err := sup.StartTrial(context.Background(), state, testChallenger("cand"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if trial.Status != datatypes.TrialRunning {
		t.Errorf("Expected running status, got %q", trial.Status)
	}
	if !trial.EndsAt.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("Expected ends_at = started_at + 48h, got %v", trial.EndsAt)
	}
	if trial.Deployment == nil || trial.Deployment.ContainerID != "shadow-cand" {
		t.Errorf("Expected shadow deployment info on trial, got %+v", trial.Deployment)
	}
	if len(state.ShadowTrials) != 1 {
		t.Fatalf("Expected 1 trial in state, got %d", len(state.ShadowTrials))
	}
}

func TestStartTrial_SecondTrialRejected(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	challenger := testChallenger("cand")

	if _, err := sup.StartTrial(context.Background(), state, challenger); err != nil {
		t.Fatalf("First StartTrial failed: %v", err)
	}

	_, err := sup.StartTrial(context.Background(), state, challenger)
	if !errors.Is(err, ErrTrialAlreadyRunning) {
		t.Fatalf("Expected ErrTrialAlreadyRunning, got: %v", err)
	}
	// The failed call must leave state unchanged.
	if len(state.ShadowTrials) != 1 {
		t.Errorf("Expected state unchanged with 1 trial, got %d", len(state.ShadowTrials))
	}
}

func TestStartTrial_DeployFailureCreatesNothing(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	sup, deployer := testSupervisor(clock)
	deployer.deployShadow = func(_ context.Context, _, _ string) (datatypes.DeploymentInfo, error) {
		return datatypes.DeploymentInfo{}, fmt.Errorf("container runtime unavailable")
	}
	state := datatypes.NewLifecycleState()

	_, err := sup.StartTrial(context.Background(), state, testChallenger("cand"))
	if err == nil {
		t.Fatal("Expected deployment error to propagate")
	}
	if len(state.ShadowTrials) != 0 {
		t.Errorf("Expected no trial on deploy failure, got %d", len(state.ShadowTrials))
	}
}

// =============================================================================
// RecordSample Tests
// =============================================================================

func TestRecordSample_AppendsChronologically(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(t0)
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	trial, _ := sup.StartTrial(context.Background(), state, testChallenger("cand"))

	for i := 0; i < 3; i++ {
		clock.Advance(1 * time.Hour)
		err := sup.RecordSample(trial, map[string]float64{"accuracy": 0.9})
		if err != nil {
			t.Fatalf("RecordSample %d failed: %v", i, err)
		}
	}

	if len(trial.Samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(trial.Samples))
	}
	for i := 1; i < len(trial.Samples); i++ {
		if !trial.Samples[i].Timestamp.After(trial.Samples[i-1].Timestamp) {
			t.Errorf("Samples not chronological at index %d", i)
		}
	}
}

func TestRecordSample_TerminalTrialRejected(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	sup, _ := testSupervisor(clock)
	trial := &datatypes.ShadowTrial{
		ChallengerName: "cand",
		Status:         datatypes.TrialRejected,
	}

	err := sup.RecordSample(trial, map[string]float64{"accuracy": 0.9})
	if !errors.Is(err, ErrTrialNotRunning) {
		t.Fatalf("Expected ErrTrialNotRunning, got: %v", err)
	}
	if len(trial.Samples) != 0 {
		t.Errorf("Expected no sample appended, got %d", len(trial.Samples))
	}
}

// =============================================================================
// Tick Tests
// =============================================================================

func TestTick_BeforeDeadlineReturnsNothing(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(t0)
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	trial, _ := sup.StartTrial(context.Background(), state, testChallenger("cand"))

	clock.Advance(24 * time.Hour) // halfway through a 48h trial
	completion, err := sup.Tick(trial, map[string]float64{"accuracy": 0.9})
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if completion != nil {
		t.Fatalf("Expected no completion before deadline, got %+v", completion)
	}
	if trial.Status != datatypes.TrialRunning {
		t.Errorf("Expected trial to stay running, got %q", trial.Status)
	}
}

func TestTick_PastDeadlineCompletes(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(t0)
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	trial, _ := sup.StartTrial(context.Background(), state, testChallenger("cand"))

	// Challenger clearly better across the trial.
	clock.Advance(24 * time.Hour)
	_ = sup.RecordSample(trial, map[string]float64{"accuracy": 0.95, "f1": 0.93})
	_ = sup.RecordSample(trial, map[string]float64{"accuracy": 0.97, "f1": 0.95})

	clock.Set(t0.Add(48*time.Hour + time.Second))
	completion, err := sup.Tick(trial, map[string]float64{"accuracy": 0.90, "f1": 0.89})
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if completion == nil {
		t.Fatal("Expected a completion past the deadline")
	}
	if completion.Status != datatypes.TrialPromoted {
		t.Errorf("Expected promoted completion, got %q", completion.Status)
	}
	if trial.Status != datatypes.TrialPromoted {
		t.Errorf("Expected trial status updated, got %q", trial.Status)
	}
	// Mean of 0.95 and 0.97.
	if avg := completion.Averaged["accuracy"]; avg < 0.959 || avg > 0.961 {
		t.Errorf("Expected averaged accuracy ~0.96, got %f", avg)
	}
}

func TestTick_ZeroSamplesRejects(t *testing.T) {
	t0 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(t0)
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	trial, _ := sup.StartTrial(context.Background(), state, testChallenger("cand"))

	clock.Advance(49 * time.Hour)
	completion, err := sup.Tick(trial, map[string]float64{"accuracy": 0.90})
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if completion == nil {
		t.Fatal("Expected a completion")
	}
	if completion.Status != datatypes.TrialRejected {
		t.Errorf("Expected rejection with zero samples, got %q", completion.Status)
	}
	if completion.Evaluation.Comparable != 0 {
		t.Errorf("Expected N=0, got %d", completion.Evaluation.Comparable)
	}
}

func TestTick_TerminalTrialErrors(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	sup, _ := testSupervisor(clock)
	trial := &datatypes.ShadowTrial{
		ChallengerName: "cand",
		Status:         datatypes.TrialFailed,
	}

	_, err := sup.Tick(trial, nil)
	if !errors.Is(err, ErrTrialNotRunning) {
		t.Fatalf("Expected ErrTrialNotRunning, got: %v", err)
	}
}

func TestMarkFailed_KeepsCause(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	sup, _ := testSupervisor(clock)
	state := datatypes.NewLifecycleState()
	trial, _ := sup.StartTrial(context.Background(), state, testChallenger("cand"))

	sup.MarkFailed(trial, fmt.Errorf("monitor unreachable"))
	if trial.Status != datatypes.TrialFailed {
		t.Errorf("Expected failed status, got %q", trial.Status)
	}
	if trial.Error != "monitor unreachable" {
		t.Errorf("Expected cause recorded, got %q", trial.Error)
	}

	// A second call on a terminal trial must not overwrite anything.
	sup.MarkFailed(trial, fmt.Errorf("different cause"))
	if trial.Error != "monitor unreachable" {
		t.Errorf("Expected original cause kept, got %q", trial.Error)
	}
}
