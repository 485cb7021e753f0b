// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shadow runs the bounded-duration shadow trials that compare a
// challenger against the champion under mirrored traffic.
//
// The supervisor owns the trial state machine (Running -> terminal) and the
// sample math; it deliberately does not promote models or clean up
// deployments. Completions are returned to the controller, which keeps all
// side effects in one place.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/modelcycle/services/lifecycle/clients"
	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
	"github.com/AleutianAI/modelcycle/services/lifecycle/evaluation"
)

var (
	// ErrTrialAlreadyRunning indicates a second trial was requested for a
	// challenger that already has a running one. Checked before any mutation.
	ErrTrialAlreadyRunning = errors.New("shadow trial already running for challenger")

	// ErrTrialNotRunning indicates a sample was recorded against a trial
	// that has already reached a terminal state. Reported, not fatal: cycles
	// can race with trial expiry.
	ErrTrialNotRunning = errors.New("shadow trial is not running")
)

// Config holds the trial parameters shared by every trial the supervisor
// starts.
type Config struct {
	// Duration is the fixed trial length. EndsAt = StartedAt + Duration,
	// never extended.
	Duration time.Duration

	// TrackedMetrics is the evaluation metric set.
	TrackedMetrics []string

	// SignificanceThreshold is the relative improvement required for a
	// metric to count as significant.
	SignificanceThreshold float64
}

// CompletionResult is what Tick returns when a trial reaches its deadline.
type CompletionResult struct {
	// Status is the terminal status the trial moved to.
	Status datatypes.TrialStatus

	// Averaged is the per-metric arithmetic mean across collected samples.
	Averaged map[string]float64

	// Evaluation is the comparison against the champion's metrics.
	Evaluation datatypes.ComparisonResult
}

// Supervisor advances shadow trials over time.
//
// Thread Safety: not safe for concurrent use; the controller serializes
// cycles, and the supervisor only runs inside a cycle.
type Supervisor struct {
	deployer clients.Deployer
	engine   *evaluation.Engine
	clock    Clock
	config   Config
	logger   *slog.Logger
}

// NewSupervisor creates a trial supervisor.
//
// # Inputs
//
//   - deployer: Used to stand up shadow deployments when trials start.
//   - engine: Evaluation engine invoked at trial completion.
//   - clock: Time source. Use NewRealClock() outside tests.
//   - config: Trial duration and evaluation parameters.
//   - logger: May be nil (slog default used).
func NewSupervisor(deployer clients.Deployer, engine *evaluation.Engine, clock Clock, config Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		deployer: deployer,
		engine:   engine,
		clock:    clock,
		config:   config,
		logger:   logger,
	}
}

// StartTrial begins a shadow trial for the challenger and appends it to the
// state's trial list.
//
// # Description
//
// Fails with ErrTrialAlreadyRunning if the state already holds a running
// trial for the challenger name; the invariant is checked before the shadow
// deployment is requested, so a failed call leaves state untouched. On
// deployment failure the error propagates and no trial is created (the
// challenger stays in its current status).
//
// # Outputs
//
//   - *datatypes.ShadowTrial: The new running trial (points into state).
//   - error: ErrTrialAlreadyRunning or the deployer's error.
func (s *Supervisor) StartTrial(ctx context.Context, state *datatypes.LifecycleState, challenger *datatypes.ChallengerEntry) (*datatypes.ShadowTrial, error) {
	name := challenger.Model.Name
	if state.RunningTrial(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrialAlreadyRunning, name)
	}

	deployment, err := s.deployer.DeployShadow(ctx, name, challenger.Model.Version)
	if err != nil {
		return nil, fmt.Errorf("deploy shadow for %s: %w", name, err)
	}

	now := s.clock.Now()
	trial := datatypes.ShadowTrial{
		ID:             uuid.New().String(),
		ChallengerName: name,
		StartedAt:      now,
		EndsAt:         now.Add(s.config.Duration),
		Status:         datatypes.TrialRunning,
		Deployment:     &deployment,
		Samples:        make([]datatypes.MetricSample, 0),
	}
	state.ShadowTrials = append(state.ShadowTrials, trial)

	s.logger.Info("shadow trial started",
		"challenger", name,
		"trial_id", trial.ID,
		"ends_at", trial.EndsAt,
		"container_id", deployment.ContainerID,
		"healthy", deployment.Healthy,
	)
	return &state.ShadowTrials[len(state.ShadowTrials)-1], nil
}

// RecordSample appends a metric snapshot to a running trial.
//
// Returns ErrTrialNotRunning when the trial is already terminal. Callers
// report that and move on; it happens when a cycle races trial expiry.
func (s *Supervisor) RecordSample(trial *datatypes.ShadowTrial, snapshot map[string]float64) error {
	if trial.Status != datatypes.TrialRunning {
		return fmt.Errorf("%w: %s is %s", ErrTrialNotRunning, trial.ChallengerName, trial.Status)
	}
	trial.Samples = append(trial.Samples, datatypes.MetricSample{
		Timestamp: s.clock.Now(),
		Metrics:   snapshot,
	})
	return nil
}

// Tick advances a running trial.
//
// # Description
//
// Before the deadline it returns nil and the trial stays running (callers
// should RecordSample first). At or past the deadline it averages the
// collected samples, compares them against the champion's metrics and moves
// the trial to its terminal status. A trial that collected no samples
// produces an empty average, which the engine's N==0 rule turns into a
// rejection.
//
// # Inputs
//
//   - trial: The running trial to advance.
//   - championMetrics: The champion's current metric set.
//
// # Outputs
//
//   - *CompletionResult: Nil while the trial keeps running.
//   - error: ErrTrialNotRunning if the trial is already terminal.
func (s *Supervisor) Tick(trial *datatypes.ShadowTrial, championMetrics map[string]float64) (*CompletionResult, error) {
	if trial.Status != datatypes.TrialRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrTrialNotRunning, trial.ChallengerName, trial.Status)
	}
	now := s.clock.Now()
	if now.Before(trial.EndsAt) {
		return nil, nil
	}

	averaged := averageSamples(trial.Samples)
	comparison := s.engine.Compare(championMetrics, averaged,
		s.config.TrackedMetrics, s.config.SignificanceThreshold)

	status := datatypes.TrialRejected
	if comparison.Recommendation == datatypes.RecommendPromote {
		status = datatypes.TrialPromoted
	}
	trial.Status = status

	s.logger.Info("shadow trial completed",
		"challenger", trial.ChallengerName,
		"trial_id", trial.ID,
		"samples", len(trial.Samples),
		"status", status,
		"recommendation", comparison.Recommendation,
	)
	return &CompletionResult{
		Status:     status,
		Averaged:   averaged,
		Evaluation: comparison,
	}, nil
}

// MarkFailed moves a running trial to the failed state with a reason.
// Used by the controller when a trial cannot be advanced (for example the
// monitor is unreachable); the challenger is kept for manual intervention.
func (s *Supervisor) MarkFailed(trial *datatypes.ShadowTrial, cause error) {
	if trial.Status != datatypes.TrialRunning {
		return
	}
	trial.Status = datatypes.TrialFailed
	trial.Error = cause.Error()
	s.logger.Error("shadow trial failed",
		"challenger", trial.ChallengerName,
		"trial_id", trial.ID,
		"error", cause,
	)
}

// averageSamples computes the arithmetic mean per metric. A metric only
// contributes for the samples that carry it.
func averageSamples(samples []datatypes.MetricSample) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, sample := range samples {
		for name, value := range sample.Metrics {
			sums[name] += value
			counts[name]++
		}
	}
	averaged := make(map[string]float64, len(sums))
	for name, sum := range sums {
		averaged[name] = sum / float64(counts[name])
	}
	return averaged
}
