// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controller orchestrates the champion/challenger lifecycle.
//
// # Description
//
// The controller is the single writer of the persisted LifecycleState and the
// only place with side effects against the external collaborators. Each cycle
// follows a fixed order: advance running shadow trials, optionally train a new
// challenger, evaluate pending challengers, then persist the state exactly
// once. Collaborator failures are recorded as per-step cycle errors and never
// abort the remaining steps; only a state store failure fails the cycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/modelcycle/services/lifecycle/clients"
	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
	"github.com/AleutianAI/modelcycle/services/lifecycle/evaluation"
	"github.com/AleutianAI/modelcycle/services/lifecycle/observability"
	"github.com/AleutianAI/modelcycle/services/lifecycle/shadow"
	"github.com/AleutianAI/modelcycle/services/lifecycle/statestore"
)

var (
	// ErrCycleInProgress indicates another cycle holds the write lock.
	// Callers retry later; cycles are never queued.
	ErrCycleInProgress = errors.New("lifecycle cycle already in progress")

	// ErrChallengerNotFound indicates the named challenger is not in state.
	ErrChallengerNotFound = errors.New("challenger not found")

	// ErrChallengerNotPending indicates the challenger is past the trained
	// status and cannot be evaluated again.
	ErrChallengerNotPending = errors.New("challenger is not pending evaluation")
)

// Promotion paths, used as the metric label and the action detail.
const (
	promotionDirect    = "direct"
	promotionShadow    = "shadow"
	promotionBootstrap = "bootstrap"
)

// Config holds the decision rule inputs the controller shares with the
// evaluation engine and the shadow supervisor.
type Config struct {
	TrackedMetrics        []string
	SignificanceThreshold float64
	ShadowDuration        time.Duration
}

// Deps bundles the controller's collaborators.
//
// Clock, Logger and Metrics may be nil; the real clock, the slog default and
// the shared metrics singleton are used.
type Deps struct {
	Store    statestore.Store
	Trainer  clients.Trainer
	Tracker  clients.Tracker
	Deployer clients.Deployer
	Monitor  clients.Monitor
	Metrics  *observability.LifecycleMetrics
	Clock    shadow.Clock
	Logger   *slog.Logger
}

// Controller runs lifecycle cycles and owns the persisted state.
//
// Thread Safety: safe for concurrent use. A mutex serializes the write
// operations (RunCycle, EvaluateChallenger); concurrent callers get
// ErrCycleInProgress instead of queueing behind a potentially hours-long
// training step.
type Controller struct {
	store    statestore.Store
	trainer  clients.Trainer
	tracker  clients.Tracker
	deployer clients.Deployer
	monitor  clients.Monitor
	metrics  *observability.LifecycleMetrics
	clock    shadow.Clock

	engine     *evaluation.Engine
	supervisor *shadow.Supervisor

	config Config
	tracer trace.Tracer
	logger *slog.Logger

	mu sync.Mutex
}

// NewController wires a controller from its collaborators.
func NewController(deps Deps, config Config) *Controller {
	if deps.Clock == nil {
		deps.Clock = shadow.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.InitMetrics()
	}
	engine := evaluation.NewEngine(deps.Logger)
	supervisor := shadow.NewSupervisor(deps.Deployer, engine, deps.Clock, shadow.Config{
		Duration:              config.ShadowDuration,
		TrackedMetrics:        config.TrackedMetrics,
		SignificanceThreshold: config.SignificanceThreshold,
	}, deps.Logger)

	return &Controller{
		store:      deps.Store,
		trainer:    deps.Trainer,
		tracker:    deps.Tracker,
		deployer:   deps.Deployer,
		monitor:    deps.Monitor,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		engine:     engine,
		supervisor: supervisor,
		config:     config,
		tracer:     otel.Tracer("modelcycle/lifecycle"),
		logger:     deps.Logger,
	}
}

// RunCycle executes one full lifecycle cycle.
//
// # Description
//
// Steps, in order: advance running shadow trials (sample, complete, promote
// or clean up), train a new challenger when dataPath is non-empty, evaluate
// every challenger still in the trained status, then persist the mutated
// state once. Step failures become CycleError entries in the result; the
// cycle only returns a non-nil error when the state could not be loaded or
// saved, or when another cycle is already running.
//
// # Inputs
//
//   - ctx: Cancels in-flight collaborator calls.
//   - dataPath: Training data location. Empty skips the training step.
//
// # Outputs
//
//   - *datatypes.CycleResult: Audit record of everything the cycle did.
//   - error: ErrCycleInProgress or a state store failure.
func (c *Controller) RunCycle(ctx context.Context, dataPath string) (*datatypes.CycleResult, error) {
	if !c.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "lifecycle.run_cycle")
	defer span.End()

	started := c.clock.Now()
	result := &datatypes.CycleResult{
		CycleID:   uuid.New().String(),
		StartedAt: started,
		Actions:   make([]datatypes.Action, 0),
		Errors:    make([]datatypes.CycleError, 0),
	}
	span.SetAttributes(attribute.String("cycle.id", result.CycleID))
	c.logger.Info("lifecycle cycle started", "cycle_id", result.CycleID, "data_path", dataPath)

	state, err := c.loadState(ctx)
	if err != nil {
		c.metrics.RecordCycle(false, c.clock.Now().Sub(started).Seconds())
		return nil, err
	}

	c.advanceTrials(ctx, state, result)

	if dataPath != "" {
		c.trainChallenger(ctx, state, dataPath, result)
	}

	c.evaluatePending(ctx, state, result)

	state.LastCycleAt = c.clock.Now()
	if err := c.store.Save(ctx, state); err != nil {
		c.metrics.RecordCycle(false, c.clock.Now().Sub(started).Seconds())
		return nil, fmt.Errorf("save lifecycle state: %w", err)
	}

	result.EndedAt = c.clock.Now()
	c.metrics.RecordCycle(!result.HasErrors(), result.EndedAt.Sub(started).Seconds())
	c.metrics.ActiveShadowTrials.Set(float64(len(state.ActiveTrials())))
	c.logger.Info("lifecycle cycle finished",
		"cycle_id", result.CycleID,
		"actions", len(result.Actions),
		"errors", len(result.Errors),
	)
	return result, nil
}

// GetStatus returns a read-only snapshot of the persisted state.
func (c *Controller) GetStatus(ctx context.Context) (*datatypes.StatusReport, error) {
	state, err := c.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return &datatypes.StatusReport{
		Champion:     state.Champion,
		Challengers:  state.Challengers,
		ActiveTrials: state.ActiveTrials(),
		LastCycleAt:  state.LastCycleAt,
	}, nil
}

// EvaluateChallenger evaluates a single pending challenger outside the
// regular cycle.
//
// # Description
//
// Same decision path as the cycle's evaluation step, limited to one
// challenger. The challenger must still be in the trained status. State is
// persisted before returning.
//
// # Outputs
//
//   - *datatypes.CycleResult: The actions and errors of the evaluation.
//   - error: ErrCycleInProgress, ErrChallengerNotFound,
//     ErrChallengerNotPending or a state store failure.
func (c *Controller) EvaluateChallenger(ctx context.Context, name string) (*datatypes.CycleResult, error) {
	if !c.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "lifecycle.evaluate_challenger")
	defer span.End()
	span.SetAttributes(attribute.String("challenger.name", name))

	state, err := c.loadState(ctx)
	if err != nil {
		return nil, err
	}
	challenger := state.FindChallenger(name)
	if challenger == nil {
		return nil, fmt.Errorf("%w: %s", ErrChallengerNotFound, name)
	}
	if challenger.Status != datatypes.ChallengerTrained {
		return nil, fmt.Errorf("%w: %s is %s", ErrChallengerNotPending, name, challenger.Status)
	}

	result := &datatypes.CycleResult{
		CycleID:   uuid.New().String(),
		StartedAt: c.clock.Now(),
		Actions:   make([]datatypes.Action, 0),
		Errors:    make([]datatypes.CycleError, 0),
	}
	c.evaluateOne(ctx, state, name, result)

	if err := c.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save lifecycle state: %w", err)
	}
	result.EndedAt = c.clock.Now()
	return result, nil
}

// ============================================================================
// Cycle steps
// ============================================================================

// advanceTrials samples every running trial and completes the ones past
// their deadline.
func (c *Controller) advanceTrials(ctx context.Context, state *datatypes.LifecycleState, result *datatypes.CycleResult) {
	// Collect IDs first; completions mutate the trial list.
	ids := make([]string, 0, len(state.ShadowTrials))
	for _, trial := range state.ActiveTrials() {
		ids = append(ids, trial.ID)
	}

	for _, id := range ids {
		trial := findTrial(state, id)
		if trial == nil || trial.Status != datatypes.TrialRunning {
			continue
		}
		c.advanceTrial(ctx, state, trial, result)
	}
}

// advanceTrial samples one trial and, when due, runs its completion.
func (c *Controller) advanceTrial(ctx context.Context, state *datatypes.LifecycleState, trial *datatypes.ShadowTrial, result *datatypes.CycleResult) {
	name := trial.ChallengerName
	due := trial.Remaining(c.clock.Now()) <= 0

	snapshot, err := c.monitor.SnapshotMetrics(ctx, name, clients.RoleShadow)
	if err != nil {
		c.recordStepError(result, "shadow_monitoring", err)
		if !due {
			return
		}
		// Cannot complete a due trial without the monitor. The trial fails
		// and the challenger is kept for manual intervention.
		c.supervisor.MarkFailed(trial, fmt.Errorf("monitor unavailable at trial expiry: %w", err))
		c.metrics.RecordTrialCompletion(string(datatypes.TrialFailed))
		return
	}
	if err := c.supervisor.RecordSample(trial, snapshot); err != nil {
		c.recordStepError(result, "shadow_monitoring", err)
		return
	}
	result.Actions = append(result.Actions, datatypes.Action{
		Type:       datatypes.ActionShadowMonitoring,
		Challenger: name,
		Detail:     fmt.Sprintf("sample %d recorded", len(trial.Samples)),
	})
	if !due {
		return
	}

	championMetrics, err := c.championLiveMetrics(ctx, state)
	if err != nil {
		c.recordStepError(result, "shadow_completion", err)
		c.supervisor.MarkFailed(trial, fmt.Errorf("champion metrics unavailable at trial expiry: %w", err))
		c.metrics.RecordTrialCompletion(string(datatypes.TrialFailed))
		return
	}

	completion, err := c.supervisor.Tick(trial, championMetrics)
	if err != nil || completion == nil {
		if err != nil {
			c.recordStepError(result, "shadow_completion", err)
		}
		return
	}
	c.metrics.RecordTrialCompletion(string(completion.Status))
	c.finishTrial(ctx, state, trial, completion, result)
}

// finishTrial applies the side effects of a completed trial: promotion or
// rejection, shadow cleanup, and removal of the trial record.
func (c *Controller) finishTrial(ctx context.Context, state *datatypes.LifecycleState, trial *datatypes.ShadowTrial, completion *shadow.CompletionResult, result *datatypes.CycleResult) {
	name := trial.ChallengerName
	comparison := completion.Evaluation

	if err := c.deployer.CleanupShadow(ctx, name); err != nil {
		// Leaked shadow deployments waste capacity but never block the
		// decision. Recorded for the operator.
		c.recordStepError(result, "shadow_cleanup", err)
	}

	switch completion.Status {
	case datatypes.TrialPromoted:
		result.Actions = append(result.Actions, datatypes.Action{
			Type:       datatypes.ActionShadowPromoted,
			Challenger: name,
			Comparison: &comparison,
		})
		challenger := state.FindChallenger(name)
		if challenger == nil {
			c.recordStepError(result, "shadow_completion",
				fmt.Errorf("%w: %s won its trial but is missing from state", ErrChallengerNotFound, name))
			break
		}
		if !c.promote(ctx, state, challenger.Model, promotionShadow, result) {
			// The registry refused the transition. The winner goes back to
			// the pending queue so the next cycle retries instead of leaving
			// it stuck in the shadow-testing status with no trial.
			challenger.Status = datatypes.ChallengerTrained
			c.logger.Warn("promotion aborted after won trial, challenger requeued",
				"challenger", name)
		}

	case datatypes.TrialRejected:
		result.Actions = append(result.Actions, datatypes.Action{
			Type:       datatypes.ActionShadowRejected,
			Challenger: name,
			Comparison: &comparison,
		})
		if challenger := state.FindChallenger(name); challenger != nil {
			challenger.Status = datatypes.ChallengerRejected
		}
		state.RemoveChallenger(name)
		c.logger.Info("challenger rejected after shadow trial", "challenger", name)
	}

	state.RemoveTrial(trial.ID)
}

// trainChallenger runs the training step and registers the produced model
// as a new challenger.
func (c *Controller) trainChallenger(ctx context.Context, state *datatypes.LifecycleState, dataPath string, result *datatypes.CycleResult) {
	now := c.clock.Now()
	name := fmt.Sprintf("challenger_%s", now.Format("20060102_150405"))

	training, err := c.trainer.TrainChallenger(ctx, dataPath, name)
	if err != nil {
		c.recordStepError(result, "challenger_training", err)
		return
	}

	version, err := c.tracker.RegisterModel(ctx, training.RunID, name, map[string]string{
		"role":       "challenger",
		"trained_by": "modelcycle",
	})
	if err != nil {
		c.recordStepError(result, "challenger_training", err)
		return
	}

	metrics := training.Metrics
	if len(metrics) == 0 {
		// Some trainers log metrics to the tracker instead of returning them.
		metrics, err = c.tracker.GetMetrics(ctx, training.RunID)
		if err != nil {
			c.recordStepError(result, "challenger_training", err)
			return
		}
	}

	state.Challengers = append(state.Challengers, datatypes.ChallengerEntry{
		Model: datatypes.ModelRecord{
			Name:      name,
			Version:   version,
			RunID:     training.RunID,
			TrainedAt: now,
			Metrics:   metrics,
		},
		Status: datatypes.ChallengerTrained,
	})
	result.Actions = append(result.Actions, datatypes.Action{
		Type:       datatypes.ActionTrained,
		Challenger: name,
		Detail:     fmt.Sprintf("run %s registered as version %s", training.RunID, version),
	})
	c.logger.Info("challenger trained",
		"challenger", name,
		"run_id", training.RunID,
		"version", version,
	)
}

// evaluatePending evaluates every challenger still awaiting a decision.
func (c *Controller) evaluatePending(ctx context.Context, state *datatypes.LifecycleState, result *datatypes.CycleResult) {
	// Names first; evaluation mutates the challenger list.
	names := make([]string, 0, len(state.Challengers))
	for _, challenger := range state.Challengers {
		if challenger.Status == datatypes.ChallengerTrained {
			names = append(names, challenger.Model.Name)
		}
	}
	for _, name := range names {
		c.evaluateOne(ctx, state, name, result)
	}
}

// evaluateOne applies the decision rule to a single trained challenger.
func (c *Controller) evaluateOne(ctx context.Context, state *datatypes.LifecycleState, name string, result *datatypes.CycleResult) {
	challenger := state.FindChallenger(name)
	if challenger == nil || challenger.Status != datatypes.ChallengerTrained {
		return
	}

	if state.Champion == nil {
		// First model ever: nothing to compare against, it becomes the
		// champion outright.
		result.Actions = append(result.Actions, datatypes.Action{
			Type:       datatypes.ActionEvaluated,
			Challenger: name,
			Detail:     "no champion, bootstrap promotion",
		})
		c.promote(ctx, state, challenger.Model, promotionBootstrap, result)
		return
	}

	comparison := c.engine.Compare(
		state.Champion.Model.Metrics,
		challenger.Model.Metrics,
		c.config.TrackedMetrics,
		c.config.SignificanceThreshold,
	)
	c.metrics.RecordDecision(string(comparison.Recommendation))
	result.Actions = append(result.Actions, datatypes.Action{
		Type:       datatypes.ActionEvaluated,
		Challenger: name,
		Comparison: &comparison,
	})

	switch comparison.Recommendation {
	case datatypes.RecommendPromote:
		c.promote(ctx, state, challenger.Model, promotionDirect, result)

	case datatypes.RecommendShadowTest:
		if _, err := c.supervisor.StartTrial(ctx, state, challenger); err != nil {
			// Deployment failed; the challenger stays trained and the next
			// cycle retries.
			c.recordStepError(result, "shadow_test_start", err)
			return
		}
		// StartTrial appended to the trial list; the challenger pointer is
		// still valid because only trials were mutated.
		challenger.Status = datatypes.ChallengerShadowTesting
		result.Actions = append(result.Actions, datatypes.Action{
			Type:       datatypes.ActionShadowStarted,
			Challenger: name,
		})

	case datatypes.RecommendReject:
		challenger.Status = datatypes.ChallengerRejected
		state.RemoveChallenger(name)
		result.Actions = append(result.Actions, datatypes.Action{
			Type:       datatypes.ActionRejected,
			Challenger: name,
		})
		c.logger.Info("challenger rejected", "challenger", name)
	}
}

// promote executes the champion swap transition.
//
// # Description
//
// Ordered: archive the old champion in the registry, move the winner to the
// production stage, deploy it, then swap the in-memory slot and drop the
// winner from the challenger list. A registry failure before the production
// transition aborts the promotion and leaves the current champion in place.
// A deployment failure after the production transition is recorded as an
// inconsistency (registry says production, serving says otherwise) and is
// never rolled back; the slot still swaps so state matches the registry.
//
// # Outputs
//
//   - bool: true when the slot swapped, false when the promotion aborted
//     before the production transition and the champion is unchanged.
func (c *Controller) promote(ctx context.Context, state *datatypes.LifecycleState, winner datatypes.ModelRecord, path string, result *datatypes.CycleResult) bool {
	if state.Champion != nil {
		old := state.Champion.Model
		if err := c.tracker.TransitionStage(ctx, old.Name, old.Version, clients.StageArchived); err != nil {
			c.recordStepError(result, "promotion", fmt.Errorf("archive champion %s: %w", old.Name, err))
			return false
		}
		c.logger.Info("previous champion archived", "model", old.Name, "version", old.Version)
	}

	if err := c.tracker.TransitionStage(ctx, winner.Name, winner.Version, clients.StageProduction); err != nil {
		c.recordStepError(result, "promotion", fmt.Errorf("transition %s to production: %w", winner.Name, err))
		return false
	}

	var deploymentRef *datatypes.DeploymentInfo
	deployment, err := c.deployer.DeployChampion(ctx, winner.Name, winner.Version)
	if err != nil {
		c.recordStepError(result, "promotion", err)
		result.Errors = append(result.Errors, datatypes.CycleError{
			Step:          "promotion",
			Message:       fmt.Sprintf("%s is in the production stage but not deployed; manual remediation required", winner.Name),
			Inconsistency: true,
		})
		c.metrics.InconsistenciesTotal.Inc()
	} else {
		deploymentRef = &deployment
	}

	state.Champion = &datatypes.ChampionSlot{
		Model:      winner,
		PromotedAt: c.clock.Now(),
		Deployment: deploymentRef,
	}
	state.RemoveChallenger(winner.Name)

	c.metrics.RecordPromotion(path)
	result.Actions = append(result.Actions, datatypes.Action{
		Type:       datatypes.ActionPromoted,
		Challenger: winner.Name,
		Detail:     path,
	})
	c.logger.Info("new champion promoted",
		"model", winner.Name,
		"version", winner.Version,
		"path", path,
		"deployed", deploymentRef != nil,
	)
	return true
}

// ============================================================================
// Helpers
// ============================================================================

// loadState reads the aggregate, starting fresh when nothing is persisted.
func (c *Controller) loadState(ctx context.Context) (*datatypes.LifecycleState, error) {
	state, err := c.store.Load(ctx)
	if errors.Is(err, statestore.ErrStateNotFound) {
		return datatypes.NewLifecycleState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lifecycle state: %w", err)
	}
	return state, nil
}

// championLiveMetrics snapshots the serving champion's current metrics for a
// trial completion. Falls back to training-time metrics when no champion
// deployment exists to observe.
func (c *Controller) championLiveMetrics(ctx context.Context, state *datatypes.LifecycleState) (map[string]float64, error) {
	if state.Champion == nil {
		return nil, errors.New("no champion to compare against")
	}
	if state.Champion.Deployment == nil {
		return state.Champion.Model.Metrics, nil
	}
	return c.monitor.SnapshotMetrics(ctx, state.Champion.Model.Name, clients.RoleChampion)
}

// recordStepError appends a cycle error and bumps the per-service error
// counter when the cause is a collaborator failure.
func (c *Controller) recordStepError(result *datatypes.CycleResult, step string, err error) {
	result.Errors = append(result.Errors, datatypes.CycleError{
		Step:    step,
		Message: err.Error(),
	})
	var serviceErr *clients.ServiceError
	if errors.As(err, &serviceErr) {
		c.metrics.RecordExternalError(serviceErr.Service)
	}
	c.logger.Error("cycle step failed", "step", step, "error", err)
}

func findTrial(state *datatypes.LifecycleState, id string) *datatypes.ShadowTrial {
	for i := range state.ShadowTrials {
		if state.ShadowTrials[i].ID == id {
			return &state.ShadowTrials[i]
		}
	}
	return nil
}
