// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schedule runs lifecycle cycles on a fixed interval.
//
// The scheduler is optional. Deployments that drive cycles from an external
// workflow engine hit the cycle endpoint instead and never start it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/modelcycle/services/lifecycle/controller"
	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// CycleRunner is the slice of the controller the scheduler needs.
type CycleRunner interface {
	RunCycle(ctx context.Context, dataPath string) (*datatypes.CycleResult, error)
}

// Config holds scheduler settings.
//
// # Fields
//
//   - Interval: How often to run a cycle.
//   - DataPath: Training data location passed to every scheduled cycle.
//     Empty means scheduled cycles only advance trials and evaluations.
type Config struct {
	Interval time.Duration
	DataPath string
}

// Scheduler periodically invokes the lifecycle controller.
//
// # Thread Safety
//
// All public methods are thread-safe. Uses the ticker + done channel pattern
// for graceful shutdown.
type Scheduler struct {
	runner  CycleRunner
	config  Config
	logger  *slog.Logger
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a cycle scheduler. Logger may be nil.
func NewScheduler(runner CycleRunner, config Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins the background cycle loop.
//
// # Description
//
// Starts a goroutine that runs a cycle immediately and then at the
// configured interval, until Stop() is called or the context is cancelled.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running or the interval
//     is not positive.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.config.Interval)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	s.logger.Info("lifecycle scheduler starting",
		"interval", s.config.Interval.String(),
		"data_path", s.config.DataPath,
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the scheduler to stop. Safe to call multiple times. Does not
// interrupt a cycle already in progress.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("lifecycle scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow triggers an immediate cycle without waiting for the next tick.
func (s *Scheduler) RunNow(ctx context.Context) (*datatypes.CycleResult, error) {
	return s.runner.RunCycle(ctx, s.config.DataPath)
}

// runLoop runs cycles at the configured interval until stopped.
func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// First cycle right away so a restart picks up due trials immediately.
	s.executeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle scheduler stopped (context cancelled)")
			return
		case <-s.done:
			s.logger.Info("lifecycle scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCycle(ctx)
		}
	}
}

// executeCycle runs one cycle and keeps the loop alive on failure.
func (s *Scheduler) executeCycle(ctx context.Context) {
	result, err := s.runner.RunCycle(ctx, s.config.DataPath)
	if err != nil {
		// A manually triggered cycle can hold the lock when the tick fires;
		// the next tick retries.
		if errors.Is(err, controller.ErrCycleInProgress) {
			s.logger.Warn("scheduled cycle skipped, another cycle is running")
			return
		}
		s.logger.Error("scheduled cycle failed", "error", err)
		return
	}

	if result.HasErrors() {
		s.logger.Warn("scheduled cycle completed with errors",
			"cycle_id", result.CycleID,
			"actions", len(result.Actions),
			"errors", len(result.Errors),
		)
		return
	}
	s.logger.Debug("scheduled cycle completed",
		"cycle_id", result.CycleID,
		"actions", len(result.Actions),
	)
}
