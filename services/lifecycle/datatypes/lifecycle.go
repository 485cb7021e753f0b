// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the champion/challenger
// lifecycle service.
//
// The aggregate LifecycleState is persisted as a single JSON document so that
// operators can inspect it directly. Every struct here therefore carries JSON
// tags, and enum-like fields use typed string constants rather than ints.
package datatypes

import (
	"time"
)

// ChallengerStatus tracks where a challenger is in its lifecycle.
type ChallengerStatus string

const (
	// ChallengerTrained is the initial status, set right after training.
	ChallengerTrained ChallengerStatus = "trained"

	// ChallengerShadowTesting means a shadow trial is running for the model.
	ChallengerShadowTesting ChallengerStatus = "shadow_testing"

	// ChallengerPromoted is terminal; the entry becomes the champion slot.
	ChallengerPromoted ChallengerStatus = "promoted"

	// ChallengerRejected is terminal; the entry is dropped from the active list.
	ChallengerRejected ChallengerStatus = "rejected"
)

// TrialStatus is the state of a shadow trial.
type TrialStatus string

const (
	// TrialRunning means the trial is collecting samples until its deadline.
	TrialRunning TrialStatus = "running"

	// TrialPromoted is terminal; the trial ended with a promotion decision.
	TrialPromoted TrialStatus = "completed_promoted"

	// TrialRejected is terminal; the trial ended with a rejection decision.
	TrialRejected TrialStatus = "completed_rejected"

	// TrialFailed is terminal; the trial could not be completed (for example
	// the monitor was unreachable at expiry). Requires operator attention.
	TrialFailed TrialStatus = "failed"
)

// Terminal reports whether the trial can no longer change state.
func (s TrialStatus) Terminal() bool {
	return s != TrialRunning
}

// ModelRecord identifies a trained model artifact.
//
// # Fields
//
//   - Name: unique within the registry.
//   - Version: registry version string, unique per name.
//   - RunID: opaque tracker run reference.
//   - TrainedAt: when training finished.
//   - Metrics: evaluation metrics captured at training time. Keys are a
//     subset of the tracked metric set configured for the system.
type ModelRecord struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	RunID     string             `json:"run_id"`
	TrainedAt time.Time          `json:"trained_at"`
	Metrics   map[string]float64 `json:"metrics"`
}

// DeploymentInfo is what the deployer reports back for a stood-up endpoint.
type DeploymentInfo struct {
	ContainerID string `json:"container_id"`
	Healthy     bool   `json:"healthy"`
}

// ChampionSlot holds the single currently serving model.
//
// At most one slot exists in a LifecycleState, and only the controller's
// promotion transition may replace it.
type ChampionSlot struct {
	Model      ModelRecord     `json:"model"`
	PromotedAt time.Time       `json:"promoted_at"`
	Deployment *DeploymentInfo `json:"deployment,omitempty"`
}

// ChallengerEntry is a candidate model awaiting a promote/reject decision.
type ChallengerEntry struct {
	Model  ModelRecord      `json:"model"`
	Status ChallengerStatus `json:"status"`
}

// MetricSample is one timestamped metric snapshot collected during a
// shadow trial. Samples are append-only and chronological.
type MetricSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// ShadowTrial is a bounded-duration comparison between a challenger and the
// champion under mirrored traffic.
//
// EndsAt is fixed at creation (StartedAt + configured duration) and is never
// extended. At most one running trial may exist per challenger name.
type ShadowTrial struct {
	ID             string          `json:"id"`
	ChallengerName string          `json:"challenger_name"`
	StartedAt      time.Time       `json:"started_at"`
	EndsAt         time.Time       `json:"ends_at"`
	Status         TrialStatus     `json:"status"`
	Deployment     *DeploymentInfo `json:"deployment,omitempty"`
	Samples        []MetricSample  `json:"samples"`
	Error          string          `json:"error,omitempty"`
}

// Remaining returns how long the trial still has to run at the given time.
// Zero or negative means the trial is due.
func (t *ShadowTrial) Remaining(now time.Time) time.Duration {
	return t.EndsAt.Sub(now)
}

// LifecycleState is the aggregate persisted unit.
//
// # Description
//
// The whole champion/challenger world for one deployment: the champion slot
// (nil until the bootstrap promotion), active challengers, shadow trials and
// the last cycle timestamp. The controller owns it exclusively; each cycle
// reads it, mutates it in memory and writes it back once.
type LifecycleState struct {
	Champion     *ChampionSlot     `json:"champion,omitempty"`
	Challengers  []ChallengerEntry `json:"challengers"`
	ShadowTrials []ShadowTrial     `json:"shadow_trials"`
	LastCycleAt  time.Time         `json:"last_cycle_at"`
}

// NewLifecycleState returns an empty state with initialized slices so the
// persisted JSON always carries the full shape.
func NewLifecycleState() *LifecycleState {
	return &LifecycleState{
		Challengers:  make([]ChallengerEntry, 0),
		ShadowTrials: make([]ShadowTrial, 0),
	}
}

// FindChallenger returns a pointer into the challenger list, or nil.
func (s *LifecycleState) FindChallenger(name string) *ChallengerEntry {
	for i := range s.Challengers {
		if s.Challengers[i].Model.Name == name {
			return &s.Challengers[i]
		}
	}
	return nil
}

// RemoveChallenger drops the named challenger from the active list.
// Returns true if an entry was removed.
func (s *LifecycleState) RemoveChallenger(name string) bool {
	for i := range s.Challengers {
		if s.Challengers[i].Model.Name == name {
			s.Challengers = append(s.Challengers[:i], s.Challengers[i+1:]...)
			return true
		}
	}
	return false
}

// RunningTrial returns the running trial for the named challenger, or nil.
func (s *LifecycleState) RunningTrial(name string) *ShadowTrial {
	for i := range s.ShadowTrials {
		if s.ShadowTrials[i].ChallengerName == name && s.ShadowTrials[i].Status == TrialRunning {
			return &s.ShadowTrials[i]
		}
	}
	return nil
}

// RemoveTrial drops a trial by ID. Returns true if an entry was removed.
func (s *LifecycleState) RemoveTrial(id string) bool {
	for i := range s.ShadowTrials {
		if s.ShadowTrials[i].ID == id {
			s.ShadowTrials = append(s.ShadowTrials[:i], s.ShadowTrials[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveTrials returns the trials still in the running state.
func (s *LifecycleState) ActiveTrials() []ShadowTrial {
	active := make([]ShadowTrial, 0, len(s.ShadowTrials))
	for _, trial := range s.ShadowTrials {
		if trial.Status == TrialRunning {
			active = append(active, trial)
		}
	}
	return active
}

// TrainingResult is what the trainer returns for a finished training job.
type TrainingResult struct {
	RunID   string             `json:"run_id"`
	Metrics map[string]float64 `json:"metrics"`
}
