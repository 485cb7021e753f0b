// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// Recommendation is the aggregate outcome of comparing two metric sets.
type Recommendation string

const (
	// RecommendPromote means the candidate should replace the champion now.
	RecommendPromote Recommendation = "promote_challenger"

	// RecommendShadowTest means the candidate earned a shadow-traffic trial.
	RecommendShadowTest Recommendation = "shadow_test"

	// RecommendReject means the champion stays.
	RecommendReject Recommendation = "keep_champion"
)

// MetricComparison is the per-metric row of a comparison.
//
// Improvement is the relative delta (candidate - baseline) / baseline.
// Significant means the improvement exceeded the configured threshold.
type MetricComparison struct {
	Baseline    float64 `json:"baseline"`
	Candidate   float64 `json:"candidate"`
	Improvement float64 `json:"improvement"`
	Significant bool    `json:"significant"`
	Reason      string  `json:"reason"`
}

// ComparisonResult is the full, explainable output of an evaluation.
//
// # Description
//
// Every recommendation must be traceable to the per-metric table: Metrics
// holds one row per comparable tracked metric, Excluded lists metrics that
// could not be compared (zero baseline or missing on either side), and the
// S/P/N counters are the inputs to the decision rule.
type ComparisonResult struct {
	// Metrics maps metric name to its comparison row.
	Metrics map[string]MetricComparison `json:"metrics"`

	// Excluded lists tracked metrics that were not comparable, with the
	// reason they were dropped.
	Excluded map[string]string `json:"excluded,omitempty"`

	// Comparable is N: the number of metrics that produced a row.
	Comparable int `json:"comparable"`

	// Positive is P: rows with improvement > 0.
	Positive int `json:"positive"`

	// Significant is S: rows with improvement > threshold.
	Significant int `json:"significant"`

	Recommendation Recommendation `json:"recommendation"`
}

// ActionType labels the operations a cycle performed.
type ActionType string

const (
	ActionShadowMonitoring ActionType = "shadow_monitoring"
	ActionShadowStarted    ActionType = "shadow_test_started"
	ActionShadowPromoted   ActionType = "shadow_test_completed_promoted"
	ActionShadowRejected   ActionType = "shadow_test_completed_rejected"
	ActionTrained          ActionType = "challenger_training"
	ActionEvaluated        ActionType = "challenger_evaluation"
	ActionPromoted         ActionType = "promoted_to_champion"
	ActionRejected         ActionType = "challenger_rejected"
)

// Action records one thing a cycle did, with enough context to audit it.
type Action struct {
	Type       ActionType        `json:"type"`
	Challenger string            `json:"challenger,omitempty"`
	Comparison *ComparisonResult `json:"comparison,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// CycleError is a non-fatal error recorded against a cycle step.
type CycleError struct {
	Step    string `json:"step"`
	Message string `json:"message"`

	// Inconsistency flags the registry-says-production-but-not-deployed
	// condition. It is never auto-corrected and needs operator remediation.
	Inconsistency bool `json:"inconsistency,omitempty"`
}

// CycleResult summarizes one controller cycle for the caller.
type CycleResult struct {
	CycleID   string       `json:"cycle_id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Actions   []Action     `json:"actions_taken"`
	Errors    []CycleError `json:"errors"`
}

// HasErrors reports whether any step recorded an error.
func (r *CycleResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// StatusReport is the read-only view returned by the status endpoint.
type StatusReport struct {
	Champion     *ChampionSlot     `json:"champion,omitempty"`
	Challengers  []ChallengerEntry `json:"challengers"`
	ActiveTrials []ShadowTrial     `json:"active_shadow_trials"`
	LastCycleAt  time.Time         `json:"last_cycle_at"`
}
