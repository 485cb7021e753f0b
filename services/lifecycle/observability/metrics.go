// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the lifecycle
// service: cycle outcomes, decision counts and shadow trial activity.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "modelcycle"

// Subsystem for lifecycle metrics
const lifecycleSubsystem = "lifecycle"

// LifecycleMetrics holds all Prometheus metrics for the decision engine and
// state machine. Initialize once at startup via InitMetrics().
type LifecycleMetrics struct {
	// CyclesTotal counts controller cycles by outcome.
	// Labels: status (success, error)
	CyclesTotal *prometheus.CounterVec

	// CycleDurationSeconds measures full cycle duration.
	// Labels: status (success, error)
	CycleDurationSeconds *prometheus.HistogramVec

	// DecisionsTotal counts evaluation outcomes.
	// Labels: recommendation (promote_challenger, shadow_test, keep_champion)
	DecisionsTotal *prometheus.CounterVec

	// PromotionsTotal counts completed promotions.
	// Labels: path (direct, shadow, bootstrap)
	PromotionsTotal *prometheus.CounterVec

	// ActiveShadowTrials tracks trials currently running.
	ActiveShadowTrials prometheus.Gauge

	// TrialCompletionsTotal counts terminal trial states.
	// Labels: status (completed_promoted, completed_rejected, failed)
	TrialCompletionsTotal *prometheus.CounterVec

	// ExternalErrorsTotal counts failures per external collaborator.
	// Labels: service (trainer, tracker, deployer, monitor)
	ExternalErrorsTotal *prometheus.CounterVec

	// InconsistenciesTotal counts registry/deployment inconsistencies that
	// need operator remediation.
	InconsistenciesTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of LifecycleMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *LifecycleMetrics

var initOnce sync.Once

// InitMetrics registers all Prometheus metrics on the default registry and
// returns the singleton. Subsequent calls return the same instance.
func InitMetrics() *LifecycleMetrics {
	initOnce.Do(initMetrics)
	return DefaultMetrics
}

func initMetrics() {
	DefaultMetrics = &LifecycleMetrics{
		CyclesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "cycles_total",
				Help:      "Total controller cycles by status",
			},
			[]string{"status"},
		),

		CycleDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Full cycle duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{"status"},
		),

		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "decisions_total",
				Help:      "Evaluation outcomes by recommendation",
			},
			[]string{"recommendation"},
		),

		PromotionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "promotions_total",
				Help:      "Completed promotions by path",
			},
			[]string{"path"},
		),

		ActiveShadowTrials: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "active_shadow_trials",
				Help:      "Number of currently running shadow trials",
			},
		),

		TrialCompletionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "trial_completions_total",
				Help:      "Terminal shadow trial states",
			},
			[]string{"status"},
		),

		ExternalErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "external_errors_total",
				Help:      "External collaborator failures by service",
			},
			[]string{"service"},
		),

		InconsistenciesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "inconsistencies_total",
				Help:      "Registry/deployment inconsistencies requiring operators",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordCycle records a completed cycle and its duration.
func (m *LifecycleMetrics) RecordCycle(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordDecision records an evaluation recommendation.
func (m *LifecycleMetrics) RecordDecision(recommendation string) {
	m.DecisionsTotal.WithLabelValues(recommendation).Inc()
}

// RecordPromotion records a completed promotion by path.
func (m *LifecycleMetrics) RecordPromotion(path string) {
	m.PromotionsTotal.WithLabelValues(path).Inc()
}

// RecordTrialCompletion records a trial reaching a terminal state.
func (m *LifecycleMetrics) RecordTrialCompletion(status string) {
	m.TrialCompletionsTotal.WithLabelValues(status).Inc()
}

// RecordExternalError records a failed external call.
func (m *LifecycleMetrics) RecordExternalError(service string) {
	m.ExternalErrorsTotal.WithLabelValues(service).Inc()
}
