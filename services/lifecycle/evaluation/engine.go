// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluation implements the promote/shadow/reject decision engine.
//
// # Description
//
// The engine is a pure comparison over two metric maps: no I/O, fully
// deterministic, safe to unit test without any infrastructure. Data problems
// (missing metrics, zero baselines) never produce errors; they shrink the
// comparable set and the decision rule degrades toward the conservative
// Reject default.
//
// # Decision Rule
//
// With N comparable metrics, S significant improvements and P positive
// improvements, evaluated in order, first match wins:
//
//  1. N == 0                -> keep_champion (insufficient data)
//  2. S >= ceil(N * 0.5)    -> promote_challenger
//  3. P >= ceil(N * 0.7)    -> shadow_test
//  4. otherwise             -> keep_champion
package evaluation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// Exclusion reasons recorded in ComparisonResult.Excluded.
const (
	excludedZeroBaseline     = "undefined improvement: baseline is zero"
	excludedMissingBaseline  = "metric absent from baseline"
	excludedMissingCandidate = "metric absent from candidate"
)

// Engine compares candidate metrics against a baseline.
//
// Thread Safety: stateless; safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an evaluation engine.
//
// # Inputs
//
//   - logger: Logger for exclusion warnings. May be nil (slog default used).
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Compare evaluates candidate metrics against the baseline over the tracked
// metric set.
//
// # Description
//
// For each tracked metric present in both maps with a non-zero baseline,
// improvement = (candidate - baseline) / baseline. A metric is significant
// when improvement > threshold. Zero-baseline metrics are excluded and
// logged; they are a data quality signal, never a failure.
//
// # Inputs
//
//   - baseline: The champion's metrics.
//   - candidate: The challenger's metrics.
//   - tracked: The configured evaluation metric names.
//   - threshold: Relative improvement required for significance (> 0).
//
// # Outputs
//
//   - datatypes.ComparisonResult: Per-metric table plus the recommendation.
//     Every recommendation is traceable to the table.
//
// # Limitations
//
//   - Improvement assumes higher-is-better metrics; metrics where lower is
//     better (loss) need a direction flag this engine does not yet model.
//   - Negative baselines keep their sign, so the improvement ratio is only
//     meaningful when baseline and candidate share sign conventions.
func (e *Engine) Compare(baseline, candidate map[string]float64, tracked []string, threshold float64) datatypes.ComparisonResult {
	result := datatypes.ComparisonResult{
		Metrics:  make(map[string]datatypes.MetricComparison, len(tracked)),
		Excluded: make(map[string]string),
	}

	// Sorted copy for deterministic exclusion logging.
	names := append([]string(nil), tracked...)
	sort.Strings(names)

	for _, name := range names {
		base, haveBase := baseline[name]
		cand, haveCand := candidate[name]

		switch {
		case !haveBase:
			result.Excluded[name] = excludedMissingBaseline
			continue
		case !haveCand:
			result.Excluded[name] = excludedMissingCandidate
			continue
		case base == 0:
			// The ratio is undefined. Reported, not fatal.
			result.Excluded[name] = excludedZeroBaseline
			e.logger.Warn("metric excluded from comparison",
				"metric", name,
				"reason", "zero baseline",
			)
			continue
		}

		improvement := (cand - base) / base
		row := datatypes.MetricComparison{
			Baseline:    base,
			Candidate:   cand,
			Improvement: improvement,
			Significant: improvement > threshold,
			Reason:      describeImprovement(name, improvement, threshold),
		}
		result.Metrics[name] = row

		result.Comparable++
		if improvement > 0 {
			result.Positive++
		}
		if row.Significant {
			result.Significant++
		}
	}

	result.Recommendation = decide(result.Significant, result.Positive, result.Comparable)
	return result
}

// decide applies the ordered decision rule. Kept separate so the boundary
// arithmetic is trivially testable.
func decide(significant, positive, comparable int) datatypes.Recommendation {
	if comparable == 0 {
		return datatypes.RecommendReject
	}
	// ceil(n*0.5) and ceil(n*0.7) in integer arithmetic; float math would
	// wobble exactly at the boundaries the rule cares about.
	promoteQuorum := (comparable + 1) / 2
	shadowQuorum := (7*comparable + 9) / 10

	if significant >= promoteQuorum {
		return datatypes.RecommendPromote
	}
	if positive >= shadowQuorum {
		return datatypes.RecommendShadowTest
	}
	return datatypes.RecommendReject
}

// describeImprovement renders the human-readable per-metric reason string.
func describeImprovement(name string, improvement, threshold float64) string {
	switch {
	case improvement > threshold:
		return fmt.Sprintf("Significant improvement in %s: %+.2f%%", name, improvement*100)
	case improvement > 0:
		return fmt.Sprintf("Positive improvement in %s: %+.2f%%", name, improvement*100)
	default:
		return fmt.Sprintf("Decline in %s: %+.2f%%", name, improvement*100)
	}
}
