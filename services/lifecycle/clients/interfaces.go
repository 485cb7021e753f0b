// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients defines the narrow interfaces the lifecycle core consumes
// from its external collaborators (trainer, tracker, deployer, monitor),
// plus HTTP implementations of each.
//
// The controller's decision logic only ever sees these interfaces and the
// typed ServiceError they return; it never depends on transport-level error
// types from a third-party library.
package clients

import (
	"context"
	"fmt"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// Stage is a model registry stage.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// Role distinguishes which deployment a metric snapshot belongs to.
type Role string

const (
	RoleChampion Role = "champion"
	RoleShadow   Role = "shadow"
)

// ServiceError wraps any failure from an external collaborator.
//
// # Description
//
// Carries which service and operation failed so cycle error reports stay
// meaningful after aggregation. Unwrap exposes the transport cause for
// logging, but callers should branch on Service/Op, not the cause type.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Trainer launches training jobs for new challengers.
type Trainer interface {
	// TrainChallenger trains a model on the given data and returns the
	// tracker run ID plus the evaluation metrics captured at training time.
	// Blocking; a cycle may take as long as the training job.
	TrainChallenger(ctx context.Context, dataPath, name string) (datatypes.TrainingResult, error)
}

// Tracker is the experiment/run registry.
type Tracker interface {
	// RegisterModel registers the artifact produced by a run under the given
	// model name and returns the new registry version.
	RegisterModel(ctx context.Context, runID, name string, tags map[string]string) (string, error)

	// TransitionStage moves a model version to a registry stage.
	TransitionStage(ctx context.Context, name, version string, stage Stage) error

	// GetMetrics returns the metrics recorded against a run.
	GetMetrics(ctx context.Context, runID string) (map[string]float64, error)
}

// Deployer stands up and tears down serving endpoints.
type Deployer interface {
	// DeployChampion deploys a model version as the live serving endpoint.
	DeployChampion(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error)

	// DeployShadow deploys a model version behind mirrored traffic.
	DeployShadow(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error)

	// CleanupShadow removes the shadow deployment for a model.
	CleanupShadow(ctx context.Context, name string) error
}

// Monitor aggregates live metrics for deployed models.
type Monitor interface {
	// SnapshotMetrics returns the current aggregated metrics for a model in
	// the given role.
	SnapshotMetrics(ctx context.Context, modelName string, role Role) (map[string]float64, error)
}
