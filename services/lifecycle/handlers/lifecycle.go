// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the lifecycle controller over HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/modelcycle/services/lifecycle/controller"
	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// LifecycleService is the controller surface the handlers consume.
// Satisfied by *controller.Controller.
type LifecycleService interface {
	RunCycle(ctx context.Context, dataPath string) (*datatypes.CycleResult, error)
	GetStatus(ctx context.Context) (*datatypes.StatusReport, error)
	EvaluateChallenger(ctx context.Context, name string) (*datatypes.CycleResult, error)
}

// CycleRequest is the optional body of the cycle endpoint.
type CycleRequest struct {
	// DataPath points the training step at its data. Empty skips training.
	DataPath string `json:"data_path"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// RunCycle triggers one lifecycle cycle.
//
// # Description
//
// POST /v1/lifecycle/cycle. The body is optional; when present it may carry
// data_path to include the training step. Returns 409 when a cycle is
// already running. A completed cycle always returns 200, even when steps
// recorded errors; callers inspect the errors list.
func RunCycle(ctrl LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CycleRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
				return
			}
		}

		result, err := ctrl.RunCycle(c.Request.Context(), req.DataPath)
		if err != nil {
			if errors.Is(err, controller.ErrCycleInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			slog.Error("cycle request failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// GetStatus returns the current champion, challengers and active trials.
//
// GET /v1/lifecycle/status.
func GetStatus(ctrl LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := ctrl.GetStatus(c.Request.Context())
		if err != nil {
			slog.Error("status request failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// EvaluateChallenger evaluates one pending challenger by name.
//
// POST /v1/lifecycle/challengers/:name/evaluate.
func EvaluateChallenger(ctrl LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		result, err := ctrl.EvaluateChallenger(c.Request.Context(), name)
		if err != nil {
			switch {
			case errors.Is(err, controller.ErrChallengerNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, controller.ErrChallengerNotPending),
				errors.Is(err, controller.ErrCycleInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("evaluate request failed", "challenger", name, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
