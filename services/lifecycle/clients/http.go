// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// DefaultTimeout bounds a single external call. Training is the exception
// and gets no client-side deadline beyond the caller's context.
const DefaultTimeout = 30 * time.Second

// restClient is the shared plumbing for all four service clients.
type restClient struct {
	service string
	baseURL string
	http    *http.Client
}

func newRESTClient(service, baseURL string, httpClient *http.Client) restClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return restClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// doJSON performs a JSON request and decodes the response into out (when
// out is non-nil). Any failure comes back as a *ServiceError.
func (c *restClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ServiceError{Service: c.service, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ServiceError{Service: c.service, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Service: c.service, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Keep a short excerpt of the body for the error report.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServiceError{
			Service: c.service,
			Op:      op,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Service: c.service, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// =============================================================================
// Trainer
// =============================================================================

// HTTPTrainer talks to the training service.
type HTTPTrainer struct {
	rest restClient
}

// NewHTTPTrainer creates a trainer client. httpClient may be nil; training
// requests intentionally get a client without a fixed timeout so the
// caller's context governs how long the job may run.
func NewHTTPTrainer(baseURL string, httpClient *http.Client) *HTTPTrainer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTrainer{rest: newRESTClient("trainer", baseURL, httpClient)}
}

type trainRequest struct {
	DataPath string `json:"data_path"`
	Name     string `json:"name"`
}

func (t *HTTPTrainer) TrainChallenger(ctx context.Context, dataPath, name string) (datatypes.TrainingResult, error) {
	var result datatypes.TrainingResult
	err := t.rest.doJSON(ctx, "TrainChallenger", http.MethodPost, "/v1/train",
		trainRequest{DataPath: dataPath, Name: name}, &result)
	if err != nil {
		return datatypes.TrainingResult{}, err
	}
	return result, nil
}

// =============================================================================
// Tracker
// =============================================================================

// HTTPTracker talks to the run registry service.
type HTTPTracker struct {
	rest restClient
}

func NewHTTPTracker(baseURL string, httpClient *http.Client) *HTTPTracker {
	return &HTTPTracker{rest: newRESTClient("tracker", baseURL, httpClient)}
}

type registerModelRequest struct {
	RunID string            `json:"run_id"`
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type registerModelResponse struct {
	Version string `json:"version"`
}

func (t *HTTPTracker) RegisterModel(ctx context.Context, runID, name string, tags map[string]string) (string, error) {
	var resp registerModelResponse
	err := t.rest.doJSON(ctx, "RegisterModel", http.MethodPost, "/v1/models",
		registerModelRequest{RunID: runID, Name: name, Tags: tags}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

type transitionStageRequest struct {
	Stage Stage `json:"stage"`
}

func (t *HTTPTracker) TransitionStage(ctx context.Context, name, version string, stage Stage) error {
	path := fmt.Sprintf("/v1/models/%s/versions/%s/stage", url.PathEscape(name), url.PathEscape(version))
	return t.rest.doJSON(ctx, "TransitionStage", http.MethodPost, path,
		transitionStageRequest{Stage: stage}, nil)
}

type runMetricsResponse struct {
	Metrics map[string]float64 `json:"metrics"`
}

func (t *HTTPTracker) GetMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	var resp runMetricsResponse
	path := fmt.Sprintf("/v1/runs/%s/metrics", url.PathEscape(runID))
	if err := t.rest.doJSON(ctx, "GetMetrics", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

// =============================================================================
// Deployer
// =============================================================================

// HTTPDeployer talks to the container deployment service.
type HTTPDeployer struct {
	rest restClient
}

func NewHTTPDeployer(baseURL string, httpClient *http.Client) *HTTPDeployer {
	return &HTTPDeployer{rest: newRESTClient("deployer", baseURL, httpClient)}
}

type deployRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (d *HTTPDeployer) DeployChampion(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error) {
	var info datatypes.DeploymentInfo
	err := d.rest.doJSON(ctx, "DeployChampion", http.MethodPost, "/v1/deployments/champion",
		deployRequest{Name: name, Version: version}, &info)
	return info, err
}

func (d *HTTPDeployer) DeployShadow(ctx context.Context, name, version string) (datatypes.DeploymentInfo, error) {
	var info datatypes.DeploymentInfo
	err := d.rest.doJSON(ctx, "DeployShadow", http.MethodPost, "/v1/deployments/shadow",
		deployRequest{Name: name, Version: version}, &info)
	return info, err
}

func (d *HTTPDeployer) CleanupShadow(ctx context.Context, name string) error {
	path := "/v1/deployments/shadow/" + url.PathEscape(name)
	return d.rest.doJSON(ctx, "CleanupShadow", http.MethodDelete, path, nil, nil)
}

// =============================================================================
// Monitor
// =============================================================================

// HTTPMonitor talks to the metric aggregation service.
type HTTPMonitor struct {
	rest restClient
}

func NewHTTPMonitor(baseURL string, httpClient *http.Client) *HTTPMonitor {
	return &HTTPMonitor{rest: newRESTClient("monitor", baseURL, httpClient)}
}

type snapshotResponse struct {
	Metrics map[string]float64 `json:"metrics"`
}

func (m *HTTPMonitor) SnapshotMetrics(ctx context.Context, modelName string, role Role) (map[string]float64, error) {
	var resp snapshotResponse
	path := fmt.Sprintf("/v1/metrics/%s?role=%s", url.PathEscape(modelName), url.QueryEscape(string(role)))
	if err := m.rest.doJSON(ctx, "SnapshotMetrics", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}
