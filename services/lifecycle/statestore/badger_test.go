// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

func fullState(t *testing.T) *datatypes.LifecycleState {
	t.Helper()
	promotedAt := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	started := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	state := datatypes.NewLifecycleState()
	state.Champion = &datatypes.ChampionSlot{
		Model: datatypes.ModelRecord{
			Name:      "fraud_scorer",
			Version:   "3",
			RunID:     "run-champ",
			TrainedAt: promotedAt.Add(-2 * time.Hour),
			Metrics:   map[string]float64{"accuracy": 0.91, "f1": 0.88},
		},
		PromotedAt: promotedAt,
		Deployment: &datatypes.DeploymentInfo{ContainerID: "c-123", Healthy: true},
	}
	state.Challengers = append(state.Challengers, datatypes.ChallengerEntry{
		Model: datatypes.ModelRecord{
			Name:      "challenger_20250801",
			Version:   "1",
			RunID:     "run-chal",
			TrainedAt: started.Add(-time.Hour),
			Metrics:   map[string]float64{"accuracy": 0.92},
		},
		Status: datatypes.ChallengerShadowTesting,
	})
	state.ShadowTrials = append(state.ShadowTrials, datatypes.ShadowTrial{
		ID:             "trial-1",
		ChallengerName: "challenger_20250801",
		StartedAt:      started,
		EndsAt:         started.Add(48 * time.Hour),
		Status:         datatypes.TrialRunning,
		Deployment:     &datatypes.DeploymentInfo{ContainerID: "c-shadow", Healthy: true},
		Samples: []datatypes.MetricSample{
			{Timestamp: started.Add(time.Hour), Metrics: map[string]float64{"accuracy": 0.93}},
			{Timestamp: started.Add(2 * time.Hour), Metrics: map[string]float64{"accuracy": 0.94}},
		},
	})
	state.LastCycleAt = started.Add(2 * time.Hour)
	return state
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	original := fullState(t)
	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	// No field loss across the round trip.
	assert.Equal(t, original, loaded)
}

func TestBadgerStore_LoadBeforeSave(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestBadgerStore_SaveReplacesDocument(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	state := fullState(t)
	require.NoError(t, store.Save(ctx, state))

	state.RemoveChallenger("challenger_20250801")
	state.LastCycleAt = state.LastCycleAt.Add(time.Hour)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.Challengers)
	assert.Equal(t, state.LastCycleAt, loaded.LastCycleAt)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	original := fullState(t)
	require.NoError(t, store.Save(ctx, original))
	require.NoError(t, store.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestBadgerStore_ClosedStoreRejectsCalls(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	err = store.Save(context.Background(), datatypes.NewLifecycleState())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrStateNotFound)

	original := fullState(t)
	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}
