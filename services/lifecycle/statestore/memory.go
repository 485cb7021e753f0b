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
	"encoding/json"
	"sync"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// MemoryStore keeps the aggregate in memory. For tests and dry runs.
//
// It round-trips through JSON on every call so tests exercise the same
// serialization path as the durable store.
type MemoryStore struct {
	mu  sync.Mutex
	doc []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*datatypes.LifecycleState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrStateNotFound
	}
	var state datatypes.LifecycleState
	if err := json.Unmarshal(s.doc, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *datatypes.LifecycleState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = payload
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
