// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statestore persists the LifecycleState aggregate.
//
// # Description
//
// The whole aggregate is stored as a single indented JSON document under one
// key, so a `badger` dump (or the in-memory test store) is directly
// human-inspectable. Writes are atomic: one transaction, one value, synced
// to disk before Save returns. BadgerDB's exclusive directory lock plus the
// controller's cycle mutex give the single-writer discipline the aggregate
// requires.
package statestore

import (
	"context"
	"errors"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

var (
	// ErrStateNotFound indicates no state document has been persisted yet.
	// Callers typically bootstrap an empty aggregate in response.
	ErrStateNotFound = errors.New("lifecycle state not found")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("state store is closed")
)

// Store is the durable home of the lifecycle aggregate.
//
// Thread Safety: implementations are safe for concurrent use, but the
// aggregate itself follows a read-modify-write cycle owned by a single
// writer; concurrent writers are a design violation, not a supported mode.
type Store interface {
	// Load reads the persisted aggregate. Returns ErrStateNotFound when no
	// document exists yet.
	Load(ctx context.Context) (*datatypes.LifecycleState, error)

	// Save atomically replaces the persisted aggregate.
	Save(ctx context.Context, state *datatypes.LifecycleState) error

	// Close releases the underlying resources. Safe to call multiple times.
	Close() error
}
