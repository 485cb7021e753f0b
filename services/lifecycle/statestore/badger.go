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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/modelcycle/services/lifecycle/datatypes"
)

// stateKey is the single key the aggregate lives under.
const stateKey = "lifecycle/state"

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for the database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites forces every Save to reach disk before returning.
	// Default: true for production configs.
	SyncWrites bool

	// Logger receives BadgerDB's own log lines. If nil, badger's internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable, synced writes.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a test configuration with no disk I/O.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the durable Store implementation.
//
// Thread Safety: safe for concurrent use. BadgerDB holds an exclusive flock
// on the directory, so a second process cannot open the same store.
type BadgerStore struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

// Open creates and opens a badger-backed store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerStore: The opened store. Caller must Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot be
//     opened (including when another process holds the directory lock).
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent state store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load reads and decodes the aggregate.
func (s *BadgerStore) Load(ctx context.Context) (*datatypes.LifecycleState, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var state datatypes.LifecycleState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrStateNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load lifecycle state: %w", err)
	}
	return &state, nil
}

// Save encodes and atomically replaces the aggregate.
func (s *BadgerStore) Save(ctx context.Context, state *datatypes.LifecycleState) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	// Indented so the stored document stays readable in a key dump.
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lifecycle state: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), payload)
	})
	if err != nil {
		return fmt.Errorf("save lifecycle state: %w", err)
	}
	return nil
}

// Close closes the underlying database. Safe to call multiple times.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// guard checks the context and the closed flag before a database call.
func (s *BadgerStore) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
