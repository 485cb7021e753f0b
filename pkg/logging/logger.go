// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for modelcycle services.
//
// Built on the standard library slog package with two destinations:
//
//   - stdout, text or JSON, for container log collection
//   - an optional JSON log file per service and day
//
// # Usage
//
//	logger, closeFn, err := logging.Setup(logging.FromEnv("lifecycle"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closeFn()
//	logger.Info("service starting", "port", port)
//
// Setup also installs the logger as the slog default, so package-level
// slog.Info calls end up in the same destinations.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// ensure tokens and secrets are not logged.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures Setup. The zero value logs Info+ to stdout as text.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Unrecognized values fall back to "info".
	Level string

	// Service is added to every entry as the "service" attribute and used
	// in the log file name.
	Service string

	// JSON switches stdout output to JSON. File output is always JSON.
	JSON bool

	// LogDir enables file logging when non-empty. The file is named
	// "{service}_{YYYY-MM-DD}.log" and the directory is created with 0750
	// permissions if missing.
	LogDir string
}

// FromEnv builds a Config from MODELCYCLE_LOG_LEVEL, MODELCYCLE_LOG_FORMAT
// ("json" or "text") and MODELCYCLE_LOG_DIR.
func FromEnv(service string) Config {
	return Config{
		Level:   os.Getenv("MODELCYCLE_LOG_LEVEL"),
		Service: service,
		JSON:    strings.EqualFold(os.Getenv("MODELCYCLE_LOG_FORMAT"), "json"),
		LogDir:  os.Getenv("MODELCYCLE_LOG_DIR"),
	}
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Setup
// =============================================================================

// Setup builds the configured logger and installs it as the slog default.
//
// # Outputs
//
//   - *slog.Logger: The configured logger.
//   - func() error: Flushes and closes the log file. Call on shutdown.
//   - error: Non-nil when the log directory or file cannot be created.
func Setup(config Config) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var stdoutHandler slog.Handler
	if config.JSON {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}
	handlers := []slog.Handler{stdoutHandler}

	closeFn := func() error { return nil }
	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
		closeFn = func() error {
			if err := file.Sync(); err != nil {
				file.Close()
				return fmt.Errorf("sync log file: %w", err)
			}
			return file.Close()
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// openLogFile creates the log directory and opens the per-day file in
// append mode.
func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "modelcycle"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers, enabling
// simultaneous stdout and file output with different formats.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
