// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"  info  ", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetup_WritesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Setup(Config{
		Level:   "debug",
		Service: "lifecycle",
		LogDir:  dir,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("cycle started", "cycle_id", "c-1")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	name := "lifecycle_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "cycle started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["service"] != "lifecycle" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["cycle_id"] != "c-1" {
		t.Errorf("cycle_id = %v", entry["cycle_id"])
	}
}

func TestSetup_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Setup(Config{
		Level:   "error",
		Service: "lifecycle",
		LogDir:  dir,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("dropped")
	logger.Error("kept")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	name := "lifecycle_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(raw)
	if strings.Contains(content, "dropped") {
		t.Error("info entry should have been filtered")
	}
	if !strings.Contains(content, "kept") {
		t.Error("error entry missing")
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger, closeFn, err := Setup(Config{Service: "lifecycle"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closeFn()

	if slog.Default() != logger {
		t.Error("Setup should install the logger as slog default")
	}
}

func TestSetup_BadLogDirFails(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A file where the directory should be.
	if _, _, err := Setup(Config{LogDir: filepath.Join(file, "logs")}); err == nil {
		t.Fatal("expected error for unusable log directory")
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}
	logger := slog.New(handler)

	logger.Info("hello")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(b.String(), "hello") {
		t.Errorf("both destinations should receive the record: a=%q b=%q", a.String(), b.String())
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MODELCYCLE_LOG_LEVEL", "debug")
	t.Setenv("MODELCYCLE_LOG_FORMAT", "JSON")
	t.Setenv("MODELCYCLE_LOG_DIR", "/tmp/logs")

	cfg := FromEnv("lifecycle")
	if cfg.Level != "debug" || !cfg.JSON || cfg.LogDir != "/tmp/logs" || cfg.Service != "lifecycle" {
		t.Errorf("cfg = %+v", cfg)
	}
}
