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
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Session File Tests
// =============================================================================

// sessionFile returns the one log file New should have created under dir.
func sessionFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log dir has %d entries, want 1", len(entries))
	}
	return filepath.Join(dir, entries[0].Name())
}

func TestSessionFileNaming(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "studio", Quiet: true, LogDir: dir})
	logger.Info("session started")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := sessionFile(t, dir)
	wantName := "studio_" + time.Now().Format("2006-01-02") + ".log"
	if filepath.Base(path) != wantName {
		t.Errorf("session file = %s, want %s", filepath.Base(path), wantName)
	}
}

func TestSessionFileRecords(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "studio", Quiet: true, LogDir: dir})

	logger.Info("project opened", "course_id", "crs-1")
	logger.Debug("grid rebuilt") // below level, must not appear
	logger.Warn("autosave retry", "attempt", 2)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(sessionFile(t, dir))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("session file has %d records, want 2:\n%s", len(lines), data)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first record is not JSON: %v", err)
	}
	if first["msg"] != "project opened" {
		t.Errorf("msg = %v, want project opened", first["msg"])
	}
	if first["service"] != "studio" {
		t.Errorf("service = %v, want studio", first["service"])
	}
	if first["course_id"] != "crs-1" {
		t.Errorf("course_id = %v, want crs-1", first["course_id"])
	}
	if !strings.Contains(lines[1], "autosave retry") {
		t.Errorf("second record = %s, want the warn", lines[1])
	}
}

func TestSessionFileAppendsAcrossLoggers(t *testing.T) {
	dir := t.TempDir()

	first := New(Config{Service: "studio", Quiet: true, LogDir: dir})
	first.Info("run one")
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}

	second := New(Config{Service: "studio", Quiet: true, LogDir: dir})
	second.Info("run two")
	if err := second.Close(); err != nil {
		t.Fatalf("close second: %v", err)
	}

	data, err := os.ReadFile(sessionFile(t, dir))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if !strings.Contains(string(data), "run one") || !strings.Contains(string(data), "run two") {
		t.Errorf("session file should hold both runs:\n%s", data)
	}
}

func TestBadLogDirDegrades(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{Service: "studio", LogDir: filepath.Join(blocker, "logs")})
	logger.Info("still works on stderr")
	if err := logger.Close(); err != nil {
		t.Errorf("Close after degraded construction: %v", err)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestWithCarriesAttrs(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Service: "studio", Quiet: true, LogDir: dir})

	child := logger.With("course_id", "crs-9")
	child.Info("validated")
	if err := child.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(sessionFile(t, dir))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if !strings.Contains(string(data), `"course_id":"crs-9"`) {
		t.Errorf("child attrs missing from record:\n%s", data)
	}
}

func TestLevelGate(t *testing.T) {
	logger := New(Config{Level: LevelWarn, Service: "studio"})
	ctx := context.Background()

	if logger.Slog().Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be gated at warn level")
	}
	if !logger.Slog().Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should pass at warn level")
	}
}

func TestQuietWithoutFileDiscards(t *testing.T) {
	logger := New(Config{Quiet: true})
	if logger.Slog().Enabled(context.Background(), slog.LevelError) {
		t.Error("quiet logger with no session file should disable all levels")
	}
	// Logging into the void must still be safe.
	logger.Error("nobody hears this")
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Service: "studio", Quiet: true, LogDir: dir})
	child := logger.With("course_id", "crs-1")
	logger.Info("once")

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Errorf("child Close after parent: %v", err)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Slog() == nil {
		t.Fatal("Default returned an unusable logger")
	}
	if logger.service != "aleutian" {
		t.Errorf("service = %q, want aleutian", logger.service)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestDefaultLogDir(t *testing.T) {
	dir, err := DefaultLogDir()
	if err != nil {
		t.Skipf("no user config dir in this environment: %v", err)
	}
	if !strings.Contains(dir, "aleutian-studio") {
		t.Errorf("DefaultLogDir = %s, want an aleutian-studio path", dir)
	}
	if filepath.Base(dir) != "logs" {
		t.Errorf("DefaultLogDir = %s, want a logs leaf", dir)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := expandPath("~/studio-logs"); got != filepath.Join(home, "studio-logs") {
		t.Errorf("expandPath(~/studio-logs) = %s", got)
	}
	if got := expandPath("/var/log/studio"); got != "/var/log/studio" {
		t.Errorf("absolute path changed: %s", got)
	}
}
