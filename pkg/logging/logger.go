// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for AleutianStudio
// binaries.
//
// The studio runs in two modes with different logging needs. CLI
// commands (validate, migrate, inspect) want Unix-friendly stderr
// output that stays out of the way of piped stdout. Editor sessions
// (serve) additionally want a session log on disk so a bug report can
// include what the editor was doing when something went wrong.
//
// # Architecture
//
// Everything is built on the standard library slog package. A Logger
// tees each record to up to two destinations:
//
//	stderr        text or JSON, suppressed by Quiet
//	session file  always JSON, enabled by LogDir
//
// Components below this package take a *slog.Logger in their Config
// and never import this package; Slog() is the bridge.
//
// # Usage
//
// CLI commands:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.ParseLevel(flagLevel),
//	    Service: "studio",
//	    Quiet:   quietFlag,
//	})
//
// Editor sessions add a session log next to the project data:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "studio",
//	    LogDir:  filepath.Join(dataDir, "logs"),
//	})
//	defer logger.Close()
//
// Session files are named {service}_{YYYY-MM-DD}.log and appended to
// across restarts on the same day.
//
// # Thread Safety
//
// Logger is safe for concurrent use. slog handlers serialize their
// own writes; Close is idempotent.
//
// # Security Considerations
//
// Nothing here redacts. Course content, file paths, and settings
// values placed in log attributes end up on disk in the session file,
// so callers log IDs and counts rather than document bodies.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Levels
// =============================================================================

// Level is the minimum severity a logger lets through.
type Level int

const (
	// LevelDebug traces internal decisions: grid rebuilds, squash
	// hits, autosave coalescing.
	LevelDebug Level = iota

	// LevelInfo records normal session events: project opened,
	// document migrated, settings reloaded.
	LevelInfo

	// LevelWarn records degraded-but-continuing conditions: autosave
	// retry, settings file unavailable, stale entity references.
	LevelWarn

	// LevelError records failed operations the editor survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a flag or config string onto a Level. Matching is
// case-insensitive; anything unrecognized comes back as LevelInfo so
// a typo loosens logging rather than silencing it.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls logger construction. The zero value writes Info and
// above to stderr as text.
type Config struct {
	// Level is the minimum severity to emit. Default: LevelInfo.
	Level Level

	// LogDir enables the session file. When set, the directory is
	// created (0750) and records append to {Service}_{date}.log as
	// JSON regardless of the stderr format. Supports a leading ~.
	// Default: "" (no session file).
	LogDir string

	// Service tags every record with a service attribute and names
	// the session file. Default: "" (untagged, file named aleutian).
	Service string

	// JSON switches stderr from text to JSON. The session file is
	// JSON either way. Default: false.
	JSON bool

	// Quiet suppresses stderr. Records still reach the session file
	// when LogDir is set; with no LogDir either, records are
	// discarded at the handler level. Default: false.
	Quiet bool
}

// DefaultLogDir returns the per-user session log directory,
// {UserConfigDir}/aleutian-studio/logs, matching where the storage
// layer keeps its database tiers.
func DefaultLogDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "aleutian-studio", "logs"), nil
}

// =============================================================================
// Logger
// =============================================================================

// Logger tees structured records to stderr and an optional session
// file. Close releases the file; loggers without one never need
// closing, but closing them is harmless.
type Logger struct {
	slog    *slog.Logger
	service string
	session *session
}

// session owns the file handle shared by a logger and its With
// children, so Close stays idempotent no matter who calls it.
type session struct {
	file *os.File
	once sync.Once
	err  error
}

func (s *session) close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if err := s.file.Sync(); err != nil {
			s.err = fmt.Errorf("sync session log: %w", err)
		}
		if err := s.file.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("close session log: %w", err)
		}
	})
	return s.err
}

// New builds a Logger from config. Construction never fails: if the
// session file cannot be created the logger degrades to stderr only,
// and if Quiet also removed stderr the records go nowhere.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}

	l := &Logger{service: config.Service}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	if h, f := sessionHandler(config, opts); h != nil {
		l.session = &session{file: f}
		handlers = append(handlers, h)
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = discardHandler{}
	case 1:
		handler = handlers[0]
	default:
		handler = teeHandler(handlers)
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	l.slog = slog.New(handler)
	return l
}

// sessionHandler opens the dated session file under LogDir. A nil
// handler means file logging is off or the directory or file could
// not be created; the caller falls back to whatever else it has.
func sessionHandler(config Config, opts *slog.HandlerOptions) (slog.Handler, *os.File) {
	if config.LogDir == "" {
		return nil, nil
	}
	dir := expandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, nil
	}
	service := config.Service
	if service == "" {
		service = "aleutian"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil
	}
	return slog.NewJSONHandler(file, opts), file
}

// Default returns the logger CLI entry points start from: Info level,
// text on stderr, service "aleutian".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "aleutian"})
}

// Debug logs at Debug level with slog-style key-value args.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level with slog-style key-value args.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level with slog-style key-value args.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level with slog-style key-value args.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying extra attributes. The child
// shares the parent's destinations; closing either closes the shared
// session file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:    l.slog.With(args...),
		service: l.service,
		session: l.session,
	}
}

// Slog exposes the underlying slog.Logger for components whose Config
// takes one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the session file. Safe to call more than
// once, from parent or child, and on loggers that never had a file.
func (l *Logger) Close() error {
	return l.session.close()
}

// =============================================================================
// Handlers
// =============================================================================

// teeHandler fans one record out to every destination. Destinations
// keep their own level gates, so a future per-destination level split
// would not change this type.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// discardHandler drops everything. Quiet with no LogDir lands here.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// expandPath resolves a leading ~ against the user's home directory
// so config values like ~/studio-logs work from flags and yaml alike.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
