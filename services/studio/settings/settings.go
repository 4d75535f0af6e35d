// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings loads and serves the editor's runtime settings.
//
// Settings ship as embedded YAML defaults; a settings.yaml on disk
// overrides individual fields. Consumers hold a *Store and read
// immutable generation-stamped snapshots from it, so a reload never
// mutates values a component is already using.
//
// # Thread Safety
//
// Store and Watcher are safe for concurrent use.
package settings

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianStudio/services/studio/events"
)

// ============================================================================
// Constants
// ============================================================================

const (
	// MaxFileSize caps how much settings YAML a load will read (1MB).
	MaxFileSize = 1024 * 1024

	sourceEmbedded = "embedded"
	sourceExternal = "external"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ============================================================================
// Prometheus Metrics
// ============================================================================

var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_settings_loads_total",
		Help: "Settings loads by source and result",
	}, []string{"source", "result"})

	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_settings_load_duration_seconds",
		Help:    "Duration of settings loads",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})

	generationGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studio_settings_generation",
		Help: "Generation of the current settings snapshot",
	})
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrBadSettings indicates a settings document that cannot be
	// used: unparseable YAML or a field outside its valid range.
	ErrBadSettings = errors.New("settings are invalid")

	// ErrFileTooLarge indicates a settings file over MaxFileSize.
	ErrFileTooLarge = errors.New("settings file too large")

	// ErrNilStore indicates a watcher was created without a store.
	ErrNilStore = errors.New("settings store must not be nil")

	// ErrNothingToWatch indicates the store runs on embedded defaults
	// only, so there is no file for a watcher to follow.
	ErrNothingToWatch = errors.New("store has no settings file to watch")
)

// ============================================================================
// Document
// ============================================================================

// Settings is the editor's runtime settings document. All fields are
// value types; a Settings copy shares nothing with its source.
type Settings struct {
	Spatial   SpatialSettings   `yaml:"spatial"`
	Viewport  ViewportSettings  `yaml:"viewport"`
	History   HistorySettings   `yaml:"history"`
	Autosave  AutosaveSettings  `yaml:"autosave"`
	Transform TransformSettings `yaml:"transform"`
}

// SpatialSettings tunes the per-page spatial grid.
type SpatialSettings struct {
	// EnableThreshold is the element count at which a page gets a
	// grid. Zero grids every page.
	EnableThreshold int `yaml:"enable_threshold"`

	// CellSize is the nominal grid cell edge in stage units.
	CellSize float64 `yaml:"cell_size"`
}

// ViewportSettings tunes the visibility cache.
type ViewportSettings struct {
	// Margin is the extra stage distance kept visible around the
	// viewport, in stage units.
	Margin float64 `yaml:"margin"`
}

// HistorySettings tunes the undo engine.
type HistorySettings struct {
	// Depth is the undo stack depth per scope.
	Depth int `yaml:"depth"`

	// SquashWindowMS squashes commits closer together than this many
	// milliseconds into one entry.
	SquashWindowMS int `yaml:"squash_window_ms"`
}

// SquashWindow returns the squash window as a duration.
func (h HistorySettings) SquashWindow() time.Duration {
	return time.Duration(h.SquashWindowMS) * time.Millisecond
}

// AutosaveSettings tunes the save dispatcher.
type AutosaveSettings struct {
	// Rate is saves per second allowed per scope.
	Rate float64 `yaml:"rate"`

	// Burst is how many saves may land back to back before Rate
	// applies.
	Burst int `yaml:"burst"`
}

// TransformSettings tunes the transform batcher.
type TransformSettings struct {
	// FrameIntervalMS is how many milliseconds transform updates
	// accumulate before a flush.
	FrameIntervalMS int `yaml:"frame_interval_ms"`
}

// FrameInterval returns the flush interval as a duration.
func (t TransformSettings) FrameInterval() time.Duration {
	return time.Duration(t.FrameIntervalMS) * time.Millisecond
}

// Validate checks every field against its valid range.
func (s *Settings) Validate() error {
	if s.Spatial.EnableThreshold < 0 {
		return fmt.Errorf("%w: spatial.enable_threshold must be >= 0", ErrBadSettings)
	}
	if s.Spatial.CellSize <= 0 {
		return fmt.Errorf("%w: spatial.cell_size must be > 0", ErrBadSettings)
	}
	if s.Viewport.Margin < 0 {
		return fmt.Errorf("%w: viewport.margin must be >= 0", ErrBadSettings)
	}
	if s.History.Depth <= 0 {
		return fmt.Errorf("%w: history.depth must be > 0", ErrBadSettings)
	}
	if s.History.SquashWindowMS < 0 {
		return fmt.Errorf("%w: history.squash_window_ms must be >= 0", ErrBadSettings)
	}
	if s.Autosave.Rate <= 0 {
		return fmt.Errorf("%w: autosave.rate must be > 0", ErrBadSettings)
	}
	if s.Autosave.Burst < 1 {
		return fmt.Errorf("%w: autosave.burst must be >= 1", ErrBadSettings)
	}
	if s.Transform.FrameIntervalMS <= 0 {
		return fmt.Errorf("%w: transform.frame_interval_ms must be > 0", ErrBadSettings)
	}
	return nil
}

// Parse builds a Settings document from YAML. Fields the data does
// not set keep their embedded defaults.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		return nil, fmt.Errorf("%w: embedded defaults: %v", ErrBadSettings, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSettings, err)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================================
// Store
// ============================================================================

// Snapshot is one immutable view of the settings. Copies share
// nothing with the store; a field read is always consistent with the
// generation it came with.
type Snapshot struct {
	Settings   Settings
	Generation uint64

	// Source says where the values came from: the settings file or
	// the embedded defaults.
	Source string

	LoadedAt time.Time
}

// Store loads settings and hands out snapshots.
//
// # Description
//
// A store resolves its file path once at construction. Loads overlay
// the file onto the embedded defaults, validate the result whole, and
// publish it as a new snapshot; a failed reload keeps the previous
// snapshot in place.
type Store struct {
	path    string
	emitter *events.Emitter
	logger  *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// Config holds the store's collaborators.
type Config struct {
	// Path is the settings file. Empty runs on embedded defaults
	// only. A missing or unreadable file logs a warning and falls
	// back to the defaults; a present but invalid file is an error.
	Path string

	// Emitter receives settings.changed events on reload. Optional.
	Emitter *events.Emitter

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a store and performs the initial load.
//
// # Outputs
//
//   - *Store: the store, already holding a generation-1 snapshot.
//   - error: non-nil when the initial load fails validation.
func New(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := cfg.Path
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
		path = filepath.Clean(abs)
	}

	s := &Store{
		path:    path,
		emitter: cfg.Emitter,
		logger:  logger.With(slog.String("component", "settings")),
	}

	snap, err := s.load(context.Background())
	if err != nil {
		return nil, err
	}
	s.publish(snap)
	return s, nil
}

// Path returns the resolved settings file path, empty when the store
// runs on embedded defaults only.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current settings snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Reload re-reads the settings and publishes a new snapshot.
//
// # Outputs
//
//   - Snapshot: the snapshot now current. On error this is the
//     previous snapshot, which stays in place.
//   - error: non-nil when the load failed.
func (s *Store) Reload(ctx context.Context) (Snapshot, error) {
	snap, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("settings reload failed, keeping previous snapshot",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return s.Snapshot(), err
	}

	published := s.publish(snap)
	if s.emitter != nil {
		s.emitter.Emit(events.TypeSettingsChanged, &events.SettingsChangedData{
			Generation: published.Generation,
			Path:       s.path,
		})
	}
	s.logger.Info("settings reloaded",
		slog.Uint64("generation", published.Generation),
		slog.String("source", published.Source))
	return published, nil
}

// load reads, parses, and validates without touching the published
// snapshot.
func (s *Store) load(ctx context.Context) (Snapshot, error) {
	_, span := otel.Tracer("studio").Start(ctx, "studio.Settings.Load")
	defer span.End()

	start := time.Now()
	defer func() {
		loadDuration.Observe(time.Since(start).Seconds())
	}()

	var data []byte
	source := sourceEmbedded
	if s.path != "" {
		fileData, err := readCapped(s.path)
		if err == nil {
			data = fileData
			source = sourceExternal
		} else {
			s.logger.Warn("settings file not available, using embedded defaults",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		}
	}

	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("yaml_size", len(data)),
	)

	parsed, err := Parse(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settings rejected")
		loadsTotal.WithLabelValues(source, "error").Inc()
		return Snapshot{}, err
	}

	loadsTotal.WithLabelValues(source, "ok").Inc()
	return Snapshot{
		Settings: *parsed,
		Source:   source,
		LoadedAt: time.Now(),
	}, nil
}

// publish installs a snapshot with the next generation number.
func (s *Store) publish(snap Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Generation = s.snap.Generation + 1
	s.snap = snap
	generationGauge.Set(float64(snap.Generation))
	return snap
}

// readCapped reads a settings file, refusing oversized ones before
// the read.
func readCapped(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return data, nil
}
