// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows the store's settings file and reloads it after
// edits settle.
//
// # Description
//
// Watches the file's directory as well as the file itself, so atomic
// save (write temp, rename over target) keeps working after the
// original inode is gone. Bursts of write events collapse into one
// reload through a debounce window. A reload that fails leaves the
// store's previous snapshot in place.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	store    *Store
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherConfig configures the settings watcher.
type WatcherConfig struct {
	// Debounce is how long to wait for more writes before reloading.
	// Default: 250ms.
	Debounce time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewWatcher creates a watcher for the store's settings file.
//
// # Outputs
//
//   - *Watcher: ready to Start.
//   - error: ErrNilStore, ErrNothingToWatch for an embedded-only
//     store, or the fsnotify setup failure.
func NewWatcher(store *Store, cfg WatcherConfig) (*Watcher, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if store.Path() == "" {
		return nil, ErrNothingToWatch
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close()
		return nil, err
	}
	// Watching the file directly catches in-place writes sooner; the
	// directory watch above covers renames. The file may not exist
	// yet, so a failure here is fine.
	if err := fsw.Add(store.Path()); err != nil {
		logger.Debug("settings file not watchable directly",
			slog.String("path", store.Path()),
			slog.String("error", err.Error()))
	}

	return &Watcher{
		store:    store,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "settings")),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Returns immediately; the reload loop runs
// until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
	w.logger.Debug("watching settings file",
		slog.String("path", w.store.Path()))
}

// Stop stops the watcher and releases the file handles. Safe to call
// multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// run is the event loop: collect events for the settings file, arm
// the debounce timer, reload when it fires.
func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watch error",
				slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			if snap, err := w.store.Reload(ctx); err == nil {
				w.logger.Debug("settings file change applied",
					slog.Uint64("generation", snap.Generation))
			}
		}
	}
}

// relevant reports whether an event concerns the settings file. The
// directory watch also delivers events for sibling files; those are
// ignored.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.store.Path() {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}
