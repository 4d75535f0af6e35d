// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps the embedded BadgerDB instance that backs studio
// persistence. Page documents, project records, and ID counters share one
// key-value store so an authoring session survives restarts without an
// external database. The wrapper owns the lifecycle concerns callers should
// not repeat: option mapping, value-log garbage collection, and routing
// Badger's internal log stream through slog.
//
// Serve sessions started without a data directory run fully in memory and
// lose everything on Close. Every other path opens a directory on disk.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gcPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "studio_storage_gc_passes_total",
	Help: "Value-log GC passes, by result",
}, []string{"result"})

// Config controls how the store is opened.
type Config struct {
	// Path is the database directory, created if absent. Ignored when
	// InMemory is set.
	Path string

	// InMemory keeps all data in RAM. Nothing survives Close.
	InMemory bool

	// SyncWrites forces an fsync on every commit. Slower, but a crash
	// cannot lose an acknowledged write.
	SyncWrites bool

	// GCInterval is how often the value log is compacted. Zero disables
	// the collector.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of dead data a value-log file must
	// carry before a pass rewrites it.
	GCDiscardRatio float64

	Logger *slog.Logger
}

// DefaultConfig returns the tuning used by disk-backed studio sessions.
// The caller still has to set Path.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns the configuration for an ephemeral store. GC is
// left off; in-memory mode has no value log to compact.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an open store. The embedded handle exposes Badger's transaction
// API directly; WithTxn and WithReadTxn add context awareness on top.
type DB struct {
	*badger.DB

	logger *slog.Logger
	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens the store described by cfg and, for disk-backed stores with
// a GCInterval, starts the value-log collector. The caller owns Close.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := buildOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %q: %w", cfg.Path, err)
	}

	db := &DB{DB: handle, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.collect(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	logger.Debug("store open", "path", cfg.Path, "in_memory", cfg.InMemory)
	return db, nil
}

func buildOptions(cfg Config, logger *slog.Logger) (badger.Options, error) {
	bridge := slogBridge{log: logger}

	if cfg.InMemory {
		return badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(bridge), nil
	}

	if cfg.Path == "" {
		return badger.Options{}, errors.New("disk-backed store requires a path")
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return badger.Options{}, fmt.Errorf("create store dir %q: %w", cfg.Path, err)
	}

	// Documents are replaced whole on save; old versions have no reader.
	return badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(bridge), nil
}

// Close stops the value-log collector and closes the store. Later calls
// return the first result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.gcStop != nil {
			close(db.gcStop)
			<-db.gcDone
		}
		db.closeErr = db.DB.Close()
	})
	return db.closeErr
}

// WithTxn runs fn inside a read-write transaction and commits if fn
// returns nil. The context is checked once up front; Badger transactions
// themselves do not block.
func (db *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn inside a read-only transaction.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// collect runs value-log GC on a ticker until Close.
func (db *DB) collect(interval time.Duration, discardRatio float64) {
	defer close(db.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.gcStop:
			return
		case <-ticker.C:
			db.collectOnce(discardRatio)
		}
	}
}

// collectOnce rewrites value-log files until Badger reports nothing left
// to reclaim, so a pass after a long idle stretch still converges.
func (db *DB) collectOnce(discardRatio float64) {
	for {
		err := db.RunValueLogGC(discardRatio)
		switch {
		case err == nil:
			gcPassesTotal.WithLabelValues("reclaimed").Inc()
			db.logger.Debug("value log file reclaimed")
		case errors.Is(err, badger.ErrNoRewrite):
			gcPassesTotal.WithLabelValues("noop").Inc()
			return
		default:
			gcPassesTotal.WithLabelValues("error").Inc()
			db.logger.Warn("value log gc failed", "error", err)
			return
		}
	}
}

// slogBridge adapts slog to badger.Logger. Badger terminates messages with
// a newline; the bridge strips it so records stay single-line. Badger's
// INFO stream is table and compaction chatter, so it lands at debug.
type slogBridge struct {
	log *slog.Logger
}

func (b slogBridge) Errorf(format string, args ...any) {
	b.log.Error(b.msg(format, args))
}

func (b slogBridge) Warningf(format string, args ...any) {
	b.log.Warn(b.msg(format, args))
}

func (b slogBridge) Infof(format string, args ...any) {
	b.log.Debug(b.msg(format, args))
}

func (b slogBridge) Debugf(format string, args ...any) {
	b.log.Debug(b.msg(format, args))
}

func (slogBridge) msg(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
