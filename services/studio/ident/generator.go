// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ident allocates entity identifiers for the authoring model.
//
// # Overview
//
// Every entity gets a short, human-scannable ID: a kind prefix followed
// by a monotonically increasing counter rendered in base36 ("el-1f2a").
// Counters are persisted in BadgerDB so IDs stay unique across editor
// restarts. When persistence is unavailable the generator degrades to
// in-memory counters; callers then seed the counters from the IDs already
// present in a loaded project via InitFromExisting, which keeps new
// allocations above everything already in use.
package ident

import (
	"encoding/binary"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	storage "github.com/AleutianAI/AleutianStudio/services/studio/storage/badger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	identGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_ident_generated_total",
		Help: "Total number of IDs allocated, by kind",
	}, []string{"kind"})

	identPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_ident_persist_errors_total",
		Help: "Counter writes that failed and fell back to memory-only operation",
	})
)

// -----------------------------------------------------------------------------
// Kinds
// -----------------------------------------------------------------------------

// Kind identifies which entity family an ID belongs to.
type Kind string

const (
	KindModule   Kind = "module"
	KindLesson   Kind = "lesson"
	KindPage     Kind = "page"
	KindElement  Kind = "element"
	KindTimeline Kind = "timeline"
	KindVariable Kind = "variable"
)

// Kinds lists every kind the generator maintains a counter for.
var Kinds = []Kind{KindModule, KindLesson, KindPage, KindElement, KindTimeline, KindVariable}

// Prefix returns the ID prefix for the kind, including the separator.
func (k Kind) Prefix() string {
	switch k {
	case KindModule:
		return "mod-"
	case KindLesson:
		return "les-"
	case KindPage:
		return "pag-"
	case KindElement:
		return "el-"
	case KindTimeline:
		return "tl-"
	case KindVariable:
		return "var-"
	}
	return string(k) + "-"
}

// FormatID renders an ID for the kind from a raw counter value.
func FormatID(kind Kind, n uint64) string {
	return kind.Prefix() + strconv.FormatUint(n, 36)
}

// ParseID splits an ID into its kind and counter value.
//
// # Outputs
//
//   - Kind: The matched kind.
//   - uint64: The counter value encoded in the suffix.
//   - bool: False if the ID has no known prefix or a malformed suffix.
func ParseID(id string) (Kind, uint64, bool) {
	for _, k := range Kinds {
		p := k.Prefix()
		if !strings.HasPrefix(id, p) {
			continue
		}
		suffix := id[len(p):]
		if suffix == "" {
			return "", 0, false
		}
		n, err := strconv.ParseUint(suffix, 36, 64)
		if err != nil {
			return "", 0, false
		}
		return k, n, true
	}
	return "", 0, false
}

// IsLegacyID reports whether an ID predates the prefixed scheme.
//
// Older exports used raw numbers or ad-hoc strings. Anything that does
// not parse as a current-scheme ID is treated as legacy and gets
// rewritten during migration.
func IsLegacyID(id string) bool {
	_, _, ok := ParseID(id)
	return !ok
}

// -----------------------------------------------------------------------------
// Generator
// -----------------------------------------------------------------------------

const counterKeyPrefix = "studio:ident:"

// Config holds construction parameters for a Generator.
type Config struct {
	// DB persists counters across restarts. Nil runs memory-only.
	DB *storage.DB

	// Logger for fallback warnings. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Generator allocates prefixed monotonic IDs.
//
// # Thread Safety
//
// Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	counters map[Kind]uint64

	db     *storage.DB
	logger *slog.Logger

	// warned tracks the one-time persistence warning. After the first
	// failed write the generator keeps allocating from memory silently.
	warned bool
}

// NewGenerator creates a generator and loads any persisted counters.
//
// # Description
//
// Counter load failures are not fatal: the generator starts from zero in
// memory and logs a single warning. Callers loading an existing project
// should follow up with InitFromExisting so fresh allocations cannot
// collide with IDs already in the document.
//
// # Inputs
//
//   - cfg: Construction parameters. The zero value runs memory-only.
//
// # Outputs
//
//   - *Generator: Ready-to-use generator. Never nil.
func NewGenerator(cfg Config) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		counters: make(map[Kind]uint64, len(Kinds)),
		db:       cfg.DB,
		logger:   logger.With(slog.String("component", "ident")),
	}
	g.loadCounters()
	return g
}

// Next allocates the next ID for the kind.
//
// # Description
//
// The counter is bumped and persisted before the ID is returned. When the
// write fails the allocation still succeeds from the in-memory counter;
// the first failure logs a warning, later ones only count in metrics.
//
// # Inputs
//
//   - kind: Entity family to allocate for.
//
// # Outputs
//
//   - string: The new ID, e.g. "el-1f2a".
func (g *Generator) Next(kind Kind) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counters[kind]++
	n := g.counters[kind]
	g.persistCounter(kind, n)

	identGeneratedTotal.WithLabelValues(string(kind)).Inc()
	return FormatID(kind, n)
}

// Peek returns the current counter value for the kind without allocating.
func (g *Generator) Peek(kind Kind) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters[kind]
}

// InitFromExisting raises counters to cover the given IDs.
//
// # Description
//
// Scans the IDs, and for every one that parses under the current scheme
// raises that kind's counter to at least the encoded value. Called after
// loading a project so Next never hands out an ID the document already
// contains. Unparseable IDs are ignored; they are the migration layer's
// problem, not a collision risk.
//
// # Inputs
//
//   - ids: All entity IDs present in the loaded document.
func (g *Generator) InitFromExisting(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	raised := make(map[Kind]uint64)
	for _, id := range ids {
		kind, n, ok := ParseID(id)
		if !ok {
			continue
		}
		if n > g.counters[kind] {
			g.counters[kind] = n
			raised[kind] = n
		}
	}

	for kind, n := range raised {
		g.persistCounter(kind, n)
	}
}

// loadCounters reads persisted counters. Missing keys start at zero.
func (g *Generator) loadCounters() {
	if g.db == nil {
		return
	}

	err := g.db.View(func(txn *badgerdb.Txn) error {
		for _, kind := range Kinds {
			item, err := txn.Get(counterKey(kind))
			if err != nil {
				if err == badgerdb.ErrKeyNotFound {
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					g.counters[kind] = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		g.warnOnce("loading ID counters failed, starting from memory", err)
	}
}

// persistCounter writes one counter. Caller holds the lock.
func (g *Generator) persistCounter(kind Kind, n uint64) {
	if g.db == nil {
		return
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	err := g.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(counterKey(kind), buf)
	})
	if err != nil {
		identPersistErrors.Inc()
		g.warnOnce("persisting ID counter failed, continuing in memory", err)
	}
}

// warnOnce logs the first persistence problem, then goes quiet.
func (g *Generator) warnOnce(msg string, err error) {
	if g.warned {
		return
	}
	g.warned = true
	g.logger.Warn(msg, slog.String("error", err.Error()))
}

func counterKey(kind Kind) []byte {
	return []byte(counterKeyPrefix + string(kind))
}
