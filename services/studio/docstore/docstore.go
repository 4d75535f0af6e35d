// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore persists editor documents as JSON in BadgerDB.
//
// Documents share a flat keyspace with the ID generator's counters:
//
//	studio:<kind>:<id> → JSON document
//
// Autosave writes course, page, lesson, module, module-structure, and
// timeline documents through the SaveSink implementation. The CLI and
// the variables and settings packages read and write their documents
// directly. A document's ID may be empty; singleton kinds such as
// module-structure use one unkeyed document per project database.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudio/services/studio/autosave"
	storage "github.com/AleutianAI/AleutianStudio/services/studio/storage/badger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	docWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_docstore_writes_total",
		Help: "Documents written, by kind",
	}, []string{"kind"})

	docReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_docstore_reads_total",
		Help: "Document reads, by kind and result",
	}, []string{"kind", "result"})

	docDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_docstore_deletes_total",
		Help: "Documents deleted, by kind",
	}, []string{"kind"})

	docBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_docstore_document_bytes",
		Help:    "Encoded size of written documents",
		Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
	})
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilDB indicates the store was built without a database.
	ErrNilDB = errors.New("docstore requires a database")

	// ErrNotFound indicates no document exists for the kind and ID.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyKind indicates a request without a document kind.
	ErrEmptyKind = errors.New("document kind is required")
)

// -----------------------------------------------------------------------------
// Kinds
// -----------------------------------------------------------------------------

// Document kinds written by the editor. The per-entity kinds match the
// autosave scopes, so a save request lands directly on its document.
const (
	KindCourse    = "course"
	KindPage      = "page"
	KindLesson    = "lesson"
	KindModule    = "module"
	KindStructure = "module-structure"
	KindTimeline  = "timeline"
	KindVariables = "variables"
	KindSettings  = "settings"
)

const keyPrefix = "studio:"

func keyFor(kind, id string) []byte {
	return []byte(keyPrefix + kind + ":" + id)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store reads and writes JSON documents in the local database.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions isolate readers from
// writers.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a document store over an open database.
//
// # Inputs
//
//   - db: Open database handle. Required.
//   - logger: Structured logger. Defaults to slog.Default().
//
// # Outputs
//
//   - *Store: Ready for use.
//   - error: ErrNilDB when db is nil.
func New(db *storage.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "docstore"),
	}, nil
}

// Put writes one document, replacing any previous version.
func (s *Store) Put(ctx context.Context, kind, id string, doc any) error {
	if kind == "" {
		return ErrEmptyKind
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", kind, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(keyFor(kind, id), data)
	})
	if err != nil {
		return fmt.Errorf("write %s document: %w", kind, err)
	}

	docWritesTotal.WithLabelValues(kind).Inc()
	docBytes.Observe(float64(len(data)))
	return nil
}

// Get reads one document into out, which must be a pointer.
//
// # Outputs
//
//   - error: ErrNotFound when no document exists for kind and id.
func (s *Store) Get(ctx context.Context, kind, id string, out any) error {
	if kind == "" {
		return ErrEmptyKind
	}
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyFor(kind, id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})

	switch {
	case err == nil:
		docReadsTotal.WithLabelValues(kind, "ok").Inc()
		return nil
	case errors.Is(err, ErrNotFound):
		docReadsTotal.WithLabelValues(kind, "miss").Inc()
		return ErrNotFound
	default:
		docReadsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("read %s document: %w", kind, err)
	}
}

// Delete removes one document. Deleting a missing document is not an
// error.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	if kind == "" {
		return ErrEmptyKind
	}
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete(keyFor(kind, id))
	})
	if err != nil {
		return fmt.Errorf("delete %s document: %w", kind, err)
	}
	docDeletesTotal.WithLabelValues(kind).Inc()
	return nil
}

// List returns the IDs of every document of one kind, in key order.
func (s *Store) List(ctx context.Context, kind string) ([]string, error) {
	if kind == "" {
		return nil, ErrEmptyKind
	}
	prefix := []byte(keyPrefix + kind + ":")
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", kind, err)
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// Autosave sink
// -----------------------------------------------------------------------------

// Save implements autosave.SaveSink. The record's scope becomes the
// document kind and its key the document ID, so a newer snapshot
// overwrites the older document in place.
func (s *Store) Save(ctx context.Context, rec autosave.Record) error {
	if err := s.Put(ctx, rec.Scope, rec.Key, rec.Payload); err != nil {
		return err
	}
	s.logger.Debug("document saved",
		"scope", rec.Scope,
		"key", rec.Key,
		"request", rec.ID)
	return nil
}

var _ autosave.SaveSink = (*Store)(nil)
