// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate gates project documents at the load boundary.
//
// A document is accepted whole or rejected whole; the editor never
// proceeds on partially valid data. Checks run after version migration,
// so documents written by older editors come up to the current shape
// first:
//
//	v1 → v2  legacy IDs rewritten to the prefixed scheme
//	v2 → v3  stage defaults filled (visibility, opacity, layout names)
//
// A version newer than course.CurrentVersion is rejected outright;
// forward compatibility is not attempted. An absent version field marks
// the earliest known shape and is treated as version 1.
//
// Accepted documents are private copies, decoupled from caller state
// and from the raw load buffer.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_validate_documents_total",
		Help: "Validated project documents, by result",
	}, []string{"result"})

	migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_validate_migrations_total",
		Help: "Migration steps run, by source version",
	}, []string{"from"})
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilCourse indicates validation was asked to accept nothing.
	ErrNilCourse = errors.New("no course document")

	// ErrMalformed indicates an entity that cannot be understood:
	// unparseable JSON, a missing or misshapen ID, an unknown element
	// kind, a field outside its legal range.
	ErrMalformed = errors.New("project document is malformed")

	// ErrIntegrity indicates entities that do not agree with each
	// other: dangling refs, broken container pairing, duplicate IDs.
	ErrIntegrity = errors.New("project references are inconsistent")

	// ErrVersionTooNew indicates a document written by a newer editor.
	ErrVersionTooNew = errors.New("project version is newer than this editor supports")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config wires the validator's collaborators.
type Config struct {
	// IDs allocates replacement IDs during legacy migration. A
	// memory-only generator is created when nil.
	IDs *ident.Generator

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Result carries an accepted document and what was done to it.
type Result struct {
	// Course is the validated, migrated document. A private copy;
	// mutating it cannot touch caller state.
	Course *course.Course

	// MigratedFrom is the version the document carried before
	// migration, or 0 when it was already current.
	MigratedFrom int

	// RemappedIDs maps legacy IDs to their replacements when the
	// legacy ID rewrite ran. Collaborators holding element or page
	// references use it to follow their entities. Empty otherwise.
	RemappedIDs map[string]string
}

// -----------------------------------------------------------------------------
// Validator
// -----------------------------------------------------------------------------

// Validator checks and migrates project documents.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying generator serializes its own
// allocations.
type Validator struct {
	checks *validator.Validate
	ids    *ident.Generator
	logger *slog.Logger
}

// New creates a validator.
func New(cfg Config) *Validator {
	ids := cfg.IDs
	if ids == nil {
		ids = ident.NewGenerator(ident.Config{Logger: cfg.Logger})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		checks: validator.New(),
		ids:    ids,
		logger: logger.With("component", "validate"),
	}
}

// Document parses, migrates, and validates a raw project document.
//
// # Inputs
//
//   - ctx: Carries the trace span.
//   - raw: JSON-encoded course document.
//
// # Outputs
//
//   - *Result: The accepted document. Nil on rejection.
//   - error: ErrMalformed, ErrIntegrity, or ErrVersionTooNew.
func (v *Validator) Document(ctx context.Context, raw []byte) (*Result, error) {
	_, span := otel.Tracer("studio").Start(ctx, "studio.Validate.Document")
	defer span.End()

	var c course.Course
	if err := json.Unmarshal(raw, &c); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
		return nil, v.reject(span, err)
	}

	res, err := v.run(&c)
	if err != nil {
		return nil, v.reject(span, err)
	}
	v.accept(span, res)
	return res, nil
}

// Course migrates and validates an in-memory document. The input is
// cloned first and never mutated.
//
// # Outputs
//
//   - *Result: The accepted copy. Nil on rejection.
//   - error: ErrNilCourse, ErrMalformed, ErrIntegrity, or
//     ErrVersionTooNew.
func (v *Validator) Course(ctx context.Context, c *course.Course) (*Result, error) {
	_, span := otel.Tracer("studio").Start(ctx, "studio.Validate.Course")
	defer span.End()

	if c == nil {
		return nil, v.reject(span, ErrNilCourse)
	}

	res, err := v.run(c.Clone())
	if err != nil {
		return nil, v.reject(span, err)
	}
	v.accept(span, res)
	return res, nil
}

// run owns the accept pipeline. The course is private to this call.
func (v *Validator) run(c *course.Course) (*Result, error) {
	from := c.Version
	if from == 0 {
		// Exports that predate the version field.
		from = 1
	}
	switch {
	case from < 0:
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, c.Version)
	case from > course.CurrentVersion:
		return nil, fmt.Errorf("%w: version %d, supported up to %d",
			ErrVersionTooNew, from, course.CurrentVersion)
	}

	// The shape scrub guarantees every map entry is present and keyed
	// by its own ID, so the migrations below can walk without care.
	if err := checkShape(c); err != nil {
		return nil, err
	}

	mapping := v.migrate(c, from)

	if err := checkIntegrity(c); err != nil {
		return nil, err
	}
	if err := v.checks.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	migratedFrom := 0
	if from < course.CurrentVersion {
		migratedFrom = from
	}
	return &Result{Course: c, MigratedFrom: migratedFrom, RemappedIDs: mapping}, nil
}

func (v *Validator) migrate(c *course.Course, from int) map[string]string {
	mapping := map[string]string{}
	for ver := from; ver < course.CurrentVersion; ver++ {
		switch ver {
		case 1:
			// Seed the generator with every ID already in use so
			// replacements cannot collide in mixed documents.
			v.ids.InitFromExisting(collectIDs(c))
			mapping = ident.RewriteLegacyIDs(c, v.ids)
		case 2:
			fillStageDefaults(c)
		}
		migrationsTotal.WithLabelValues(strconv.Itoa(ver)).Inc()
	}
	if from < course.CurrentVersion {
		c.Version = course.CurrentVersion
		v.logger.Info("project migrated",
			"course", c.ID,
			"from", from,
			"to", course.CurrentVersion,
			"ids_rewritten", len(mapping))
	}
	return mapping
}

func (v *Validator) reject(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "document rejected")
	documentsTotal.WithLabelValues("rejected").Inc()
	v.logger.Warn("project rejected", "error", err)
	return err
}

func (v *Validator) accept(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.String("course_id", res.Course.ID),
		attribute.Int("migrated_from", res.MigratedFrom),
	)
	documentsTotal.WithLabelValues("ok").Inc()
	v.logger.Debug("project accepted",
		"course", res.Course.ID,
		"migrated_from", res.MigratedFrom)
}

// collectIDs gathers every entity ID in the hierarchy.
func collectIDs(c *course.Course) []string {
	var ids []string
	for id, m := range c.Modules {
		ids = append(ids, id)
		for lid, l := range m.Lessons {
			ids = append(ids, lid)
			for pid, p := range l.Pages {
				ids = append(ids, pid)
				for _, el := range p.Elements {
					ids = append(ids, el.ID)
				}
			}
		}
	}
	return ids
}

// fillStageDefaults brings version 2 documents up to the current
// stage model. Version 2 predates element visibility, opacity, and
// named layouts, so their zero values mean unset, not hidden.
func fillStageDefaults(c *course.Course) {
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			for _, p := range l.Pages {
				if p.Background == "" {
					p.Background = "#ffffff"
				}
				for _, el := range p.Elements {
					if el.Opacity == 0 {
						el.Opacity = 1
					}
					el.Visible = true
				}
				for name, lay := range p.Layouts {
					if lay.Name == "" {
						lay.Name = name
						p.Layouts[name] = lay
					}
				}
			}
		}
	}
}
