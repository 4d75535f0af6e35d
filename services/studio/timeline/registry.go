// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrUnknownTimeline indicates the record ID is not registered.
	ErrUnknownTimeline = errors.New("timeline record not found")

	// ErrMissingPage indicates a record without a page reference.
	ErrMissingPage = errors.New("timeline must reference a page")

	// ErrBadDuration indicates a non-positive timeline duration.
	ErrBadDuration = errors.New("timeline duration must be positive")

	// ErrDuplicateCue indicates a cue point name already used within
	// the record. Cue names are how triggers address instants, so two
	// cues with one name would be unresolvable.
	ErrDuplicateCue = errors.New("cue point name already in use")

	// ErrBadClip indicates a clip with a missing element or
	// non-positive duration.
	ErrBadClip = errors.New("clip is invalid")

	// ErrUnknownClip indicates the clip ID is not in the record.
	ErrUnknownClip = errors.New("clip not found")

	// ErrTimelineExists indicates a Create with an ID that is already
	// registered.
	ErrTimelineExists = errors.New("timeline record already exists")
)

// ============================================================================
// Registry
// ============================================================================

// Config holds the registry's collaborators.
type Config struct {
	// IDs assigns timeline IDs to records created without one.
	// Optional; records that arrive with an ID keep it.
	IDs *ident.Generator

	// Emitter receives timeline.created events. Optional.
	Emitter *events.Emitter

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry owns every timeline record in the open project.
//
// # Description
//
// All lookups return deep copies; the registry's own records are never
// reachable from outside its lock. Mutations replace whole records so
// a half-built record can never be observed.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	byPage  map[string][]string
	ids     *ident.Generator
	seq     uint64
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewRegistry creates an empty timeline registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*Record),
		byPage:  make(map[string][]string),
		ids:     cfg.IDs,
		emitter: cfg.Emitter,
		logger:  logger.With(slog.String("component", "timeline_registry")),
	}
}

// Create registers a new timeline record.
//
// # Inputs
//
//   - rec: the record to register. An empty ID is assigned from the
//     ID generator; clips without IDs get one.
//
// # Outputs
//
//   - *Record: a deep copy of the stored record.
//   - error: validation failure, including ErrDuplicateCue when two
//     cue points share a name.
func (r *Registry) Create(rec Record) (*Record, error) {
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if rec.ID == "" {
		rec.ID = r.nextIDLocked()
	} else if _, taken := r.records[rec.ID]; taken {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTimelineExists, rec.ID)
	}
	for _, c := range rec.Clips {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
	stored := rec.Clone()
	r.records[stored.ID] = stored
	r.byPage[stored.PageID] = append(r.byPage[stored.PageID], stored.ID)
	r.mu.Unlock()

	if r.emitter != nil {
		r.emitter.Emit(events.TypeTimelineCreated, &events.TimelineCreatedData{
			TimelineID: stored.ID,
			PageID:     stored.PageID,
			Duration:   stored.Duration,
			Loop:       stored.Loop,
		})
	}
	r.logger.Debug("timeline created",
		slog.String("timeline_id", stored.ID),
		slog.String("page_id", stored.PageID),
		slog.Float64("duration", stored.Duration))

	return stored.Clone(), nil
}

// Update replaces an existing record wholesale.
func (r *Registry) Update(rec Record) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTimeline, rec.ID)
	}
	for _, c := range rec.Clips {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
	if prev.PageID != rec.PageID {
		r.detachLocked(prev.PageID, rec.ID)
		r.byPage[rec.PageID] = append(r.byPage[rec.PageID], rec.ID)
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record. Unknown IDs are a no-op.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	delete(r.records, id)
	r.detachLocked(rec.PageID, id)
	return true
}

// Get returns a deep copy of the record with the given ID.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ForPage returns deep copies of all records attached to a page, in
// creation order.
func (r *Registry) ForPage(pageID string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byPage[pageID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// All returns deep copies of every record, sorted by ID. The order is
// stable because history snapshots of the timeline set are hashed for
// change detection; identical content must serialize identically.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// RemovePage drops every record attached to a page and returns how
// many were removed. Used by the page deletion cascade.
func (r *Registry) RemovePage(pageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byPage[pageID]
	for _, id := range ids {
		delete(r.records, id)
	}
	delete(r.byPage, pageID)
	return len(ids)
}

// RestorePage replaces a page's records wholesale with deep copies of
// recs. History restores use this to put a snapshot's timelines back
// without emitting creation events.
func (r *Registry) RestorePage(pageID string, recs []*Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byPage[pageID] {
		delete(r.records, id)
	}
	delete(r.byPage, pageID)

	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			continue
		}
		stored := rec.Clone()
		stored.PageID = pageID
		r.records[stored.ID] = stored
		r.byPage[pageID] = append(r.byPage[pageID], stored.ID)
	}
}

// RestoreAll replaces the registry's entire contents with deep copies
// of recs. Timeline-scope history restores use this; like RestorePage
// it emits no events.
func (r *Registry) RestoreAll(recs []*Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*Record, len(recs))
	r.byPage = make(map[string][]string)
	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			continue
		}
		stored := rec.Clone()
		r.records[stored.ID] = stored
		r.byPage[stored.PageID] = append(r.byPage[stored.PageID], stored.ID)
	}
}

// AddCuePoint appends a cue point to a record.
//
// # Outputs
//
//   - error: ErrUnknownTimeline, or ErrDuplicateCue when the name is
//     already taken within the record.
func (r *Registry) AddCuePoint(id string, cue CuePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTimeline, id)
	}
	if _, exists := rec.Cue(cue.Name); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateCue, cue.Name)
	}
	rec.CuePoints = append(rec.CuePoints, cue)
	return nil
}

// RemoveCuePoint removes a cue point by name. Unknown names are a
// no-op.
func (r *Registry) RemoveCuePoint(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	for i, cp := range rec.CuePoints {
		if cp.Name == name {
			rec.CuePoints = slices.Delete(rec.CuePoints, i, i+1)
			return true
		}
	}
	return false
}

// AddClip appends a clip to a record, assigning an ID if needed.
func (r *Registry) AddClip(id string, clip Clip) (*Clip, error) {
	if err := validateClip(&clip); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimeline, id)
	}
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	stored := clip.Clone()
	rec.Clips = append(rec.Clips, stored)
	return stored.Clone(), nil
}

// UpdateClip replaces a clip within a record, matched by clip ID.
func (r *Registry) UpdateClip(id string, clip Clip) error {
	if err := validateClip(&clip); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTimeline, id)
	}
	for i, c := range rec.Clips {
		if c.ID == clip.ID {
			rec.Clips[i] = clip.Clone()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownClip, clip.ID)
}

// RemoveClip removes a clip by ID. Unknown clips are a no-op.
func (r *Registry) RemoveClip(id, clipID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	for i, c := range rec.Clips {
		if c.ID == clipID {
			rec.Clips = slices.Delete(rec.Clips, i, i+1)
			return true
		}
	}
	return false
}

// nextIDLocked returns an unused timeline ID, preferring the shared
// generator when one is wired.
func (r *Registry) nextIDLocked() string {
	for {
		var id string
		if r.ids != nil {
			id = r.ids.Next(ident.KindTimeline)
		} else {
			r.seq++
			id = ident.FormatID(ident.KindTimeline, r.seq)
		}
		if _, taken := r.records[id]; !taken {
			return id
		}
	}
}

// detachLocked removes id from a page's record list.
func (r *Registry) detachLocked(pageID, id string) {
	ids := r.byPage[pageID]
	for i, v := range ids {
		if v == id {
			ids = slices.Delete(ids, i, i+1)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byPage, pageID)
	} else {
		r.byPage[pageID] = ids
	}
}

// ============================================================================
// Validation
// ============================================================================

func validateRecord(rec *Record) error {
	if rec.PageID == "" {
		return ErrMissingPage
	}
	if rec.Duration <= 0 {
		return fmt.Errorf("%w: got %v", ErrBadDuration, rec.Duration)
	}
	if name, dup := duplicateCue(rec.CuePoints); dup {
		return fmt.Errorf("%w: %q", ErrDuplicateCue, name)
	}
	for _, cp := range rec.CuePoints {
		if cp.Time < 0 || cp.Time > rec.Duration {
			return fmt.Errorf("cue point %q at %v is outside the timeline (duration %v)",
				cp.Name, cp.Time, rec.Duration)
		}
	}
	for _, c := range rec.Clips {
		if err := validateClip(c); err != nil {
			return err
		}
	}
	return nil
}

func validateClip(c *Clip) error {
	if c.ElementID == "" {
		return fmt.Errorf("%w: missing element reference", ErrBadClip)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration %v", ErrBadClip, c.Duration)
	}
	if c.Start < 0 {
		return fmt.Errorf("%w: start %v", ErrBadClip, c.Start)
	}
	if c.Easing != "" && !c.Easing.Valid() {
		return fmt.Errorf("%w: unknown easing %q", ErrBadClip, c.Easing)
	}
	return nil
}
