// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the editor's typed event stream.
//
// Events let collaborators (trigger rebinding, UI refresh, telemetry)
// observe what the core did without coupling to the packages that did
// it. Producers emit typed data structs; consumers subscribe by type or
// read the replay buffer after the fact.
package events

import (
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeProjectLoaded is emitted after a course document has been
	// validated, migrated, and installed into the project store.
	TypeProjectLoaded Type = "project.loaded"

	// TypeTimelineCreated is emitted when a timeline record is
	// registered for a page.
	TypeTimelineCreated Type = "timeline.created"

	// TypeHistoryCommitted is emitted when the history engine accepts
	// a new undo entry (after squash and duplicate suppression).
	TypeHistoryCommitted Type = "history.committed"

	// TypeHistoryRestored is emitted when an undo or redo restores a
	// snapshot into the live model.
	TypeHistoryRestored Type = "history.restored"

	// TypeSettingsChanged is emitted when a settings reload produces a
	// new snapshot generation.
	TypeSettingsChanged Type = "settings.changed"
)

// Event is one entry in the stream. The Type decides what Data holds;
// producers use the matching data struct below. Events are immutable
// once emitted.
type Event struct {
	// ID is unique per event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// ProjectID links the event to the loaded course, when one is set.
	ProjectID string `json:"project_id,omitempty"`

	// Seq is the emitter-assigned monotonic sequence number.
	Seq uint64 `json:"seq"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data holds the typed payload for this Type.
	Data any `json:"data,omitempty"`

	// Metadata carries optional trace correlation.
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata carries correlation context alongside an event.
type EventMetadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID links the event to a specific span.
	SpanID string `json:"span_id,omitempty"`

	// Source names the package that emitted the event.
	Source string `json:"source,omitempty"`

	// Tags are free-form key-value pairs.
	Tags map[string]string `json:"tags,omitempty"`
}

// ProjectLoadedData is the data for project loaded events.
type ProjectLoadedData struct {
	// CourseID is the ID of the loaded course.
	CourseID string `json:"course_id"`

	// Title is the course title.
	Title string `json:"title,omitempty"`

	// Version is the document version after migration.
	Version int `json:"version"`

	// MigratedFrom is the version the document arrived with, set only
	// when a migration ran.
	MigratedFrom int `json:"migrated_from,omitempty"`

	// Modules, Lessons, Pages, and Elements are structure counts.
	Modules  int `json:"modules"`
	Lessons  int `json:"lessons"`
	Pages    int `json:"pages"`
	Elements int `json:"elements"`
}

// TimelineCreatedData is the data for timeline created events.
type TimelineCreatedData struct {
	// TimelineID is the ID of the new timeline record.
	TimelineID string `json:"timeline_id"`

	// PageID is the page the timeline animates.
	PageID string `json:"page_id"`

	// Duration is the timeline length in seconds.
	Duration float64 `json:"duration"`

	// Loop reports whether playback wraps at the end.
	Loop bool `json:"loop,omitempty"`
}

// HistoryCommittedData is the data for history committed events.
type HistoryCommittedData struct {
	// Scope is the history scope that received the entry.
	Scope string `json:"scope"`

	// TargetID identifies the entity within the scope.
	TargetID string `json:"target_id"`

	// Category is the kind of change recorded.
	Category string `json:"category"`

	// Squashed reports whether the entry replaced the previous one
	// instead of growing the stack.
	Squashed bool `json:"squashed,omitempty"`

	// Depth is the undo stack depth after the commit.
	Depth int `json:"depth"`
}

// HistoryRestoredData is the data for history restored events.
type HistoryRestoredData struct {
	// Scope is the history scope that was restored.
	Scope string `json:"scope"`

	// TargetID identifies the entity within the scope.
	TargetID string `json:"target_id"`

	// Direction is "undo" or "redo".
	Direction string `json:"direction"`

	// Category is the kind of change the restored entry recorded.
	Category string `json:"category"`
}

// SettingsChangedData is the data for settings changed events.
type SettingsChangedData struct {
	// Generation is the snapshot generation after the reload.
	Generation uint64 `json:"generation"`

	// Path is the settings file that changed, when the reload came
	// from the watcher.
	Path string `json:"path,omitempty"`
}
