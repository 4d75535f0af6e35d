// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history implements the editor's scoped undo/redo engine.
//
// # Overview
//
// Every tracked entity gets its own bounded undo stack; two concerns
// that span entities (course-wide module ordering, the timeline set)
// get singletons; and each page can additionally be versioned together
// with its timelines as a "stage" composite:
//
//	pages:      pag-1 ── [s1 s2 s3 | future]     one stack per page
//	lessons:    les-1 ── [s1 s2    | future]     one stack per lesson
//	modules:    mod-1 ── [s1       | future]     metadata only
//	structure:  ──────── [s1 s2    | future]     module ordering, singleton
//	timelines:  ──────── [s1       | future]     record set, singleton
//	stages:     pag-1 ── [s1 s2    | future]     page + timelines together
//
// A commit deep-clones current model state onto the scope's stack. It
// is skipped when a change signature (page generation counter plus
// content hash) says nothing changed, squashed into the top entry when
// rapid same-category structure/meta edits land inside the squash
// window, and deferred while a gesture session is active. Transform
// and style commits never squash: each committed gesture stays its own
// undo step.
//
// # Sessions
//
// Drags, resizes, rotates, and isolation edits produce dozens of
// intermediate states that must not each become an undo step.
// StartPageTransform captures a baseline, then commits on that page
// only mark the session pending; EndPageTransform emits exactly one
// transform commit. Isolation sessions end the same way, except the
// category is computed by comparing the pre- and post-session states.
// An interrupted gesture ends through the same path, so no in-flight
// edit is ever silently lost.
//
// # Restores
//
// Undo needs at least two past entries (the current state plus one to
// roll back to); it pops the current entry onto the future list and
// pushes the prior snapshot back into the model. Redo mirrors it. Both
// notify the autosave dispatcher with the restored state. Each engine
// call names exactly one stack; the Dispatcher layers focus on top,
// draining the structure singleton before a focused module's own
// history and following commit recency when no focus is pinned.
//
// History is best-effort: unknown IDs are silent no-ops, nothing here
// panics outward, and the model stays correct even when a commit is
// skipped.
package history
