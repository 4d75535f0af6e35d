// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"sync"
)

// Focus is the author's current working context: which scope the next
// undo should try first, and the entity IDs that scope and its
// fallbacks resolve against.
type Focus struct {
	// Scope is the active editing surface. The zero value means no
	// surface is pinned: undo and redo then follow the engine's commit
	// recency, hitting whichever stack committed last.
	Scope Scope

	// PageID is the focused page, used by element, page, and stage
	// focus.
	PageID string

	// LessonID is the focused lesson.
	LessonID string

	// ModuleID is the focused module, also the lesson scope's
	// fallback target.
	ModuleID string
}

// target is one (scope, id) pair in resolution order.
type target struct {
	scope Scope
	id    string
}

// Dispatcher routes undo/redo to the stack the author means.
//
// # Description
//
// The engine only answers "can this specific stack move"; which stack
// to ask is an editing-surface decision. The dispatcher holds the
// current focus and walks a short fallback chain: element edits route
// to their page's stack, lessons fall back to their module when
// exhausted, and module focus exhausts the course-wide structure stack
// before the module's own metadata history, because module reordering
// is a course concern no single module's stack should own. Page focus
// never falls through to its lesson: running out of page history
// should feel like the end of history, not silently start rearranging
// pages. With no focus pinned, undo walks the engine's commit recency
// instead, so consecutive undos after a burst of mixed-scope
// operations peel them off newest first.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu     sync.Mutex
	engine *Engine
	focus  Focus
}

// NewDispatcher wraps an engine with focus-based routing. The initial
// focus is unpinned: undo follows commit recency until SetFocus is
// called.
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// SetFocus records the author's current working context.
func (d *Dispatcher) SetFocus(f Focus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = f
}

// Focus returns the current working context.
func (d *Dispatcher) Focus() Focus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focus
}

// Undo tries the focused scope first, then its fallbacks, and returns
// true when any stack restored a state.
func (d *Dispatcher) Undo(ctx context.Context) bool {
	for _, t := range d.targets() {
		if d.engine.Undo(ctx, t.scope, t.id) {
			return true
		}
	}
	return false
}

// Redo mirrors Undo over the same resolution order.
func (d *Dispatcher) Redo(ctx context.Context) bool {
	for _, t := range d.targets() {
		if d.engine.Redo(ctx, t.scope, t.id) {
			return true
		}
	}
	return false
}

// CanUndo reports whether any stack in the resolution order can undo.
func (d *Dispatcher) CanUndo() bool {
	for _, t := range d.targets() {
		if d.engine.CanUndo(t.scope, t.id) {
			return true
		}
	}
	return false
}

// CanRedo reports whether any stack in the resolution order can redo.
func (d *Dispatcher) CanRedo() bool {
	for _, t := range d.targets() {
		if d.engine.CanRedo(t.scope, t.id) {
			return true
		}
	}
	return false
}

// targets expands the current focus into its resolution order.
func (d *Dispatcher) targets() []target {
	d.mu.Lock()
	f := d.focus
	d.mu.Unlock()

	switch f.Scope {
	case ScopeElement, ScopePage:
		return []target{{ScopePage, f.PageID}}
	case ScopeStage:
		return []target{{ScopeStage, f.PageID}}
	case ScopeLesson:
		return []target{{ScopeLesson, f.LessonID}, {ScopeModule, f.ModuleID}}
	case ScopeModule, ScopeModuleStructure:
		return []target{{ScopeModuleStructure, ""}, {ScopeModule, f.ModuleID}}
	case ScopeTimeline:
		return []target{{ScopeTimeline, ""}}
	}
	return d.engine.recentTargets()
}
