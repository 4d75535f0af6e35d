// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package variables holds the project's runtime variables: declared
// definitions plus their current values.
//
// A variable is visible either course-wide or on one page, and its
// name is unique within that scope. Triggers and scripts address
// variables by name, so a duplicate name is rejected at the call site
// rather than silently shadowed.
//
// The scripting sandbox never touches the registry; it receives
// read-only snapshots of resolved values.
package variables

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrDuplicateName indicates the name is already declared within
	// the same scope.
	ErrDuplicateName = errors.New("variable name already in use in this scope")

	// ErrUnknownVariable indicates the variable ID is not declared.
	ErrUnknownVariable = errors.New("variable not found")

	// ErrBadDefinition indicates a definition that cannot be stored:
	// missing name, unknown type, or a scope/page mismatch.
	ErrBadDefinition = errors.New("variable definition is invalid")

	// ErrTypeMismatch indicates a value of the wrong type for the
	// variable.
	ErrTypeMismatch = errors.New("value does not match the variable's type")
)

// ============================================================================
// Types
// ============================================================================

// VarType identifies what a variable holds.
type VarType string

const (
	TypeText    VarType = "text"
	TypeNumber  VarType = "number"
	TypeBoolean VarType = "boolean"
)

// Valid reports whether the type is one of the known variable types.
func (t VarType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// Scope says where a variable is visible.
type Scope string

const (
	// ScopeCourse variables are visible everywhere in the project.
	ScopeCourse Scope = "course"

	// ScopePage variables are visible on one page only.
	ScopePage Scope = "page"
)

// Definition declares one variable.
type Definition struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Scope Scope   `json:"scope"`
	Type  VarType `json:"type"`

	// PageID binds a page-scoped variable to its page. Empty for
	// course scope.
	PageID string `json:"pageId,omitempty"`

	// Default is the value the variable starts with. May be nil.
	Default any `json:"default,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// Document is the persisted form of the registry: every definition
// plus the values that differ from their defaults.
type Document struct {
	Definitions []*Definition  `json:"definitions"`
	Values      map[string]any `json:"values,omitempty"`
}

// Snapshot is the read-only view pushed to the scripting sandbox.
// Values are resolved: a set value wins over the default.
type Snapshot struct {
	// Generation increases with every registry mutation, so a
	// consumer can skip pushes it has already seen.
	Generation uint64 `json:"generation"`

	// Course maps course-scope variable names to values.
	Course map[string]any `json:"course"`

	// Pages maps page ID to that page's name-to-value map.
	Pages map[string]map[string]any `json:"pages"`
}

// nameKey addresses one naming namespace entry.
type nameKey struct {
	scope  Scope
	pageID string
	name   string
}

// ============================================================================
// Registry
// ============================================================================

// Registry owns the open project's variable definitions and values.
//
// # Description
//
// Lookups return copies; registry internals are never reachable from
// outside its lock. Values are stored only when set, so clearing a
// value falls back to the definition's default.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	values map[string]any
	names  map[nameKey]string
	gen    uint64
	ids    *ident.Generator
	seq    uint64
	logger *slog.Logger
}

// Config holds the registry's collaborators.
type Config struct {
	// IDs assigns variable IDs to definitions created without one.
	// Optional; definitions that arrive with an ID keep it.
	IDs *ident.Generator

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewRegistry creates an empty variable registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:   make(map[string]*Definition),
		values: make(map[string]any),
		names:  make(map[nameKey]string),
		ids:    cfg.IDs,
		logger: logger.With(slog.String("component", "variables")),
	}
}

// Define declares a new variable.
//
// # Inputs
//
//   - def: the definition. An empty ID is assigned from the ID
//     generator.
//
// # Outputs
//
//   - *Definition: a copy of the stored definition.
//   - error: ErrBadDefinition, or ErrDuplicateName when the name is
//     taken within the scope.
func (r *Registry) Define(def Definition) (*Definition, error) {
	if err := validateDefinition(&def); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey{scope: def.Scope, pageID: def.PageID, name: def.Name}
	if _, taken := r.names[key]; taken {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
	}
	if def.ID == "" {
		def.ID = r.nextIDLocked()
	} else if _, taken := r.defs[def.ID]; taken {
		return nil, fmt.Errorf("%w: id %s already declared", ErrBadDefinition, def.ID)
	}

	stored := def.Clone()
	r.defs[stored.ID] = stored
	r.names[key] = stored.ID
	r.gen++

	r.logger.Debug("variable defined",
		slog.String("variable_id", stored.ID),
		slog.String("name", stored.Name),
		slog.String("scope", string(stored.Scope)))

	return stored.Clone(), nil
}

// Update replaces an existing definition wholesale, matched by ID.
// Renames re-check name uniqueness; a type change drops any stored
// value that no longer fits.
func (r *Registry) Update(def Definition) error {
	if err := validateDefinition(&def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.defs[def.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, def.ID)
	}

	key := nameKey{scope: def.Scope, pageID: def.PageID, name: def.Name}
	if owner, taken := r.names[key]; taken && owner != def.ID {
		return fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
	}

	delete(r.names, nameKey{scope: prev.Scope, pageID: prev.PageID, name: prev.Name})
	r.names[key] = def.ID
	r.defs[def.ID] = def.Clone()

	if v, has := r.values[def.ID]; has && !typeAllows(def.Type, v) {
		delete(r.values, def.ID)
	}
	r.gen++
	return nil
}

// Remove deletes a definition and its value. Unknown IDs are a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[id]
	if !ok {
		return false
	}
	delete(r.defs, id)
	delete(r.values, id)
	delete(r.names, nameKey{scope: def.Scope, pageID: def.PageID, name: def.Name})
	r.gen++
	return true
}

// Get returns a copy of the definition with the given ID.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// Lookup resolves a name within a scope.
func (r *Registry) Lookup(scope Scope, pageID, name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.names[nameKey{scope: scope, pageID: pageID, name: name}]
	if !ok {
		return nil, false
	}
	return r.defs[id].Clone(), true
}

// SetValue assigns the variable's current value.
//
// # Outputs
//
//   - error: ErrUnknownVariable, or ErrTypeMismatch when the value
//     does not fit the declared type.
func (r *Registry) SetValue(id string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, id)
	}
	if !typeAllows(def.Type, v) {
		return fmt.Errorf("%w: %s takes %s", ErrTypeMismatch, def.Name, def.Type)
	}
	r.values[id] = v
	r.gen++
	return nil
}

// ClearValue drops the stored value so the variable reads as its
// default again. Unknown IDs are a no-op.
func (r *Registry) ClearValue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, has := r.values[id]; has {
		delete(r.values, id)
		r.gen++
	}
}

// Value returns the variable's effective value: the stored value when
// one was set, the default otherwise.
func (r *Registry) Value(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	if !ok {
		return nil, false
	}
	if v, has := r.values[id]; has {
		return v, true
	}
	return def.Default, true
}

// ForPage returns copies of the definitions bound to one page, sorted
// by name.
func (r *Registry) ForPage(pageID string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, def := range r.defs {
		if def.Scope == ScopePage && def.PageID == pageID {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns copies of every definition, course scope first, then
// page scope grouped by page, each group sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Scope != b.Scope {
			return a.Scope == ScopeCourse
		}
		if a.PageID != b.PageID {
			return a.PageID < b.PageID
		}
		return a.Name < b.Name
	})
	return out
}

// Count returns the number of declared variables.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// RemovePage drops every definition bound to a page and returns how
// many were removed. Used by the page deletion cascade.
func (r *Registry) RemovePage(pageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, def := range r.defs {
		if def.Scope == ScopePage && def.PageID == pageID {
			delete(r.defs, id)
			delete(r.values, id)
			delete(r.names, nameKey{scope: def.Scope, pageID: def.PageID, name: def.Name})
			removed++
		}
	}
	if removed > 0 {
		r.gen++
	}
	return removed
}

// Snapshot cuts the read-only view for the scripting sandbox.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{
		Generation: r.gen,
		Course:     make(map[string]any),
		Pages:      make(map[string]map[string]any),
	}
	for id, def := range r.defs {
		v, has := r.values[id]
		if !has {
			v = def.Default
		}
		switch def.Scope {
		case ScopeCourse:
			snap.Course[def.Name] = v
		case ScopePage:
			page := snap.Pages[def.PageID]
			if page == nil {
				page = make(map[string]any)
				snap.Pages[def.PageID] = page
			}
			page[def.Name] = v
		}
	}
	return snap
}

// Document exports the registry for persistence, definitions sorted
// as All returns them.
func (r *Registry) Document() *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := &Document{Definitions: r.allLocked()}
	if len(r.values) > 0 {
		doc.Values = make(map[string]any, len(r.values))
		for id, v := range r.values {
			doc.Values[id] = v
		}
	}
	return doc
}

// Load replaces the registry's contents from a persisted document.
// The document is checked whole before anything is replaced; on error
// the registry is unchanged.
func (r *Registry) Load(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: no document", ErrBadDefinition)
	}

	defs := make(map[string]*Definition, len(doc.Definitions))
	names := make(map[nameKey]string, len(doc.Definitions))
	for _, def := range doc.Definitions {
		if def == nil || def.ID == "" {
			return fmt.Errorf("%w: definition without id", ErrBadDefinition)
		}
		if err := validateDefinition(def); err != nil {
			return err
		}
		if _, dup := defs[def.ID]; dup {
			return fmt.Errorf("%w: id %s declared twice", ErrBadDefinition, def.ID)
		}
		key := nameKey{scope: def.Scope, pageID: def.PageID, name: def.Name}
		if _, dup := names[key]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
		}
		defs[def.ID] = def.Clone()
		names[key] = def.ID
	}

	values := make(map[string]any, len(doc.Values))
	for id, v := range doc.Values {
		def, ok := defs[id]
		if !ok {
			return fmt.Errorf("%w: value for undeclared %s", ErrUnknownVariable, id)
		}
		if !typeAllows(def.Type, v) {
			return fmt.Errorf("%w: %s takes %s", ErrTypeMismatch, def.Name, def.Type)
		}
		values[id] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = defs
	r.values = values
	r.names = names
	r.gen++
	return nil
}

// nextIDLocked returns an unused variable ID, preferring the shared
// generator when one is wired.
func (r *Registry) nextIDLocked() string {
	for {
		var id string
		if r.ids != nil {
			id = r.ids.Next(ident.KindVariable)
		} else {
			r.seq++
			id = ident.FormatID(ident.KindVariable, r.seq)
		}
		if _, taken := r.defs[id]; !taken {
			return id
		}
	}
}

// ============================================================================
// Validation
// ============================================================================

func validateDefinition(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name missing", ErrBadDefinition)
	}
	if !def.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrBadDefinition, def.Type)
	}
	switch def.Scope {
	case ScopeCourse:
		if def.PageID != "" {
			return fmt.Errorf("%w: course variable %q bound to page %s",
				ErrBadDefinition, def.Name, def.PageID)
		}
	case ScopePage:
		if def.PageID == "" {
			return fmt.Errorf("%w: page variable %q without a page",
				ErrBadDefinition, def.Name)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrBadDefinition, def.Scope)
	}
	if def.Default != nil && !typeAllows(def.Type, def.Default) {
		return fmt.Errorf("%w: default for %q does not fit %s",
			ErrBadDefinition, def.Name, def.Type)
	}
	return nil
}

// typeAllows reports whether a value fits the declared type. Numbers
// accept every numeric shape JSON decoding or Go callers produce.
func typeAllows(t VarType, v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case TypeText:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}
