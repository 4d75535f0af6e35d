// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package course defines the authoring entity model: a Course contains
// ordered Modules, which contain ordered Lessons, which contain ordered
// Pages, which hold the Elements drawn on the stage.
//
// # Architecture
//
//	Course
//	  ├── ModuleRefs []Ref          (ordering)
//	  └── Modules map[id]*Module    (ownership)
//	        ├── LessonRefs []Ref
//	        └── Lessons map[id]*Lesson
//	              ├── PageRefs []Ref
//	              └── Pages map[id]*Page
//	                    └── Elements []*Element
//
// Sibling order lives in Ref lists (Order is 1-based and contiguous);
// ownership lives in by-ID maps. The two are maintained together by the
// project store. Everything here is plain data plus pure helpers: deep
// clones, lookups, and ref-list arithmetic. No locking, no I/O.
package course

import (
	"maps"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

// CurrentVersion is the project document version written by this build.
// Loaders migrate older versions forward and refuse newer ones.
const CurrentVersion = 3

// =============================================================================
// Refs
// =============================================================================

// Ref is an ordered reference to a child entity. Order is 1-based and
// contiguous within a sibling list; slice position and Order always agree.
type Ref struct {
	ID    string `json:"id" validate:"required"`
	Order int    `json:"order" validate:"gte=1"`
}

// =============================================================================
// Hierarchy
// =============================================================================

// Course is the root document of a project.
type Course struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Version is the document schema version, not a revision counter.
	Version int `json:"version" validate:"gte=1"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds UTC
	UpdatedAt int64 `json:"updatedAt"` // Unix milliseconds UTC
	Published bool  `json:"published,omitempty"`

	ModuleRefs []Ref              `json:"moduleRefs" validate:"dive"`
	Modules    map[string]*Module `json:"modules" validate:"dive"`
}

// Module is a top-level unit of a course.
type Module struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	LessonRefs []Ref              `json:"lessonRefs" validate:"dive"`
	Lessons    map[string]*Lesson `json:"lessons" validate:"dive"`
}

// Lesson groups the pages a learner steps through.
type Lesson struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title"`

	PageRefs []Ref            `json:"pageRefs" validate:"dive"`
	Pages    map[string]*Page `json:"pages" validate:"dive"`
}

// Page is a single stage canvas.
type Page struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`

	// Background is a CSS color for the stage behind the elements.
	Background string `json:"background,omitempty" validate:"omitempty,hexcolor|oneof=none transparent"`

	// Elements is unordered; paint order comes from ZIndex.
	Elements []*Element `json:"elements" validate:"dive"`

	// Layouts holds per-breakpoint placement overrides keyed by layout name.
	Layouts map[string]Layout `json:"layouts,omitempty" validate:"dive"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Layout is a named responsive breakpoint with optional per-element
// placement overrides.
type Layout struct {
	Name  string  `json:"name" validate:"required"`
	Width float64 `json:"width" validate:"gt=0"`

	// Overrides maps element ID to its placement at this breakpoint.
	// Elements without an override keep their base placement.
	Overrides map[string]Placement `json:"overrides,omitempty"`
}

// Placement is an element's position and size at one breakpoint.
type Placement struct {
	Position geom.Point      `json:"position"`
	Size     geom.Dimensions `json:"size"`
}

// =============================================================================
// Factories
// =============================================================================

// NewCourse creates an empty course at the current document version.
func NewCourse(id, title string, now int64) *Course {
	return &Course{
		ID:         id,
		Title:      title,
		Version:    CurrentVersion,
		CreatedAt:  now,
		UpdatedAt:  now,
		ModuleRefs: []Ref{},
		Modules:    make(map[string]*Module),
	}
}

// NewModule creates an empty module.
func NewModule(id, title string) *Module {
	return &Module{
		ID:         id,
		Title:      title,
		LessonRefs: []Ref{},
		Lessons:    make(map[string]*Lesson),
	}
}

// NewLesson creates an empty lesson.
func NewLesson(id, title string) *Lesson {
	return &Lesson{
		ID:       id,
		Title:    title,
		PageRefs: []Ref{},
		Pages:    make(map[string]*Page),
	}
}

// NewPage creates an empty page with a white background.
func NewPage(id, name string) *Page {
	return &Page{
		ID:         id,
		Name:       name,
		Background: "#ffffff",
		Elements:   []*Element{},
	}
}

// =============================================================================
// Lookups
// =============================================================================

// Module returns the module by ID, or nil.
func (c *Course) Module(id string) *Module {
	if c == nil {
		return nil
	}
	return c.Modules[id]
}

// Lesson returns the lesson by ID, or nil.
func (m *Module) Lesson(id string) *Lesson {
	if m == nil {
		return nil
	}
	return m.Lessons[id]
}

// Page returns the page by ID, or nil.
func (l *Lesson) Page(id string) *Page {
	if l == nil {
		return nil
	}
	return l.Pages[id]
}

// Element returns the element by ID, or nil.
func (p *Page) Element(id string) *Element {
	if p == nil {
		return nil
	}
	for _, el := range p.Elements {
		if el.ID == id {
			return el
		}
	}
	return nil
}

// ElementIndex returns the slice index of the element, or -1.
func (p *Page) ElementIndex(id string) int {
	if p == nil {
		return -1
	}
	for i, el := range p.Elements {
		if el.ID == id {
			return i
		}
	}
	return -1
}

// RemoveElement deletes the element from the page's element list.
//
// # Outputs
//
//   - bool: False if no element with that ID exists.
func (p *Page) RemoveElement(id string) bool {
	i := p.ElementIndex(id)
	if i < 0 {
		return false
	}
	p.Elements = append(p.Elements[:i], p.Elements[i+1:]...)
	return true
}

// MaxZIndex returns the highest ZIndex on the page, or 0 when empty.
func (p *Page) MaxZIndex() int {
	max := 0
	for _, el := range p.Elements {
		if el.ZIndex > max {
			max = el.ZIndex
		}
	}
	return max
}

// =============================================================================
// Deep Clones
// =============================================================================

// Clone returns a deep copy of the whole course. The copy shares no
// memory with the receiver; mutating one can never corrupt the other.
func (c *Course) Clone() *Course {
	if c == nil {
		return nil
	}

	out := *c
	out.ModuleRefs = cloneRefs(c.ModuleRefs)
	out.Modules = make(map[string]*Module, len(c.Modules))
	for id, m := range c.Modules {
		out.Modules[id] = m.Clone()
	}
	return &out
}

// Clone returns a deep copy of the module and everything under it.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}

	out := *m
	out.LessonRefs = cloneRefs(m.LessonRefs)
	out.Lessons = make(map[string]*Lesson, len(m.Lessons))
	for id, l := range m.Lessons {
		out.Lessons[id] = l.Clone()
	}
	return &out
}

// Clone returns a deep copy of the lesson and its pages.
func (l *Lesson) Clone() *Lesson {
	if l == nil {
		return nil
	}

	out := *l
	out.PageRefs = cloneRefs(l.PageRefs)
	out.Pages = make(map[string]*Page, len(l.Pages))
	for id, p := range l.Pages {
		out.Pages[id] = p.Clone()
	}
	return &out
}

// Clone returns a deep copy of the page and its elements.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}

	out := *p
	out.Elements = make([]*Element, len(p.Elements))
	for i, el := range p.Elements {
		out.Elements[i] = el.Clone()
	}
	if p.Layouts != nil {
		out.Layouts = make(map[string]Layout, len(p.Layouts))
		for name, layout := range p.Layouts {
			lc := layout
			if layout.Overrides != nil {
				lc.Overrides = maps.Clone(layout.Overrides)
			}
			out.Layouts[name] = lc
		}
	}
	if p.Meta != nil {
		out.Meta = maps.Clone(p.Meta)
	}
	return &out
}

func cloneRefs(refs []Ref) []Ref {
	if refs == nil {
		return nil
	}
	out := make([]Ref, len(refs))
	copy(out, refs)
	return out
}
