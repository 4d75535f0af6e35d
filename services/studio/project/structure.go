// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/history"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// Structural mutations: create, rename, delete, reorder, and move for
// modules, lessons, and pages.
//
// Each operation lands exactly one undoable history commit on the
// scope that owns the change. Creation additionally seeds the new
// entity's own stack with a baseline, so its first real edit has a
// floor to undo back to. Deletion forgets the dead entity's stacks;
// an entity resurrected by undoing its parent starts with fresh
// history.

// =============================================================================
// Create
// =============================================================================

// CreateModule appends an empty module to the course.
//
// # Outputs
//
//   - string: The new module ID.
//   - error: ErrNoProject before Load, nil otherwise.
func (s *Store) CreateModule(title string) (string, error) {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return "", ErrNoProject
	}
	id := s.ids.Next(ident.KindModule)
	m := course.NewModule(id, title)
	s.course.Modules[id] = m
	s.course.ModuleRefs = append(s.course.ModuleRefs, course.Ref{ID: id, Order: len(s.course.ModuleRefs) + 1})
	s.touchLocked()
	save := s.saveCourseLocked()
	s.mu.Unlock()

	s.commitStructure()
	s.commitModule(id, history.CategoryAuto)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("create_module").Inc()
	return id, nil
}

// CreateLesson appends an empty lesson to a module.
//
// # Outputs
//
//   - string: The new lesson ID, empty when the module reference was
//     stale.
//   - error: ErrNoProject before Load, nil otherwise.
func (s *Store) CreateLesson(moduleID, title string) (string, error) {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return "", ErrNoProject
	}
	m, ok := s.course.Modules[moduleID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("create_lesson", moduleID)
		return "", nil
	}
	id := s.ids.Next(ident.KindLesson)
	l := course.NewLesson(id, title)
	m.Lessons[id] = l
	m.LessonRefs = append(m.LessonRefs, course.Ref{ID: id, Order: len(m.LessonRefs) + 1})
	s.lessons[id] = l
	s.lessonModule[id] = moduleID
	s.touchLocked()
	save := s.saveModuleLocked(m)
	s.mu.Unlock()

	s.commitModule(moduleID, history.CategoryStructure)
	s.commitLesson(id, history.CategoryAuto)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("create_lesson").Inc()
	return id, nil
}

// CreatePage appends an empty page to a lesson.
//
// # Outputs
//
//   - string: The new page ID, empty when the lesson reference was
//     stale.
//   - error: ErrNoProject before Load, nil otherwise.
func (s *Store) CreatePage(lessonID, name string) (string, error) {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return "", ErrNoProject
	}
	les, ok := s.lessons[lessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("create_page", lessonID)
		return "", nil
	}
	id := s.ids.Next(ident.KindPage)
	pg := course.NewPage(id, name)
	les.Pages[id] = pg
	les.PageRefs = append(les.PageRefs, course.Ref{ID: id, Order: len(les.PageRefs) + 1})
	s.indexPageLocked(lessonID, pg)
	s.touchLocked()
	save := s.saveLessonLocked(les)
	s.mu.Unlock()

	s.commitLesson(lessonID, history.CategoryStructure)
	s.commitPage(id, history.CategoryAuto)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("create_page").Inc()
	return id, nil
}

// =============================================================================
// Rename
// =============================================================================

// RenameModule sets a module's title.
func (s *Store) RenameModule(moduleID, title string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	m, ok := s.course.Modules[moduleID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("rename_module", moduleID)
		return nil
	}
	m.Title = title
	s.touchLocked()
	save := s.saveModuleLocked(m)
	s.mu.Unlock()

	s.commitModule(moduleID, history.CategoryMeta)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("rename_module").Inc()
	return nil
}

// RenameLesson sets a lesson's title.
func (s *Store) RenameLesson(lessonID, title string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	les, ok := s.lessons[lessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("rename_lesson", lessonID)
		return nil
	}
	les.Title = title
	s.touchLocked()
	save := s.saveLessonLocked(les)
	s.mu.Unlock()

	s.commitLesson(lessonID, history.CategoryMeta)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("rename_lesson").Inc()
	return nil
}

// RenamePage sets a page's display name.
func (s *Store) RenamePage(pageID, name string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("rename_page", pageID)
		return nil
	}
	pg.Name = name
	s.bumpGenLocked(pageID)
	s.touchLocked()
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.commitPage(pageID, history.CategoryMeta)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("rename_page").Inc()
	return nil
}

// =============================================================================
// Delete
// =============================================================================

// DeleteModule removes a module and everything under it.
func (s *Store) DeleteModule(moduleID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	m, ok := s.course.Modules[moduleID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("delete_module", moduleID)
		return nil
	}
	s.course.ModuleRefs = removeRef(s.course.ModuleRefs, moduleID)
	delete(s.course.Modules, moduleID)
	var lessonIDs, pageIDs []string
	for _, l := range m.Lessons {
		lessonIDs = append(lessonIDs, l.ID)
		delete(s.lessons, l.ID)
		delete(s.lessonModule, l.ID)
		for _, p := range l.Pages {
			pageIDs = append(pageIDs, p.ID)
			s.unindexPageLocked(p)
		}
	}
	s.touchLocked()
	save := s.saveCourseLocked()
	s.mu.Unlock()

	for _, id := range pageIDs {
		s.dropPageIndexes(id)
		s.forget(history.ScopePage, id)
	}
	for _, id := range lessonIDs {
		s.forget(history.ScopeLesson, id)
	}
	s.forget(history.ScopeModule, moduleID)
	s.commitStructure()
	s.flushSave(save)
	mutationsTotal.WithLabelValues("delete_module").Inc()
	return nil
}

// DeleteLesson removes a lesson and its pages.
func (s *Store) DeleteLesson(lessonID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	les, ok := s.lessons[lessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("delete_lesson", lessonID)
		return nil
	}
	moduleID := s.lessonModule[lessonID]
	m := s.course.Modules[moduleID]
	m.LessonRefs = removeRef(m.LessonRefs, lessonID)
	delete(m.Lessons, lessonID)
	delete(s.lessons, lessonID)
	delete(s.lessonModule, lessonID)
	var pageIDs []string
	for _, p := range les.Pages {
		pageIDs = append(pageIDs, p.ID)
		s.unindexPageLocked(p)
	}
	s.touchLocked()
	save := s.saveModuleLocked(m)
	s.mu.Unlock()

	for _, id := range pageIDs {
		s.dropPageIndexes(id)
		s.forget(history.ScopePage, id)
	}
	s.forget(history.ScopeLesson, lessonID)
	s.commitModule(moduleID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("delete_lesson").Inc()
	return nil
}

// DeletePage removes a page, its elements, and its timeline records.
func (s *Store) DeletePage(pageID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("delete_page", pageID)
		return nil
	}
	lessonID := s.pageLesson[pageID]
	les := s.lessons[lessonID]
	les.PageRefs = removeRef(les.PageRefs, pageID)
	delete(les.Pages, pageID)
	s.unindexPageLocked(pg)
	s.touchLocked()
	save := s.saveLessonLocked(les)
	s.mu.Unlock()

	s.dropPageIndexes(pageID)
	s.forget(history.ScopePage, pageID)
	s.commitLesson(lessonID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("delete_page").Inc()
	return nil
}

// =============================================================================
// Reorder
// =============================================================================

// ReorderModule moves a module to a new position among its siblings.
// position is a zero-based index into the sibling list, clamped.
func (s *Store) ReorderModule(moduleID string, position int) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	refs, ok := moveRef(s.course.ModuleRefs, moduleID, position)
	if !ok {
		s.mu.Unlock()
		s.staleRef("reorder_module", moduleID)
		return nil
	}
	s.course.ModuleRefs = refs
	s.touchLocked()
	save := s.saveCourseLocked()
	s.mu.Unlock()

	s.commitStructure()
	s.flushSave(save)
	mutationsTotal.WithLabelValues("reorder_module").Inc()
	return nil
}

// ReorderLesson moves a lesson to a new position within its module.
func (s *Store) ReorderLesson(lessonID string, position int) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	moduleID, ok := s.lessonModule[lessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("reorder_lesson", lessonID)
		return nil
	}
	m := s.course.Modules[moduleID]
	refs, ok := moveRef(m.LessonRefs, lessonID, position)
	if !ok {
		s.mu.Unlock()
		s.staleRef("reorder_lesson", lessonID)
		return nil
	}
	m.LessonRefs = refs
	s.touchLocked()
	save := s.saveModuleLocked(m)
	s.mu.Unlock()

	s.commitModule(moduleID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("reorder_lesson").Inc()
	return nil
}

// ReorderPage moves a page to a new position within its lesson.
func (s *Store) ReorderPage(pageID string, position int) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	lessonID, ok := s.pageLesson[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("reorder_page", pageID)
		return nil
	}
	les := s.lessons[lessonID]
	refs, ok := moveRef(les.PageRefs, pageID, position)
	if !ok {
		s.mu.Unlock()
		s.staleRef("reorder_page", pageID)
		return nil
	}
	les.PageRefs = refs
	s.touchLocked()
	save := s.saveLessonLocked(les)
	s.mu.Unlock()

	s.commitLesson(lessonID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("reorder_page").Inc()
	return nil
}

// =============================================================================
// Move across parents
// =============================================================================

// MoveLesson reparents a lesson to the end of another module. Because
// the change spans two modules, it commits on the course-wide
// structure scope.
func (s *Store) MoveLesson(lessonID, toModuleID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	fromModuleID, ok := s.lessonModule[lessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("move_lesson", lessonID)
		return nil
	}
	dst, ok := s.course.Modules[toModuleID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("move_lesson", toModuleID)
		return nil
	}
	if fromModuleID == toModuleID {
		s.mu.Unlock()
		return nil
	}
	src := s.course.Modules[fromModuleID]
	les := src.Lessons[lessonID]
	src.LessonRefs = removeRef(src.LessonRefs, lessonID)
	delete(src.Lessons, lessonID)
	dst.Lessons[lessonID] = les
	dst.LessonRefs = append(dst.LessonRefs, course.Ref{ID: lessonID, Order: len(dst.LessonRefs) + 1})
	s.lessonModule[lessonID] = toModuleID
	s.touchLocked()
	save := s.saveCourseLocked()
	s.mu.Unlock()

	s.commitStructure()
	s.flushSave(save)
	mutationsTotal.WithLabelValues("move_lesson").Inc()
	return nil
}

// MovePage reparents a page to the end of another lesson. Within one
// module the module scope owns the change; across modules it escalates
// to the course-wide structure scope.
func (s *Store) MovePage(pageID, toLessonID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	fromLessonID, ok := s.pageLesson[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("move_page", pageID)
		return nil
	}
	dst, ok := s.lessons[toLessonID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("move_page", toLessonID)
		return nil
	}
	if fromLessonID == toLessonID {
		s.mu.Unlock()
		return nil
	}
	src := s.lessons[fromLessonID]
	pg := src.Pages[pageID]
	src.PageRefs = removeRef(src.PageRefs, pageID)
	delete(src.Pages, pageID)
	dst.Pages[pageID] = pg
	dst.PageRefs = append(dst.PageRefs, course.Ref{ID: pageID, Order: len(dst.PageRefs) + 1})
	s.pageLesson[pageID] = toLessonID

	fromModuleID := s.lessonModule[fromLessonID]
	toModuleID := s.lessonModule[toLessonID]
	s.touchLocked()
	var save pendingSave
	if fromModuleID == toModuleID {
		save = s.saveModuleLocked(s.course.Modules[fromModuleID])
	} else {
		save = s.saveCourseLocked()
	}
	s.mu.Unlock()

	if fromModuleID == toModuleID {
		s.commitModule(fromModuleID, history.CategoryStructure)
	} else {
		s.commitStructure()
	}
	s.flushSave(save)
	mutationsTotal.WithLabelValues("move_page").Inc()
	return nil
}

// =============================================================================
// Page surface
// =============================================================================

// SetPageBackground sets the stage color behind a page's elements.
// Accepts hex colors, "none", "transparent", or empty to clear.
func (s *Store) SetPageBackground(pageID, color string) error {
	if color != "" {
		if err := s.checks.Var(color, "hexcolor|oneof=none transparent"); err != nil {
			return ErrInvalidColor
		}
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("set_page_background", pageID)
		return nil
	}
	pg.Background = color
	s.bumpGenLocked(pageID)
	s.touchLocked()
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.commitPage(pageID, history.CategoryStyle)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("set_page_background").Inc()
	return nil
}

// SetPageLayout adds or replaces a named responsive layout on a page.
func (s *Store) SetPageLayout(pageID string, layout course.Layout) error {
	if layout.Name == "" || layout.Width <= 0 {
		return ErrInvalidLayout
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("set_page_layout", pageID)
		return nil
	}
	if pg.Layouts == nil {
		pg.Layouts = make(map[string]course.Layout)
	}
	if layout.Overrides != nil {
		copied := make(map[string]course.Placement, len(layout.Overrides))
		for id, pl := range layout.Overrides {
			copied[id] = pl
		}
		layout.Overrides = copied
	}
	pg.Layouts[layout.Name] = layout
	s.bumpGenLocked(pageID)
	s.touchLocked()
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.commitPage(pageID, history.CategoryStyle)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("set_page_layout").Inc()
	return nil
}

// RemovePageLayout deletes a named layout from a page. A missing
// layout name is a no-op.
func (s *Store) RemovePageLayout(pageID, name string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("remove_page_layout", pageID)
		return nil
	}
	if _, ok := pg.Layouts[name]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(pg.Layouts, name)
	s.bumpGenLocked(pageID)
	s.touchLocked()
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.commitPage(pageID, history.CategoryStyle)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("remove_page_layout").Inc()
	return nil
}

// =============================================================================
// Ref list arithmetic
// =============================================================================

// removeRef drops one entry from a ref list and renumbers the rest so
// Order stays 1-based and contiguous.
func removeRef(refs []course.Ref, id string) []course.Ref {
	out := refs[:0]
	for _, r := range refs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// moveRef moves the entry with the given ID to the target index,
// clamped to the list, and renumbers. Returns false when the ID is
// absent.
func moveRef(refs []course.Ref, id string, at int) ([]course.Ref, bool) {
	from := -1
	for i, r := range refs {
		if r.ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		return refs, false
	}
	if at < 0 {
		at = 0
	}
	if at > len(refs)-1 {
		at = len(refs) - 1
	}
	moved := refs[from]
	refs = append(refs[:from], refs[from+1:]...)
	refs = append(refs, course.Ref{})
	copy(refs[at+1:], refs[at:])
	refs[at] = moved
	for i := range refs {
		refs[i].Order = i + 1
	}
	return refs, true
}
