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
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
)

// Store methods implementing the history engine's model contract.
//
// Getters hand out deep copies; restores take ownership of the copy
// they receive. The engine holds its own lock while calling in here,
// so nothing below may call back into the engine. Spatial and
// visibility bookkeeping runs after the store lock drops; neither
// index ever calls the engine, so that is safe under its lock.

var _ history.Model = (*Store)(nil)

// =============================================================================
// State getters
// =============================================================================

// PageState returns a deep copy of a page, or false if unknown.
func (s *Store) PageState(pageID string) (*course.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pg, ok := s.pages[pageID]
	if !ok {
		return nil, false
	}
	return pg.Clone(), true
}

// LessonState returns a deep copy of a lesson, or false if unknown.
// The copy carries the lesson's whole page subtree.
func (s *Store) LessonState(lessonID string) (*course.Lesson, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	les, ok := s.lessons[lessonID]
	if !ok {
		return nil, false
	}
	return les.Clone(), true
}

// ModuleState returns a deep copy of a module, or false if unknown.
func (s *Store) ModuleState(moduleID string) (*course.Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.course == nil {
		return nil, false
	}
	m, ok := s.course.Modules[moduleID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// StructureState returns a deep copy of the course-wide module
// arrangement, or false when no course is loaded.
func (s *Store) StructureState() (*history.StructureState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.course == nil {
		return nil, false
	}
	st := &history.StructureState{
		Refs:    append([]course.Ref(nil), s.course.ModuleRefs...),
		Modules: make(map[string]*course.Module, len(s.course.Modules)),
	}
	for id, m := range s.course.Modules {
		st.Modules[id] = m.Clone()
	}
	return st, true
}

// TimelineState returns deep copies of every timeline record, sorted
// by ID.
func (s *Store) TimelineState() []*timeline.Record {
	if s.timelines == nil {
		return nil
	}
	return s.timelines.All()
}

// PageTimelines returns deep copies of one page's timeline records in
// creation order.
func (s *Store) PageTimelines(pageID string) []*timeline.Record {
	if s.timelines == nil {
		return nil
	}
	return s.timelines.ForPage(pageID)
}

// PageGeneration returns the page's mutation counter, or zero if the
// page is unknown.
func (s *Store) PageGeneration(pageID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[pageID]
}

// =============================================================================
// Restores
// =============================================================================

// RestorePage replaces a page's content wholesale. The page keeps its
// slot in the lesson's ref list; only the body changes.
func (s *Store) RestorePage(page *course.Page) bool {
	if page == nil {
		return false
	}
	s.mu.Lock()
	lessonID, ok := s.pageLesson[page.ID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	les := s.lessons[lessonID]
	if old := les.Pages[page.ID]; old != nil {
		for _, el := range old.Elements {
			delete(s.elementPage, el.ID)
		}
	}
	les.Pages[page.ID] = page
	s.pages[page.ID] = page
	for _, el := range page.Elements {
		s.elementPage[el.ID] = page.ID
	}
	s.bumpGenLocked(page.ID)
	s.mu.Unlock()

	if s.spatial != nil {
		s.spatial.MarkStale(page.ID)
	}
	if s.viewport != nil {
		s.viewport.Invalidate(page.ID)
	}
	return true
}

// RestoreLesson replaces a lesson wholesale, pages included. Pages the
// snapshot does not carry fall out of every index; pages it does carry
// are reindexed with fresh generations.
func (s *Store) RestoreLesson(lesson *course.Lesson) bool {
	if lesson == nil {
		return false
	}
	s.mu.Lock()
	moduleID, ok := s.lessonModule[lesson.ID]
	if !ok || s.course == nil {
		s.mu.Unlock()
		return false
	}
	m := s.course.Modules[moduleID]
	var dropped []string
	if old := m.Lessons[lesson.ID]; old != nil {
		for _, p := range old.Pages {
			s.unindexPageLocked(p)
			if lesson.Pages[p.ID] == nil {
				dropped = append(dropped, p.ID)
			}
		}
	}
	m.Lessons[lesson.ID] = lesson
	s.lessons[lesson.ID] = lesson
	kept := make([]string, 0, len(lesson.Pages))
	for _, p := range lesson.Pages {
		s.indexPageLocked(lesson.ID, p)
		kept = append(kept, p.ID)
	}
	s.mu.Unlock()

	s.syncRestoredPages(dropped, kept)
	return true
}

// RestoreModule replaces a module wholesale, lessons and pages
// included.
func (s *Store) RestoreModule(module *course.Module) bool {
	if module == nil {
		return false
	}
	s.mu.Lock()
	if s.course == nil || s.course.Modules[module.ID] == nil {
		s.mu.Unlock()
		return false
	}
	old := s.course.Modules[module.ID]
	var dropped []string
	for _, l := range old.Lessons {
		delete(s.lessons, l.ID)
		delete(s.lessonModule, l.ID)
		for _, p := range l.Pages {
			s.unindexPageLocked(p)
			if !moduleHasPage(module, p.ID) {
				dropped = append(dropped, p.ID)
			}
		}
	}
	s.course.Modules[module.ID] = module
	var kept []string
	for _, l := range module.Lessons {
		s.lessons[l.ID] = l
		s.lessonModule[l.ID] = module.ID
		for _, p := range l.Pages {
			s.indexPageLocked(l.ID, p)
			kept = append(kept, p.ID)
		}
	}
	s.mu.Unlock()

	s.syncRestoredPages(dropped, kept)
	return true
}

// RestoreStructure replaces the course-wide module arrangement and
// rebuilds every derived index from scratch.
func (s *Store) RestoreStructure(st *history.StructureState) bool {
	if st == nil {
		return false
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return false
	}
	before := make(map[string]bool, len(s.pages))
	for id := range s.pages {
		before[id] = true
	}
	s.course.ModuleRefs = st.Refs
	s.course.Modules = st.Modules
	s.reindexLocked()
	var dropped, kept []string
	for id := range before {
		if _, ok := s.pages[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	for id := range s.pages {
		kept = append(kept, id)
	}
	s.mu.Unlock()

	s.syncRestoredPages(dropped, kept)
	return true
}

// RestoreTimelines replaces the full timeline record set.
func (s *Store) RestoreTimelines(records []*timeline.Record) {
	if s.timelines != nil {
		s.timelines.RestoreAll(records)
	}
}

// RestorePageTimelines replaces one page's timeline records.
func (s *Store) RestorePageTimelines(pageID string, records []*timeline.Record) {
	if s.timelines != nil {
		s.timelines.RestorePage(pageID, records)
	}
}

// syncRestoredPages clears dropped pages out of the indexes and marks
// surviving pages for lazy rebuild. Timeline records are left alone
// either way; the timeline scope versions those separately, and a page
// that comes back on the next redo finds its records still attached.
func (s *Store) syncRestoredPages(dropped, kept []string) {
	for _, id := range dropped {
		if s.spatial != nil {
			s.spatial.RemovePage(id)
		}
		if s.viewport != nil {
			s.viewport.Invalidate(id)
		}
	}
	for _, id := range kept {
		if s.spatial != nil {
			s.spatial.MarkStale(id)
		}
		if s.viewport != nil {
			s.viewport.Invalidate(id)
		}
	}
}

func moduleHasPage(m *course.Module, pageID string) bool {
	for _, l := range m.Lessons {
		if l.Pages[pageID] != nil {
			return true
		}
	}
	return false
}
