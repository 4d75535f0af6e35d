// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project holds the in-memory document store for an open course
// and every mutation the editor performs on it.
//
// The Store owns the entity tree (course, modules, lessons, pages,
// elements) plus the derived indexes that make lookups cheap: element
// to page, page to lesson, lesson to module, and a per-page generation
// counter the history engine uses to skip no-change commits. Every
// mutation follows one discipline: take the write lock, mutate and
// reindex, release the lock, then notify collaborators (spatial index,
// visibility cache, history engine, autosave). The store never holds
// its own lock while calling a collaborator, which is what lets the
// history engine call back into it safely.
//
// Stale IDs are ignored rather than surfaced: the renderer's idea of
// the current selection can outlive the entity it points at across
// reactive updates, so a miss mutates nothing and returns no error.
// Errors are reserved for invalid input the user should see.
package project

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
	"github.com/AleutianAI/AleutianStudio/services/studio/history"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
	"github.com/AleutianAI/AleutianStudio/services/studio/spatial"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
	"github.com/AleutianAI/AleutianStudio/services/studio/viewport"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_project_mutations_total",
			Help: "Store mutations that changed project state, by operation.",
		},
		[]string{"op"},
	)
	staleRefsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_project_stale_refs_total",
			Help: "Mutations ignored because they named a missing entity.",
		},
		[]string{"op"},
	)
	loadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_project_loads_total",
			Help: "Projects installed into the store.",
		},
	)
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoProject is returned by operations called before Load.
	ErrNoProject = errors.New("no project loaded")

	// ErrInvalidKind rejects element creation with an unknown kind.
	ErrInvalidKind = errors.New("element kind is not valid")

	// ErrInvalidColor rejects colors that are not hex, none, or
	// transparent.
	ErrInvalidColor = errors.New("color must be hex, none, or transparent")

	// ErrInvalidLayout rejects layouts without a name or positive width.
	ErrInvalidLayout = errors.New("layout needs a name and a positive width")

	// ErrInvalidRange rejects numeric input outside its allowed range.
	ErrInvalidRange = errors.New("value outside the allowed range")

	// ErrLockedElement rejects edits to a locked element.
	ErrLockedElement = errors.New("element is locked")

	// ErrSelection rejects group, align, and distribute calls whose
	// selection cannot support the operation.
	ErrSelection = errors.New("selection does not support this operation")

	// ErrNotCollection rejects collection operations aimed at an
	// element that is not a collection.
	ErrNotCollection = errors.New("element is not a collection")
)

// maxParentHops caps parent-chain walks so a cycle a malformed document
// smuggled past validation cannot hang a traversal.
const maxParentHops = 64

// minSpan is the smallest width or height a computed bounding box may
// have. Zero-area boxes (two stacked lines, an empty text run) clamp up
// to this instead of erroring.
const minSpan = 1.0

// saveScopeCourse is the autosave scope for whole-document snapshots.
// Finer scopes reuse the history scope names.
const saveScopeCourse = "course"

// =============================================================================
// Config
// =============================================================================

// Config wires the store's collaborators. Everything is optional; nil
// collaborators are skipped at their call sites, and a nil IDs falls
// back to a memory-only generator.
type Config struct {
	// IDs allocates entity IDs.
	IDs *ident.Generator

	// Timelines supplies timeline snapshots co-versioned with pages.
	Timelines *timeline.Registry

	// Emitter receives project lifecycle events.
	Emitter *events.Emitter

	// Saver receives a fire-and-forget snapshot after each successful
	// mutation. Implemented by the autosave dispatcher; must not block.
	Saver history.Saver

	// Clock supplies timestamps for course metadata. Defaults to
	// time.Now.
	Clock func() time.Time

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Store
// =============================================================================

// Store is the authoritative in-memory state of one open project.
//
// # Description
//
// The entity tree hangs off course; lessons, pages, elementPage,
// pageLesson, and lessonModule are derived indexes rebuilt alongside
// every structural change. gens carries a per-page mutation counter
// drawn from a store-wide sequence, so a generation value never recurs
// even across delete and restore.
//
// # Thread Safety
//
// Safe for concurrent use. The write lock covers tree and index
// mutation only; history commits, index updates, and autosave run
// after it drops.
type Store struct {
	logger *slog.Logger
	clock  func() time.Time
	checks *validator.Validate

	ids       *ident.Generator
	timelines *timeline.Registry
	emitter   *events.Emitter
	saver     history.Saver

	history  *history.Engine
	spatial  *spatial.Index
	viewport *viewport.Cache

	mu           sync.RWMutex
	course       *course.Course
	lessons      map[string]*course.Lesson
	pages        map[string]*course.Page
	elementPage  map[string]string
	pageLesson   map[string]string
	lessonModule map[string]string
	gens         map[string]uint64
	genSeq       uint64
}

// NewStore creates an empty store. Load installs a project; the history
// engine and indexes attach afterwards because they need the store as
// their state source.
func NewStore(cfg Config) *Store {
	if cfg.IDs == nil {
		cfg.IDs = ident.NewGenerator(ident.Config{})
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		logger:       cfg.Logger.With("component", "project"),
		clock:        cfg.Clock,
		checks:       validator.New(),
		ids:          cfg.IDs,
		timelines:    cfg.Timelines,
		emitter:      cfg.Emitter,
		saver:        cfg.Saver,
		lessons:      make(map[string]*course.Lesson),
		pages:        make(map[string]*course.Page),
		elementPage:  make(map[string]string),
		pageLesson:   make(map[string]string),
		lessonModule: make(map[string]string),
		gens:         make(map[string]uint64),
	}
}

// AttachHistory wires the history engine that snapshots this store.
// Call once during assembly, before concurrent use.
func (s *Store) AttachHistory(engine *history.Engine) {
	s.history = engine
}

// AttachIndexes wires the spatial index and visibility cache fed by
// this store. Call once during assembly, before concurrent use.
func (s *Store) AttachIndexes(ix *spatial.Index, vc *viewport.Cache) {
	s.spatial = ix
	s.viewport = vc
}

// =============================================================================
// Loading
// =============================================================================

// NewProject creates an empty course and installs it.
//
// # Outputs
//
//   - string: The new course ID.
//   - error: Nil on success.
func (s *Store) NewProject(title string) (string, error) {
	id := uuid.NewString()
	c := course.NewCourse(id, title, s.clock().UnixMilli())
	if err := s.Load(c); err != nil {
		return "", err
	}
	return id, nil
}

// Load installs a validated course as the open project.
//
// # Description
//
// The store takes ownership of the course; callers must hand over a
// tree nothing else mutates. Loading rebuilds every derived index,
// advances the ID generator past all existing IDs, resets history, and
// seeds one baseline commit per entity so each undo stack floors at
// the loaded state. Timeline records load separately through the
// registry.
//
// # Inputs
//
//   - c: The course to install. Must have an ID.
//
// # Outputs
//
//   - error: Nil on success.
func (s *Store) Load(c *course.Course) error {
	return s.LoadMigrated(c, 0)
}

// LoadMigrated is Load for a course that was migrated forward on read.
// migratedFrom is the document version the file carried, or zero when
// no migration ran; it only annotates the loaded event.
func (s *Store) LoadMigrated(c *course.Course, migratedFrom int) error {
	if c == nil || c.ID == "" {
		return errors.New("course is nil or has no ID")
	}

	s.mu.Lock()
	var stalePages []string
	for id := range s.pages {
		stalePages = append(stalePages, id)
	}
	s.course = c
	s.reindexLocked()
	ids := s.collectIDsLocked()
	nModules, nLessons, nPages, nElements := s.countsLocked()
	s.mu.Unlock()

	s.ids.InitFromExisting(ids)

	for _, id := range stalePages {
		s.dropPageIndexes(id)
	}
	if s.history != nil {
		s.history.Reset()
		s.seedBaselines(c)
	}
	if s.spatial != nil {
		s.mu.RLock()
		for id := range s.pages {
			s.spatial.MarkStale(id)
		}
		s.mu.RUnlock()
	}

	if s.emitter != nil {
		s.emitter.SetProjectID(c.ID)
		s.emitter.Emit(events.TypeProjectLoaded, &events.ProjectLoadedData{
			CourseID:     c.ID,
			Title:        c.Title,
			Version:      c.Version,
			MigratedFrom: migratedFrom,
			Modules:      nModules,
			Lessons:      nLessons,
			Pages:        nPages,
			Elements:     nElements,
		})
	}
	loadsTotal.Inc()
	s.logger.Info("project loaded",
		"course", c.ID,
		"modules", nModules,
		"lessons", nLessons,
		"pages", nPages,
		"elements", nElements)
	return nil
}

// seedBaselines pushes one commit per entity onto a freshly reset
// engine. Baselines sit at depth one, so nothing is undoable until the
// first real edit, and every stack's floor is the loaded state.
func (s *Store) seedBaselines(c *course.Course) {
	s.history.CommitModuleStructure()
	for _, mref := range c.ModuleRefs {
		m := c.Module(mref.ID)
		if m == nil {
			continue
		}
		s.history.CommitModule(m.ID, history.CategoryAuto)
		for _, lref := range m.LessonRefs {
			l := m.Lesson(lref.ID)
			if l == nil {
				continue
			}
			s.history.CommitLesson(l.ID, history.CategoryAuto)
			for _, pref := range l.PageRefs {
				if l.Page(pref.ID) != nil {
					s.history.CommitPage(pref.ID, history.CategoryAuto)
				}
			}
		}
	}
	s.history.CommitTimeline()
}

// =============================================================================
// Read access
// =============================================================================

// CourseSnapshot returns a deep copy of the open course, or false when
// nothing is loaded.
func (s *Store) CourseSnapshot() (*course.Course, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.course == nil {
		return nil, false
	}
	return s.course.Clone(), true
}

// ProjectID returns the open course's ID, or empty.
func (s *Store) ProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.course == nil {
		return ""
	}
	return s.course.ID
}

// ElementState returns a deep copy of one element, or false if either
// ID is stale.
func (s *Store) ElementState(pageID, elementID string) (*course.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pg, ok := s.pages[pageID]
	if !ok {
		return nil, false
	}
	el := pg.Element(elementID)
	if el == nil {
		return nil, false
	}
	return el.Clone(), true
}

// PageOf returns the page owning an element.
func (s *Store) PageOf(elementID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.elementPage[elementID]
	return id, ok
}

// LessonOf returns the lesson owning a page.
func (s *Store) LessonOf(pageID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pageLesson[pageID]
	return id, ok
}

// ModuleOf returns the module owning a lesson.
func (s *Store) ModuleOf(lessonID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.lessonModule[lessonID]
	return id, ok
}

// =============================================================================
// Course metadata
// =============================================================================

// Course metadata sits outside the undo system. The original editor
// changed it through a settings dialog that saved directly, and the
// history scopes version structure and content, not document settings.

// SetCourseTitle updates the course title.
func (s *Store) SetCourseTitle(title string) error {
	return s.setCourseMeta("set_course_title", func(c *course.Course) {
		c.Title = title
	})
}

// SetCourseDescription updates the course description.
func (s *Store) SetCourseDescription(desc string) error {
	return s.setCourseMeta("set_course_description", func(c *course.Course) {
		c.Description = desc
	})
}

// SetCoursePublished flips the course's published flag.
func (s *Store) SetCoursePublished(published bool) error {
	return s.setCourseMeta("set_course_published", func(c *course.Course) {
		c.Published = published
	})
}

func (s *Store) setCourseMeta(op string, apply func(*course.Course)) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	apply(s.course)
	s.touchLocked()
	save := s.saveCourseLocked()
	s.mu.Unlock()

	s.flushSave(save)
	mutationsTotal.WithLabelValues(op).Inc()
	return nil
}

// =============================================================================
// Geometry source
// =============================================================================

// PageBounds returns the absolute bounding box of every element on a
// page. It is the state source for both the spatial index and the
// visibility cache.
//
// # Outputs
//
//   - map[string]geom.Rect: Element ID to page-coordinate bounds.
//   - bool: False when the page is unknown.
func (s *Store) PageBounds(pageID string) (map[string]geom.Rect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pg, ok := s.pages[pageID]
	if !ok {
		return nil, false
	}
	out := make(map[string]geom.Rect, len(pg.Elements))
	for _, el := range pg.Elements {
		out[el.ID] = absoluteBounds(pg, el)
	}
	return out, true
}

// absoluteBounds translates an element's local bounding box into page
// coordinates by walking its parent chain and accumulating container
// origins.
func absoluteBounds(pg *course.Page, el *course.Element) geom.Rect {
	box := el.LocalBounds()
	parentID := el.ParentID
	for hops := 0; parentID != "" && hops < maxParentHops; hops++ {
		parent := pg.Element(parentID)
		if parent == nil {
			break
		}
		box = box.Translate(parent.Position.X, parent.Position.Y)
		parentID = parent.ParentID
	}
	return box
}

// =============================================================================
// Spatial queries and visibility
// =============================================================================

// ElementsInRect returns the IDs of elements whose absolute bounds
// intersect the query rectangle. With no index attached it scans the
// page directly; results are identical either way.
func (s *Store) ElementsInRect(pageID string, query geom.Rect) []string {
	if s.spatial != nil {
		return s.spatial.QueryRect(pageID, query)
	}
	bounds, ok := s.PageBounds(pageID)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bounds))
	for id, box := range bounds {
		if box.Intersects(query) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ElementsAtPoint returns the IDs of elements whose absolute bounds
// contain the point.
func (s *Store) ElementsAtPoint(pageID string, p geom.Point) []string {
	if s.spatial != nil {
		return s.spatial.QueryPoint(pageID, p)
	}
	bounds, ok := s.PageBounds(pageID)
	if !ok {
		return nil
	}
	out := make([]string, 0, 4)
	for id, box := range bounds {
		if box.ContainsPoint(p) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SetViewport records the visible stage rectangle for a page and
// recomputes its culling set.
func (s *Store) SetViewport(pageID string, view geom.Rect) {
	if s.viewport != nil {
		s.viewport.UpdateViewport(pageID, view)
	}
}

// VisibleElements returns the cached visible set for a page. False
// means no viewport has been set and the caller should render
// everything.
func (s *Store) VisibleElements(pageID string) ([]string, bool) {
	if s.viewport == nil {
		return nil, false
	}
	return s.viewport.VisibleSet(pageID)
}

// =============================================================================
// Internal plumbing
// =============================================================================

// reindexLocked rebuilds every derived index from the course tree.
func (s *Store) reindexLocked() {
	s.lessons = make(map[string]*course.Lesson)
	s.pages = make(map[string]*course.Page)
	s.elementPage = make(map[string]string)
	s.pageLesson = make(map[string]string)
	s.lessonModule = make(map[string]string)
	s.gens = make(map[string]uint64)
	if s.course == nil {
		return
	}
	for _, m := range s.course.Modules {
		for _, l := range m.Lessons {
			s.lessons[l.ID] = l
			s.lessonModule[l.ID] = m.ID
			for _, p := range l.Pages {
				s.indexPageLocked(l.ID, p)
			}
		}
	}
}

// indexPageLocked registers a page and its elements in the derived
// indexes and assigns it a fresh generation.
func (s *Store) indexPageLocked(lessonID string, pg *course.Page) {
	s.pages[pg.ID] = pg
	s.pageLesson[pg.ID] = lessonID
	s.genSeq++
	s.gens[pg.ID] = s.genSeq
	for _, el := range pg.Elements {
		s.elementPage[el.ID] = pg.ID
	}
}

// unindexPageLocked drops a page and its elements from the derived
// indexes.
func (s *Store) unindexPageLocked(pg *course.Page) {
	for _, el := range pg.Elements {
		delete(s.elementPage, el.ID)
	}
	delete(s.pages, pg.ID)
	delete(s.pageLesson, pg.ID)
	delete(s.gens, pg.ID)
}

// bumpGenLocked advances a page's generation. Generations come from a
// store-wide sequence so a value never recurs, even after a page is
// deleted and restored.
func (s *Store) bumpGenLocked(pageID string) {
	s.genSeq++
	s.gens[pageID] = s.genSeq
}

// touchLocked stamps the course's update time.
func (s *Store) touchLocked() {
	if s.course != nil {
		s.course.UpdatedAt = s.clock().UnixMilli()
	}
}

// collectIDsLocked gathers every entity ID for generator advancement.
func (s *Store) collectIDsLocked() []string {
	if s.course == nil {
		return nil
	}
	var ids []string
	for id, m := range s.course.Modules {
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

func (s *Store) countsLocked() (modules, lessons, pages, elements int) {
	if s.course == nil {
		return 0, 0, 0, 0
	}
	modules = len(s.course.Modules)
	lessons = len(s.lessons)
	pages = len(s.pages)
	for _, pg := range s.pages {
		elements += len(pg.Elements)
	}
	return modules, lessons, pages, elements
}

// staleRef records a mutation that named a missing entity and was
// dropped.
func (s *Store) staleRef(op, id string) {
	staleRefsTotal.WithLabelValues(op).Inc()
	s.logger.Debug("stale reference ignored", "op", op, "id", id)
}

// -----------------------------------------------------------------------------
// History commit helpers
// -----------------------------------------------------------------------------

func (s *Store) commitPage(pageID string, cat history.Category) {
	if s.history != nil {
		s.history.CommitPage(pageID, cat)
	}
}

func (s *Store) commitLesson(lessonID string, cat history.Category) {
	if s.history != nil {
		s.history.CommitLesson(lessonID, cat)
	}
}

func (s *Store) commitModule(moduleID string, cat history.Category) {
	if s.history != nil {
		s.history.CommitModule(moduleID, cat)
	}
}

func (s *Store) commitStructure() {
	if s.history != nil {
		s.history.CommitModuleStructure()
	}
}

func (s *Store) forget(scope history.Scope, id string) {
	if s.history != nil {
		s.history.Forget(scope, id)
	}
}

// -----------------------------------------------------------------------------
// Autosave helpers
// -----------------------------------------------------------------------------

// pendingSave is a snapshot captured under the write lock and queued
// after it drops.
type pendingSave struct {
	scope   string
	key     string
	payload any
}

func (s *Store) savePageLocked(pg *course.Page) pendingSave {
	if s.saver == nil {
		return pendingSave{}
	}
	return pendingSave{string(history.ScopePage), pg.ID, pg.Clone()}
}

func (s *Store) saveLessonLocked(les *course.Lesson) pendingSave {
	if s.saver == nil {
		return pendingSave{}
	}
	return pendingSave{string(history.ScopeLesson), les.ID, les.Clone()}
}

func (s *Store) saveModuleLocked(m *course.Module) pendingSave {
	if s.saver == nil {
		return pendingSave{}
	}
	return pendingSave{string(history.ScopeModule), m.ID, m.Clone()}
}

func (s *Store) saveCourseLocked() pendingSave {
	if s.saver == nil || s.course == nil {
		return pendingSave{}
	}
	return pendingSave{saveScopeCourse, s.course.ID, s.course.Clone()}
}

func (s *Store) flushSave(p pendingSave) {
	if p.payload != nil {
		s.saver.Queue(p.scope, p.key, p.payload)
	}
}

// -----------------------------------------------------------------------------
// Index sync helpers
// -----------------------------------------------------------------------------

// elemSync is one pending index update collected under the write lock
// and applied after it drops.
type elemSync struct {
	id      string
	box     geom.Rect
	removed bool
}

// syncElements pushes a batch of element bound changes into the spatial
// index and the visibility cache.
func (s *Store) syncElements(pageID string, syncs []elemSync) {
	if len(syncs) == 0 {
		return
	}
	if s.spatial != nil {
		for _, u := range syncs {
			if u.removed {
				s.spatial.RemoveElement(pageID, u.id)
			} else {
				s.spatial.SetElement(pageID, u.id, u.box)
			}
		}
	}
	if s.viewport != nil {
		ups := make([]viewport.ElementUpdate, len(syncs))
		for i, u := range syncs {
			ups[i] = viewport.ElementUpdate{ID: u.id, Bounds: u.box, Removed: u.removed}
		}
		s.viewport.ApplyUpdates(pageID, ups)
	}
}

// dropPageIndexes clears a deleted page out of the spatial index, the
// visibility cache, and the timeline registry.
func (s *Store) dropPageIndexes(pageID string) {
	if s.spatial != nil {
		s.spatial.RemovePage(pageID)
	}
	if s.viewport != nil {
		s.viewport.Invalidate(pageID)
	}
	if s.timelines != nil {
		s.timelines.RemovePage(pageID)
	}
}

