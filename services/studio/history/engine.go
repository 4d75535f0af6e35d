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
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
)

// ErrNilModel is returned when constructing an engine without a model.
var ErrNilModel = errors.New("model must not be nil")

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	historyCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_history_commits_total",
		Help: "History commit attempts by scope and outcome",
	}, []string{"scope", "result"})

	historyRestoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_history_restores_total",
		Help: "Successful undo/redo restores by scope and direction",
	}, []string{"scope", "direction"})

	historyActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studio_history_active_sessions",
		Help: "Gesture sessions currently deferring commits",
	})
)

// -----------------------------------------------------------------------------
// Scopes
// -----------------------------------------------------------------------------

// Scope names one family of undo stacks.
type Scope string

const (
	// ScopePage versions a single page's content.
	ScopePage Scope = "page"

	// ScopeElement is an alias scope: element-internal edits version
	// on their page's stack.
	ScopeElement Scope = "element"

	// ScopeLesson versions a lesson's page arrangement and metadata.
	ScopeLesson Scope = "lesson"

	// ScopeModule versions a single module's metadata. The dispatcher
	// drains ScopeModuleStructure before this stack under module focus.
	ScopeModule Scope = "module"

	// ScopeModuleStructure versions the course-wide module ordering.
	// Singleton: the id argument is ignored.
	ScopeModuleStructure Scope = "module-structure"

	// ScopeTimeline versions the full timeline record set. Singleton.
	ScopeTimeline Scope = "timeline"

	// ScopeStage versions a page together with its timelines.
	ScopeStage Scope = "stage"
)

// -----------------------------------------------------------------------------
// Collaborator interfaces
// -----------------------------------------------------------------------------

// Model is the authoritative state the engine snapshots and restores.
// All state getters return deep copies the engine may keep; all
// restore calls receive deep copies the model may keep. Implemented by
// the project store.
//
// Lock ordering: the engine calls the model while holding its own
// lock, so model methods must never call back into the engine.
type Model interface {
	// PageState returns a deep copy of a page, or false if unknown.
	PageState(pageID string) (*course.Page, bool)

	// LessonState returns a deep copy of a lesson, or false if unknown.
	LessonState(lessonID string) (*course.Lesson, bool)

	// ModuleState returns a deep copy of a module, or false if unknown.
	ModuleState(moduleID string) (*course.Module, bool)

	// StructureState returns a deep copy of the course-wide module
	// arrangement, or false when no course is loaded.
	StructureState() (*StructureState, bool)

	// TimelineState returns deep copies of every timeline record in a
	// stable order.
	TimelineState() []*timeline.Record

	// PageTimelines returns deep copies of the records attached to one
	// page, in creation order.
	PageTimelines(pageID string) []*timeline.Record

	// PageGeneration returns the page's mutation counter, or zero if
	// the page is unknown.
	PageGeneration(pageID string) uint64

	// RestorePage replaces a page's content wholesale. Returns false
	// if the page no longer has a home in the model.
	RestorePage(page *course.Page) bool

	// RestoreLesson replaces a lesson wholesale.
	RestoreLesson(lesson *course.Lesson) bool

	// RestoreModule replaces a module wholesale.
	RestoreModule(module *course.Module) bool

	// RestoreStructure replaces the course-wide module arrangement.
	RestoreStructure(structure *StructureState) bool

	// RestoreTimelines replaces the full timeline record set.
	RestoreTimelines(records []*timeline.Record)

	// RestorePageTimelines replaces one page's timeline records.
	RestorePageTimelines(pageID string, records []*timeline.Record)
}

// Saver receives fire-and-forget persistence notifications after a
// restore. Implemented by the autosave dispatcher; must never block.
type Saver interface {
	Queue(scope string, key string, payload any)
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config holds the engine's tuning knobs and collaborators.
type Config struct {
	// Model is the authoritative state source. Required.
	Model Model

	// Depth bounds each stack's past ring. Oldest entries are silently
	// evicted beyond this.
	Depth int

	// SquashWindow is how close together two same-category structure
	// or meta commits must land to merge into one undo step.
	SquashWindow time.Duration

	// Saver receives restored state after undo/redo. Optional.
	Saver Saver

	// Emitter receives history.committed and history.restored events.
	// Optional.
	Emitter *events.Emitter

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock supplies timestamps; tests inject a fake. Defaults to
	// time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		Depth:        50,
		SquashWindow: 300 * time.Millisecond,
	}
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// sessionKind distinguishes drag-style gestures from isolation edits.
type sessionKind int

const (
	sessionTransform sessionKind = iota
	sessionIsolation
)

// session tracks one active gesture on a page. While a session is
// active, page commits are deferred: they only mark the session
// pending, and the session end produces at most one real commit.
type session struct {
	kind         sessionKind
	collectionID string
	pending      bool
	pre          *course.Page // isolation baseline for category computation
}

// Engine is the scoped undo/redo state machine.
//
// # Description
//
// The engine keeps one bounded stack per tracked entity: pages,
// lessons, modules, per-page stage composites, plus singletons for the
// course-wide module structure and the timeline set. Commits snapshot
// current model state; undo and redo restore snapshots back into the
// model. History is a best-effort convenience layer: missing IDs are
// silent no-ops and no operation panics outward, so a stale selection
// in the UI can never take the editor down.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Event emission and autosave
// notification happen outside the engine lock.
type Engine struct {
	model   Model
	saver   Saver
	emitter *events.Emitter
	logger  *slog.Logger
	clock   func() time.Time

	depth  int
	window time.Duration

	mu        sync.Mutex
	pages     map[string]*stack[*course.Page]
	lessons   map[string]*stack[*course.Lesson]
	modules   map[string]*stack[*course.Module]
	stages    map[string]*stack[*StageState]
	structure *stack[*StructureState]
	timelines *stack[[]*timeline.Record]
	sessions  map[string]*session
	recent    []target
}

// recentLimit bounds the commit-recency list used for unfocused
// undo routing.
const recentLimit = 32

// NewEngine creates an engine over the given model.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, ErrNilModel
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultConfig().Depth
	}
	if cfg.SquashWindow <= 0 {
		cfg.SquashWindow = DefaultConfig().SquashWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		model:     cfg.Model,
		saver:     cfg.Saver,
		emitter:   cfg.Emitter,
		logger:    logger.With(slog.String("component", "history_engine")),
		clock:     clock,
		depth:     cfg.Depth,
		window:    cfg.SquashWindow,
		pages:     make(map[string]*stack[*course.Page]),
		lessons:   make(map[string]*stack[*course.Lesson]),
		modules:   make(map[string]*stack[*course.Module]),
		stages:    make(map[string]*stack[*StageState]),
		structure: newStack[*StructureState](cfg.Depth),
		timelines: newStack[[]*timeline.Record](cfg.Depth),
		sessions:  make(map[string]*session),
	}, nil
}

// touchRecentLocked moves the target to the front of the recency list.
// The list drives undo routing when no focus is set: the stack that
// committed last is the one an unfocused Ctrl+Z should hit.
func (e *Engine) touchRecentLocked(scope Scope, id string) {
	t := target{scope: scope, id: id}
	for i, existing := range e.recent {
		if existing == t {
			copy(e.recent[1:i+1], e.recent[:i])
			e.recent[0] = t
			return
		}
	}
	e.recent = append([]target{t}, e.recent...)
	if len(e.recent) > recentLimit {
		e.recent = e.recent[:recentLimit]
	}
}

// dropRecentLocked removes all recency entries for the target.
func (e *Engine) dropRecentLocked(scope Scope, id string) {
	kept := e.recent[:0]
	for _, existing := range e.recent {
		if existing.scope == scope && existing.id == id {
			continue
		}
		kept = append(kept, existing)
	}
	e.recent = kept
}

// recentTargets returns the commit-recency order, most recent first.
// Used by the dispatcher to route unfocused undo and redo.
func (e *Engine) recentTargets() []target {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]target, len(e.recent))
	copy(out, e.recent)
	return out
}

// guard recovers panics so a corrupt snapshot in one stack can never
// crash the caller or poison sibling stacks. The locked sections all
// release the mutex via defer, so a recovered panic leaves the engine
// usable.
func (e *Engine) guard(op string) func() {
	return func() {
		if r := recover(); r != nil {
			e.logger.Error("history operation panicked",
				slog.String("op", op),
				slog.Any("panic", r))
		}
	}
}

// -----------------------------------------------------------------------------
// Commits
// -----------------------------------------------------------------------------

// commitReport carries what a commit did out of the lock so events can
// be emitted without holding it.
type commitReport struct {
	scope    Scope
	id       string
	category Category
	result   commitResult
	depth    int
}

// CommitPage snapshots a page's current state.
//
// # Description
//
// With CategoryAuto the category is inferred by diffing against the
// previous snapshot. The commit is skipped when the change signature
// matches the top entry, squashed into it when the squash rules allow,
// and deferred (marked pending) while a gesture session is active on
// the page. Unknown page IDs are a silent no-op.
func (e *Engine) CommitPage(pageID string, category Category) {
	defer e.guard("commit_page")()
	rep := e.commitPageSync(pageID, category)
	e.publishCommit(rep)
}

func (e *Engine) commitPageSync(pageID string, category Category) commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitPageLocked(pageID, category)
}

func (e *Engine) commitPageLocked(pageID string, category Category) commitReport {
	rep := commitReport{scope: ScopePage, id: pageID, category: category}

	if sess, active := e.sessions[pageID]; active {
		sess.pending = true
		rep.result = resultDeferred
		return rep
	}

	page, ok := e.model.PageState(pageID)
	if !ok {
		rep.result = resultSkipped
		return rep
	}

	st, ok := e.pages[pageID]
	if !ok {
		st = newStack[*course.Page](e.depth)
		e.pages[pageID] = st
	}
	if category == CategoryAuto {
		if top, ok := st.past.peek(); ok {
			category = inferPageCategory(top.state, page)
		} else {
			category = CategoryStructure
		}
	}
	sig := signatureOf(e.model.PageGeneration(pageID), page)
	rep.category = category
	rep.result = st.commit(page, category, sig, e.clock(), e.window)
	rep.depth = st.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopePage, pageID)
	}
	return rep
}

// CommitLesson snapshots a lesson. Page-ref changes classify as
// structure, anything else as meta.
func (e *Engine) CommitLesson(lessonID string, category Category) {
	defer e.guard("commit_lesson")()
	rep := e.commitLessonSync(lessonID, category)
	e.publishCommit(rep)
}

func (e *Engine) commitLessonSync(lessonID string, category Category) commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := commitReport{scope: ScopeLesson, id: lessonID, category: category}
	lesson, ok := e.model.LessonState(lessonID)
	if !ok {
		rep.result = resultSkipped
		return rep
	}
	st, found := e.lessons[lessonID]
	if !found {
		st = newStack[*course.Lesson](e.depth)
		e.lessons[lessonID] = st
	}
	if category == CategoryAuto {
		if top, ok := st.past.peek(); ok {
			category = inferLessonCategory(top.state, lesson)
		} else {
			category = CategoryStructure
		}
	}
	rep.category = category
	rep.result = st.commit(lesson, category, signatureOf(0, lesson), e.clock(), e.window)
	rep.depth = st.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopeLesson, lessonID)
	}
	return rep
}

// CommitModule snapshots a single module's own state.
func (e *Engine) CommitModule(moduleID string, category Category) {
	defer e.guard("commit_module")()
	rep := e.commitModuleSync(moduleID, category)
	e.publishCommit(rep)
}

func (e *Engine) commitModuleSync(moduleID string, category Category) commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := commitReport{scope: ScopeModule, id: moduleID, category: category}
	module, ok := e.model.ModuleState(moduleID)
	if !ok {
		rep.result = resultSkipped
		return rep
	}
	st, found := e.modules[moduleID]
	if !found {
		st = newStack[*course.Module](e.depth)
		e.modules[moduleID] = st
	}
	if category == CategoryAuto {
		if top, ok := st.past.peek(); ok {
			category = inferModuleCategory(top.state, module)
		} else {
			category = CategoryStructure
		}
	}
	rep.category = category
	rep.result = st.commit(module, category, signatureOf(0, module), e.clock(), e.window)
	rep.depth = st.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopeModule, moduleID)
	}
	return rep
}

// CommitModuleStructure snapshots the course-wide module arrangement.
func (e *Engine) CommitModuleStructure() {
	defer e.guard("commit_module_structure")()
	rep := e.commitStructureSync()
	e.publishCommit(rep)
}

func (e *Engine) commitStructureSync() commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := commitReport{scope: ScopeModuleStructure, category: CategoryStructure}
	structure, ok := e.model.StructureState()
	if !ok {
		rep.result = resultSkipped
		return rep
	}
	rep.result = e.structure.commit(structure, CategoryStructure,
		signatureOf(0, structure), e.clock(), e.window)
	rep.depth = e.structure.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopeModuleStructure, "")
	}
	return rep
}

// CommitTimeline snapshots the full timeline record set.
func (e *Engine) CommitTimeline() {
	defer e.guard("commit_timeline")()
	rep := e.commitTimelineSync()
	e.publishCommit(rep)
}

func (e *Engine) commitTimelineSync() commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := e.model.TimelineState()
	rep := commitReport{scope: ScopeTimeline, category: CategoryTimeline}
	rep.result = e.timelines.commit(records, CategoryTimeline,
		signatureOf(0, records), e.clock(), e.window)
	rep.depth = e.timelines.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopeTimeline, "")
	}
	return rep
}

// CommitStage snapshots a page together with its timelines as one
// undo unit.
func (e *Engine) CommitStage(pageID string, category Category) {
	defer e.guard("commit_stage")()
	rep := e.commitStageSync(pageID, category)
	e.publishCommit(rep)
}

func (e *Engine) commitStageSync(pageID string, category Category) commitReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := commitReport{scope: ScopeStage, id: pageID, category: category}
	page, ok := e.model.PageState(pageID)
	if !ok {
		rep.result = resultSkipped
		return rep
	}
	state := &StageState{Page: page, Timelines: e.model.PageTimelines(pageID)}
	st, found := e.stages[pageID]
	if !found {
		st = newStack[*StageState](e.depth)
		e.stages[pageID] = st
	}
	if category == CategoryAuto {
		if top, ok := st.past.peek(); ok {
			category = inferStageCategory(top.state, state)
		} else {
			category = CategoryStructure
		}
	}
	rep.category = category
	sig := signatureOf(e.model.PageGeneration(pageID), state)
	rep.result = st.commit(state, category, sig, e.clock(), e.window)
	rep.depth = st.depth()
	if rep.result == resultPushed || rep.result == resultSquashed {
		e.touchRecentLocked(ScopeStage, pageID)
	}
	return rep
}

func (e *Engine) publishCommit(rep commitReport) {
	historyCommitsTotal.WithLabelValues(string(rep.scope), rep.result.String()).Inc()
	if rep.result != resultPushed && rep.result != resultSquashed {
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(events.TypeHistoryCommitted, &events.HistoryCommittedData{
			Scope:    string(rep.scope),
			TargetID: rep.id,
			Category: string(rep.category),
			Squashed: rep.result == resultSquashed,
			Depth:    rep.depth,
		})
	}
	e.logger.Debug("history commit",
		slog.String("scope", string(rep.scope)),
		slog.String("target_id", rep.id),
		slog.String("category", string(rep.category)),
		slog.String("result", rep.result.String()),
		slog.Int("depth", rep.depth))
}

// -----------------------------------------------------------------------------
// Gesture sessions
// -----------------------------------------------------------------------------

// StartPageTransform begins a drag-style gesture on a page: a baseline
// commit captures the pre-gesture state, then commits defer until
// EndPageTransform. Unknown pages and already-active sessions are
// no-ops.
func (e *Engine) StartPageTransform(pageID string) {
	defer e.guard("start_page_transform")()
	rep, started := e.startTransformSync(pageID)
	if started {
		historyActiveSessions.Inc()
		e.publishCommit(rep)
	}
}

func (e *Engine) startTransformSync(pageID string) (commitReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.sessions[pageID]; active {
		return commitReport{}, false
	}
	if _, ok := e.model.PageState(pageID); !ok {
		return commitReport{}, false
	}
	rep := e.commitPageLocked(pageID, CategoryAuto)
	e.sessions[pageID] = &session{kind: sessionTransform}
	return rep, true
}

// EndPageTransform ends a drag-style gesture. If any commit was
// attempted during the session, exactly one transform commit is made
// now. Ending a session that is not active is a no-op.
func (e *Engine) EndPageTransform(pageID string) {
	defer e.guard("end_page_transform")()
	rep, committed, ended := e.endTransformSync(pageID)
	if !ended {
		return
	}
	historyActiveSessions.Dec()
	if committed {
		e.publishCommit(rep)
	}
}

func (e *Engine) endTransformSync(pageID string) (commitReport, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[pageID]
	if !ok || sess.kind != sessionTransform {
		return commitReport{}, false, false
	}
	delete(e.sessions, pageID)
	if !sess.pending {
		return commitReport{}, false, true
	}
	return e.commitPageLocked(pageID, CategoryTransform), true, true
}

// StartIsolation begins an isolation edit inside a collection. Like a
// transform session, but the final category is computed by comparing
// the pre- and post-session page states.
func (e *Engine) StartIsolation(pageID, collectionID string) {
	defer e.guard("start_isolation")()
	rep, started := e.startIsolationSync(pageID, collectionID)
	if started {
		historyActiveSessions.Inc()
		e.publishCommit(rep)
	}
}

func (e *Engine) startIsolationSync(pageID, collectionID string) (commitReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.sessions[pageID]; active {
		return commitReport{}, false
	}
	page, ok := e.model.PageState(pageID)
	if !ok {
		return commitReport{}, false
	}
	rep := e.commitPageLocked(pageID, CategoryAuto)
	e.sessions[pageID] = &session{
		kind:         sessionIsolation,
		collectionID: collectionID,
		pre:          page,
	}
	return rep, true
}

// EndIsolation ends an isolation edit. A session that only moved
// members around commits as transform; anything else commits as
// structure. Interrupted sessions (Escape) end through this same path.
func (e *Engine) EndIsolation(pageID string) {
	defer e.guard("end_isolation")()
	rep, committed, ended := e.endIsolationSync(pageID)
	if !ended {
		return
	}
	historyActiveSessions.Dec()
	if committed {
		e.publishCommit(rep)
	}
}

func (e *Engine) endIsolationSync(pageID string) (commitReport, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[pageID]
	if !ok || sess.kind != sessionIsolation {
		return commitReport{}, false, false
	}
	delete(e.sessions, pageID)
	if !sess.pending {
		return commitReport{}, false, true
	}
	category := CategoryStructure
	if cur, ok := e.model.PageState(pageID); ok && transformOnly(sess.pre, cur) {
		category = CategoryTransform
	}
	return e.commitPageLocked(pageID, category), true, true
}

// SessionActive reports whether a gesture session is deferring commits
// on the page.
func (e *Engine) SessionActive(pageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[pageID]
	return ok
}

// -----------------------------------------------------------------------------
// Undo / redo
// -----------------------------------------------------------------------------

// restoreReport carries a successful restore out of the lock.
type restoreReport struct {
	scope     Scope
	id        string
	direction string
	category  Category
	payload   any
	ok        bool
}

// Undo rolls the scope's stack back one step and restores that state
// into the model. Each scope names exactly one stack; composite
// resolution (module focus trying course-wide structure first) is the
// dispatcher's job. Returns false when there is nothing to undo or the
// target is unknown.
func (e *Engine) Undo(ctx context.Context, scope Scope, id string) bool {
	defer e.guard("undo")()
	_, span := otel.Tracer("studio").Start(ctx, "studio.History.Undo",
		trace.WithAttributes(
			attribute.String("scope", string(scope)),
			attribute.String("target_id", id),
		),
	)
	defer span.End()

	rep := e.restoreSync(scope, id, false)
	span.SetAttributes(attribute.Bool("restored", rep.ok))
	e.publishRestore(rep)
	return rep.ok
}

// Redo re-applies the most recently undone step for the scope.
func (e *Engine) Redo(ctx context.Context, scope Scope, id string) bool {
	defer e.guard("redo")()
	_, span := otel.Tracer("studio").Start(ctx, "studio.History.Redo",
		trace.WithAttributes(
			attribute.String("scope", string(scope)),
			attribute.String("target_id", id),
		),
	)
	defer span.End()

	rep := e.restoreSync(scope, id, true)
	span.SetAttributes(attribute.Bool("restored", rep.ok))
	e.publishRestore(rep)
	return rep.ok
}

func (e *Engine) restoreSync(scope Scope, id string, redo bool) restoreReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restoreLocked(scope, id, redo)
}

// restoreLocked resolves the scope to a stack, moves it one step in
// the requested direction, and pushes the reached state into the
// model. A restore the model rejects is rolled back so the stack stays
// aligned with reality.
func (e *Engine) restoreLocked(scope Scope, id string, redo bool) restoreReport {
	rep := restoreReport{scope: scope, id: id, direction: "undo"}
	if redo {
		rep.direction = "redo"
	}

	switch scope {
	case ScopePage, ScopeElement:
		rep.scope = ScopePage
		st, ok := e.pages[id]
		if !ok {
			return rep
		}
		ent, ok := move(st, redo)
		if !ok {
			return rep
		}
		clone := ent.state.Clone()
		if !e.model.RestorePage(clone) {
			unmove(st, redo)
			return rep
		}
		rep.category, rep.payload, rep.ok = ent.category, clone, true

	case ScopeLesson:
		st, ok := e.lessons[id]
		if !ok {
			return rep
		}
		ent, ok := move(st, redo)
		if !ok {
			return rep
		}
		clone := ent.state.Clone()
		if !e.model.RestoreLesson(clone) {
			unmove(st, redo)
			return rep
		}
		rep.category, rep.payload, rep.ok = ent.category, clone, true

	case ScopeModule:
		st, ok := e.modules[id]
		if !ok {
			return rep
		}
		ent, ok := move(st, redo)
		if !ok {
			return rep
		}
		clone := ent.state.Clone()
		if !e.model.RestoreModule(clone) {
			unmove(st, redo)
			return rep
		}
		rep.category, rep.payload, rep.ok = ent.category, clone, true

	case ScopeModuleStructure:
		rep.id = ""
		ent, ok := move(e.structure, redo)
		if !ok {
			return rep
		}
		clone := ent.state.Clone()
		if !e.model.RestoreStructure(clone) {
			unmove(e.structure, redo)
			return rep
		}
		rep.category, rep.payload, rep.ok = ent.category, clone, true

	case ScopeTimeline:
		rep.id = ""
		ent, ok := move(e.timelines, redo)
		if !ok {
			return rep
		}
		clone := cloneRecords(ent.state)
		e.model.RestoreTimelines(clone)
		rep.category, rep.payload, rep.ok = ent.category, clone, true

	case ScopeStage:
		st, ok := e.stages[id]
		if !ok {
			return rep
		}
		ent, ok := move(st, redo)
		if !ok {
			return rep
		}
		clone := ent.state.Clone()
		if !e.model.RestorePage(clone.Page) {
			unmove(st, redo)
			return rep
		}
		e.model.RestorePageTimelines(id, clone.Timelines)
		rep.category, rep.payload, rep.ok = ent.category, clone, true
	}

	if rep.ok {
		// A redo on this same target should be what an unfocused
		// Ctrl+Shift+Z reaches first.
		e.touchRecentLocked(rep.scope, rep.id)
	}
	return rep
}

// move advances a stack one step in the requested direction.
func move[T any](st *stack[T], redo bool) (entry[T], bool) {
	if redo {
		return st.redo()
	}
	return st.undo()
}

// unmove reverses a move after the model rejected the restore.
func unmove[T any](st *stack[T], redo bool) {
	if redo {
		st.undo()
	} else {
		st.redo()
	}
}

func (e *Engine) publishRestore(rep restoreReport) {
	if !rep.ok {
		return
	}
	historyRestoresTotal.WithLabelValues(string(rep.scope), rep.direction).Inc()
	if e.saver != nil {
		e.saver.Queue(string(rep.scope), rep.id, rep.payload)
	}
	if e.emitter != nil {
		e.emitter.Emit(events.TypeHistoryRestored, &events.HistoryRestoredData{
			Scope:     string(rep.scope),
			TargetID:  rep.id,
			Direction: rep.direction,
			Category:  string(rep.category),
		})
	}
	e.logger.Debug("history restore",
		slog.String("scope", string(rep.scope)),
		slog.String("target_id", rep.id),
		slog.String("direction", rep.direction),
		slog.String("category", string(rep.category)))
}

// -----------------------------------------------------------------------------
// Queries and lifecycle
// -----------------------------------------------------------------------------

// CanUndo reports whether the scope has a prior state to roll back to.
func (e *Engine) CanUndo(scope Scope, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch scope {
	case ScopePage, ScopeElement:
		st, ok := e.pages[id]
		return ok && st.canUndo()
	case ScopeLesson:
		st, ok := e.lessons[id]
		return ok && st.canUndo()
	case ScopeModule:
		st, ok := e.modules[id]
		return ok && st.canUndo()
	case ScopeModuleStructure:
		return e.structure.canUndo()
	case ScopeTimeline:
		return e.timelines.canUndo()
	case ScopeStage:
		st, ok := e.stages[id]
		return ok && st.canUndo()
	}
	return false
}

// CanRedo reports whether the scope has an undone state to re-apply.
func (e *Engine) CanRedo(scope Scope, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch scope {
	case ScopePage, ScopeElement:
		st, ok := e.pages[id]
		return ok && st.canRedo()
	case ScopeLesson:
		st, ok := e.lessons[id]
		return ok && st.canRedo()
	case ScopeModule:
		st, ok := e.modules[id]
		return ok && st.canRedo()
	case ScopeModuleStructure:
		return e.structure.canRedo()
	case ScopeTimeline:
		return e.timelines.canRedo()
	case ScopeStage:
		st, ok := e.stages[id]
		return ok && st.canRedo()
	}
	return false
}

// Depth returns the number of past snapshots held for the scope.
func (e *Engine) Depth(scope Scope, id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch scope {
	case ScopePage, ScopeElement:
		if st, ok := e.pages[id]; ok {
			return st.depth()
		}
	case ScopeLesson:
		if st, ok := e.lessons[id]; ok {
			return st.depth()
		}
	case ScopeModule:
		if st, ok := e.modules[id]; ok {
			return st.depth()
		}
	case ScopeModuleStructure:
		return e.structure.depth()
	case ScopeTimeline:
		return e.timelines.depth()
	case ScopeStage:
		if st, ok := e.stages[id]; ok {
			return st.depth()
		}
	}
	return 0
}

// Forget drops an entity's stack and any active session. Called by the
// deletion cascade so stale stacks cannot restore removed entities.
func (e *Engine) Forget(scope Scope, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch scope {
	case ScopePage, ScopeElement:
		delete(e.pages, id)
		delete(e.stages, id)
		if _, ok := e.sessions[id]; ok {
			delete(e.sessions, id)
			historyActiveSessions.Dec()
		}
		e.dropRecentLocked(ScopePage, id)
		e.dropRecentLocked(ScopeStage, id)
	case ScopeLesson:
		delete(e.lessons, id)
		e.dropRecentLocked(ScopeLesson, id)
	case ScopeModule:
		delete(e.modules, id)
		e.dropRecentLocked(ScopeModule, id)
	case ScopeModuleStructure:
		e.structure = newStack[*StructureState](e.depth)
		e.dropRecentLocked(ScopeModuleStructure, "")
	case ScopeTimeline:
		e.timelines = newStack[[]*timeline.Record](e.depth)
		e.dropRecentLocked(ScopeTimeline, "")
	case ScopeStage:
		delete(e.stages, id)
		e.dropRecentLocked(ScopeStage, id)
	}
}

// Reset drops every stack and session. Used when a new project loads.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pages = make(map[string]*stack[*course.Page])
	e.lessons = make(map[string]*stack[*course.Lesson])
	e.modules = make(map[string]*stack[*course.Module])
	e.stages = make(map[string]*stack[*StageState])
	e.structure = newStack[*StructureState](e.depth)
	e.timelines = newStack[[]*timeline.Record](e.depth)
	historyActiveSessions.Sub(float64(len(e.sessions)))
	e.sessions = make(map[string]*session)
	e.recent = nil
}
