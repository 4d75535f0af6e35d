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
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
)

// ----------------------------------------------------------------------------
// Test doubles
// ----------------------------------------------------------------------------

// fakeModel is an in-memory Model with per-page generation counters.
type fakeModel struct {
	pages     map[string]*course.Page
	lessons   map[string]*course.Lesson
	modules   map[string]*course.Module
	structure *StructureState
	timelines map[string][]*timeline.Record
	gens      map[string]uint64
	panicOn   string
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		pages:     make(map[string]*course.Page),
		lessons:   make(map[string]*course.Lesson),
		modules:   make(map[string]*course.Module),
		timelines: make(map[string][]*timeline.Record),
		gens:      make(map[string]uint64),
	}
}

func (m *fakeModel) addPage(p *course.Page) {
	m.pages[p.ID] = p
	m.gens[p.ID] = 1
}

// mutatePage edits a page in place and bumps its generation, the way
// the project store does for every real mutation.
func (m *fakeModel) mutatePage(id string, fn func(p *course.Page)) {
	fn(m.pages[id])
	m.gens[id]++
}

func (m *fakeModel) PageState(pageID string) (*course.Page, bool) {
	if m.panicOn != "" && pageID == m.panicOn {
		panic("model blew up")
	}
	p, ok := m.pages[pageID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *fakeModel) LessonState(lessonID string) (*course.Lesson, bool) {
	l, ok := m.lessons[lessonID]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

func (m *fakeModel) ModuleState(moduleID string) (*course.Module, bool) {
	mod, ok := m.modules[moduleID]
	if !ok {
		return nil, false
	}
	return mod.Clone(), true
}

func (m *fakeModel) StructureState() (*StructureState, bool) {
	if m.structure == nil {
		return nil, false
	}
	return m.structure.Clone(), true
}

func (m *fakeModel) TimelineState() []*timeline.Record {
	var out []*timeline.Record
	for _, recs := range m.timelines {
		for _, rec := range recs {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *fakeModel) PageTimelines(pageID string) []*timeline.Record {
	recs := m.timelines[pageID]
	out := make([]*timeline.Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

func (m *fakeModel) PageGeneration(pageID string) uint64 { return m.gens[pageID] }

func (m *fakeModel) RestorePage(page *course.Page) bool {
	if _, ok := m.pages[page.ID]; !ok {
		return false
	}
	m.pages[page.ID] = page.Clone()
	m.gens[page.ID]++
	return true
}

func (m *fakeModel) RestoreLesson(lesson *course.Lesson) bool {
	if _, ok := m.lessons[lesson.ID]; !ok {
		return false
	}
	m.lessons[lesson.ID] = lesson.Clone()
	return true
}

func (m *fakeModel) RestoreModule(module *course.Module) bool {
	if _, ok := m.modules[module.ID]; !ok {
		return false
	}
	m.modules[module.ID] = module.Clone()
	return true
}

func (m *fakeModel) RestoreStructure(structure *StructureState) bool {
	if m.structure == nil {
		return false
	}
	m.structure = structure.Clone()
	return true
}

func (m *fakeModel) RestoreTimelines(records []*timeline.Record) {
	m.timelines = make(map[string][]*timeline.Record)
	for _, rec := range records {
		m.timelines[rec.PageID] = append(m.timelines[rec.PageID], rec.Clone())
	}
}

func (m *fakeModel) RestorePageTimelines(pageID string, records []*timeline.Record) {
	out := make([]*timeline.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	m.timelines[pageID] = out
}

// fakeClock lets tests place commits precisely inside or outside the
// squash window.
type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// saveCall records one autosave notification.
type saveCall struct {
	scope string
	key   string
}

type fakeSaver struct{ calls []saveCall }

func (s *fakeSaver) Queue(scope, key string, payload any) {
	s.calls = append(s.calls, saveCall{scope: scope, key: key})
}

func newRect(id string, x, y, w, h float64) *course.Element {
	el := course.NewElement(id, course.KindRectangle, id)
	el.Position = geom.Point{X: x, Y: y}
	el.Size = geom.Dimensions{Width: w, Height: h}
	return el
}

type testRig struct {
	model   *fakeModel
	clock   *fakeClock
	saver   *fakeSaver
	emitter *events.Emitter
	engine  *Engine
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		model:   newFakeModel(),
		clock:   newFakeClock(),
		saver:   &fakeSaver{},
		emitter: events.NewEmitter(),
	}
	engine, err := NewEngine(Config{
		Model:   rig.model,
		Saver:   rig.saver,
		Emitter: rig.emitter,
		Clock:   rig.clock.Now,
	})
	require.NoError(t, err)
	rig.engine = engine
	return rig
}

func committedEvents(emitter *events.Emitter) []*events.HistoryCommittedData {
	var out []*events.HistoryCommittedData
	for _, ev := range emitter.GetBufferByType(events.TypeHistoryCommitted) {
		out = append(out, ev.Data.(*events.HistoryCommittedData))
	}
	return out
}

func restoredEvents(emitter *events.Emitter) []*events.HistoryRestoredData {
	var out []*events.HistoryRestoredData
	for _, ev := range emitter.GetBufferByType(events.TypeHistoryRestored) {
		out = append(out, ev.Data.(*events.HistoryRestoredData))
	}
	return out
}

// ----------------------------------------------------------------------------
// Commit rules
// ----------------------------------------------------------------------------

func TestCommitSkipsWhenNothingChanged(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "intro"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.engine.CommitPage("pag-1", CategoryAuto)

	assert.Equal(t, 1, rig.engine.Depth(ScopePage, "pag-1"),
		"identical state must not grow the stack")
}

func TestCommitSkipsOnEqualContentEvenWhenGenerationMoved(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "intro"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	// A mutation and its exact inverse leave the content identical.
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "renamed" })
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "intro" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	assert.Equal(t, 1, rig.engine.Depth(ScopePage, "pag-1"))
}

func TestSquashMergesRapidMetaCommits(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "one"))

	rig.engine.CommitPage("pag-1", CategoryAuto)

	rig.clock.Advance(100 * time.Millisecond)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "two" })
	rig.engine.CommitPage("pag-1", CategoryAuto)
	require.Equal(t, 2, rig.engine.Depth(ScopePage, "pag-1"))

	rig.clock.Advance(100 * time.Millisecond)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "three" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	assert.Equal(t, 2, rig.engine.Depth(ScopePage, "pag-1"),
		"second rapid rename should squash into the first")

	evs := committedEvents(rig.emitter)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.True(t, last.Squashed)
	assert.Equal(t, "meta", last.Category)

	// Undo skips the merged intermediate state entirely.
	require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))
	assert.Equal(t, "one", rig.model.pages["pag-1"].Name)
}

func TestTransformCommitsNeverSquash(t *testing.T) {
	rig := newTestRig(t)
	page := course.NewPage("pag-1", "intro")
	page.Elements = append(page.Elements, newRect("el-1", 0, 0, 100, 100))
	rig.model.addPage(page)

	rig.engine.CommitPage("pag-1", CategoryAuto)
	depth := rig.engine.Depth(ScopePage, "pag-1")

	for i := 1; i <= 2; i++ {
		rig.clock.Advance(50 * time.Millisecond)
		dx := float64(i * 10)
		rig.model.mutatePage("pag-1", func(p *course.Page) {
			p.Elements[0].Position = geom.Point{X: dx, Y: 0}
		})
		rig.engine.CommitPage("pag-1", CategoryAuto)
	}

	assert.Equal(t, depth+2, rig.engine.Depth(ScopePage, "pag-1"),
		"each transform commit stays its own undo step")
}

func TestSquashStopsOutsideWindow(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "one"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "two" })
	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "three" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	assert.Equal(t, 3, rig.engine.Depth(ScopePage, "pag-1"),
		"slow renames are separate undo steps")
}

func TestCommitClearsRedo(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))

	for _, name := range []string{"v1", "v2", "v3"} {
		rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = name })
		rig.engine.CommitPage("pag-1", CategoryAuto)
		rig.clock.Advance(time.Second)
	}

	require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))
	require.True(t, rig.engine.CanRedo(ScopePage, "pag-1"))

	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "fork" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	assert.False(t, rig.engine.CanRedo(ScopePage, "pag-1"),
		"a divergent commit must clear the redo list")
}

// ----------------------------------------------------------------------------
// Undo / redo
// ----------------------------------------------------------------------------

func TestUndoRedoRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	page := course.NewPage("pag-1", "v1")
	page.Elements = append(page.Elements, newRect("el-1", 0, 0, 50, 50))
	rig.model.addPage(page)

	names := []string{"v1", "v2", "v3", "v4"}
	for _, name := range names {
		rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = name })
		rig.engine.CommitPage("pag-1", CategoryAuto)
		rig.clock.Advance(time.Second)
	}
	require.Equal(t, len(names), rig.engine.Depth(ScopePage, "pag-1"))

	final := rig.model.pages["pag-1"].Clone()

	for i := len(names) - 2; i >= 0; i-- {
		require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))
		assert.Equal(t, names[i], rig.model.pages["pag-1"].Name)
	}
	assert.False(t, rig.engine.CanUndo(ScopePage, "pag-1"),
		"one remaining entry means nothing left to roll back to")

	for i := 1; i < len(names); i++ {
		require.True(t, rig.engine.Redo(context.Background(), ScopePage, "pag-1"))
		assert.Equal(t, names[i], rig.model.pages["pag-1"].Name)
	}
	assert.Equal(t, final, rig.model.pages["pag-1"],
		"a full undo/redo cycle must restore the exact final state")
}

func TestUndoNotifiesSaver(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "v2" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))

	require.Len(t, rig.saver.calls, 1)
	assert.Equal(t, "page", rig.saver.calls[0].scope)
	assert.Equal(t, "pag-1", rig.saver.calls[0].key)
}

func TestMissingIDsAreSilentNoOps(t *testing.T) {
	rig := newTestRig(t)

	rig.engine.CommitPage("pag-ghost", CategoryAuto)
	assert.Equal(t, 0, rig.engine.Depth(ScopePage, "pag-ghost"))

	assert.False(t, rig.engine.Undo(context.Background(), ScopePage, "pag-ghost"))
	assert.False(t, rig.engine.Redo(context.Background(), ScopePage, "pag-ghost"))

	rig.engine.StartPageTransform("pag-ghost")
	assert.False(t, rig.engine.SessionActive("pag-ghost"))
	rig.engine.EndPageTransform("pag-ghost")
}

func TestPanickingModelDoesNotEscape(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "ok"))
	rig.model.panicOn = "pag-boom"
	rig.model.pages["pag-boom"] = course.NewPage("pag-boom", "boom")

	assert.NotPanics(t, func() {
		rig.engine.CommitPage("pag-boom", CategoryAuto)
	})

	// The engine stays usable for other stacks.
	rig.engine.CommitPage("pag-1", CategoryAuto)
	assert.Equal(t, 1, rig.engine.Depth(ScopePage, "pag-1"))
}

// ----------------------------------------------------------------------------
// Gesture sessions
// ----------------------------------------------------------------------------

func TestSessionAtomicity(t *testing.T) {
	for _, k := range []int{1, 50} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			rig := newTestRig(t)
			page := course.NewPage("pag-1", "intro")
			page.Elements = append(page.Elements, newRect("el-1", 0, 0, 100, 100))
			rig.model.addPage(page)

			rig.engine.CommitPage("pag-1", CategoryAuto)
			rig.engine.StartPageTransform("pag-1")
			base := rig.engine.Depth(ScopePage, "pag-1")

			for i := 1; i <= k; i++ {
				d := float64(i)
				rig.model.mutatePage("pag-1", func(p *course.Page) {
					p.Elements[0].Position = geom.Point{X: d, Y: d}
				})
				rig.engine.CommitPage("pag-1", CategoryTransform)
				assert.Equal(t, base, rig.engine.Depth(ScopePage, "pag-1"),
					"commits during a session must defer")
			}

			rig.engine.EndPageTransform("pag-1")
			assert.Equal(t, base+1, rig.engine.Depth(ScopePage, "pag-1"),
				"a session produces exactly one entry regardless of K")
		})
	}
}

func TestDragScenario(t *testing.T) {
	// One rectangle at (0,0), dragged by (+50,+50) in ten pointer-move
	// increments, then released.
	rig := newTestRig(t)
	page := course.NewPage("pag-1", "stage")
	page.Elements = append(page.Elements, newRect("el-1", 0, 0, 100, 100))
	rig.model.addPage(page)

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.engine.StartPageTransform("pag-1")
	require.True(t, rig.engine.SessionActive("pag-1"))
	before := rig.engine.Depth(ScopePage, "pag-1")

	for i := 1; i <= 10; i++ {
		d := float64(i * 5)
		rig.model.mutatePage("pag-1", func(p *course.Page) {
			p.Elements[0].Position = geom.Point{X: d, Y: d}
		})
		rig.engine.CommitPage("pag-1", CategoryTransform)
	}

	// The model shows the batched position immediately.
	assert.Equal(t, geom.Point{X: 50, Y: 50}, rig.model.pages["pag-1"].Elements[0].Position)
	// History has nothing new yet.
	assert.Equal(t, before, rig.engine.Depth(ScopePage, "pag-1"))

	rig.engine.EndPageTransform("pag-1")
	assert.Equal(t, before+1, rig.engine.Depth(ScopePage, "pag-1"))

	evs := committedEvents(rig.emitter)
	require.NotEmpty(t, evs)
	assert.Equal(t, "transform", evs[len(evs)-1].Category)

	// Undoing the gesture lands back on the pre-drag position.
	require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))
	assert.Equal(t, geom.Point{X: 0, Y: 0}, rig.model.pages["pag-1"].Elements[0].Position)
}

func TestInterruptedSessionStillCommitsOnce(t *testing.T) {
	rig := newTestRig(t)
	page := course.NewPage("pag-1", "stage")
	page.Elements = append(page.Elements, newRect("el-1", 0, 0, 40, 40))
	rig.model.addPage(page)

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.engine.StartPageTransform("pag-1")
	before := rig.engine.Depth(ScopePage, "pag-1")

	rig.model.mutatePage("pag-1", func(p *course.Page) {
		p.Elements[0].Position = geom.Point{X: 7, Y: 7}
	})
	rig.engine.CommitPage("pag-1", CategoryTransform)

	// Escape ends the gesture through the same path as pointer-up.
	rig.engine.EndPageTransform("pag-1")
	assert.Equal(t, before+1, rig.engine.Depth(ScopePage, "pag-1"))
	assert.False(t, rig.engine.SessionActive("pag-1"))
}

func TestUntouchedSessionAddsNothing(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "stage"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.engine.StartPageTransform("pag-1")
	before := rig.engine.Depth(ScopePage, "pag-1")
	rig.engine.EndPageTransform("pag-1")

	assert.Equal(t, before, rig.engine.Depth(ScopePage, "pag-1"),
		"a session with no commits must not add an entry")
}

func TestIsolationCategoryByComparison(t *testing.T) {
	build := func() (*testRig, string) {
		rig := newTestRig(t)
		page := course.NewPage("pag-1", "stage")
		group := course.NewElement("el-g", course.KindCollection, "group")
		group.MemberIDs = []string{"el-a", "el-b"}
		a := newRect("el-a", 0, 0, 10, 10)
		a.ParentID = "el-g"
		b := newRect("el-b", 20, 0, 10, 10)
		b.ParentID = "el-g"
		page.Elements = append(page.Elements, group, a, b)
		rig.model.addPage(page)
		rig.engine.CommitPage("pag-1", CategoryAuto)
		return rig, "pag-1"
	}

	t.Run("pure rearrangement is transform", func(t *testing.T) {
		rig, pageID := build()
		rig.engine.StartIsolation(pageID, "el-g")
		rig.model.mutatePage(pageID, func(p *course.Page) {
			p.Elements[1].Position = geom.Point{X: 5, Y: 5}
		})
		rig.engine.CommitPage(pageID, CategoryAuto)
		rig.engine.EndIsolation(pageID)

		evs := committedEvents(rig.emitter)
		require.NotEmpty(t, evs)
		assert.Equal(t, "transform", evs[len(evs)-1].Category)
	})

	t.Run("membership change is structure", func(t *testing.T) {
		rig, pageID := build()
		rig.engine.StartIsolation(pageID, "el-g")
		rig.model.mutatePage(pageID, func(p *course.Page) {
			c := newRect("el-c", 40, 0, 10, 10)
			c.ParentID = "el-g"
			p.Elements = append(p.Elements, c)
			p.Elements[0].MemberIDs = append(p.Elements[0].MemberIDs, "el-c")
		})
		rig.engine.CommitPage(pageID, CategoryAuto)
		rig.engine.EndIsolation(pageID)

		evs := committedEvents(rig.emitter)
		require.NotEmpty(t, evs)
		assert.Equal(t, "structure", evs[len(evs)-1].Category)
	})
}

// ----------------------------------------------------------------------------
// Scope routing
// ----------------------------------------------------------------------------

func TestModuleScopeTouchesOnlyOwnStack(t *testing.T) {
	rig := newTestRig(t)
	modA := course.NewModule("mod-a", "First")
	rig.model.modules["mod-a"] = modA
	rig.model.structure = &StructureState{
		Refs:    []course.Ref{{ID: "mod-a", Order: 1}},
		Modules: map[string]*course.Module{"mod-a": modA.Clone()},
	}

	// Two structure states: one module, then a second appended.
	rig.engine.CommitModuleStructure()
	rig.clock.Advance(time.Second)
	modB := course.NewModule("mod-b", "Second")
	rig.model.modules["mod-b"] = modB
	rig.model.structure.Refs = append(rig.model.structure.Refs, course.Ref{ID: "mod-b", Order: 2})
	rig.model.structure.Modules["mod-b"] = modB.Clone()
	rig.engine.CommitModuleStructure()

	// Two metadata states for mod-a.
	rig.engine.CommitModule("mod-a", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.modules["mod-a"].Title = "First, renamed"
	rig.engine.CommitModule("mod-a", CategoryAuto)

	// Module scope names exactly the module's own stack. The course-wide
	// structure stack must stay put even though it has undoable history.
	require.True(t, rig.engine.Undo(context.Background(), ScopeModule, "mod-a"))
	assert.Equal(t, "First", rig.model.modules["mod-a"].Title)
	assert.Len(t, rig.model.structure.Refs, 2, "structure stack must not move on module-scope undo")

	// Module metadata exhausted: a second module-scope undo is a no-op.
	require.False(t, rig.engine.Undo(context.Background(), ScopeModule, "mod-a"))
	assert.Len(t, rig.model.structure.Refs, 2)

	// The structure stack is its own scope.
	require.True(t, rig.engine.Undo(context.Background(), ScopeModuleStructure, ""))
	assert.Len(t, rig.model.structure.Refs, 1)

	evs := restoredEvents(rig.emitter)
	require.Len(t, evs, 2)
	assert.Equal(t, "module", evs[0].Scope)
	assert.Equal(t, "module-structure", evs[1].Scope)
}

func TestTimelineSingletonUndo(t *testing.T) {
	rig := newTestRig(t)
	rec := &timeline.Record{ID: "tl-1", PageID: "pag-1", Duration: 10}
	rig.model.timelines["pag-1"] = []*timeline.Record{rec}

	rig.engine.CommitTimeline()
	rig.clock.Advance(time.Second)
	rig.model.timelines["pag-1"][0].Duration = 20
	rig.engine.CommitTimeline()

	require.True(t, rig.engine.Undo(context.Background(), ScopeTimeline, ""))
	assert.Equal(t, 10.0, rig.model.timelines["pag-1"][0].Duration)

	require.True(t, rig.engine.Redo(context.Background(), ScopeTimeline, ""))
	assert.Equal(t, 20.0, rig.model.timelines["pag-1"][0].Duration)
}

func TestStageUndoRevertsPageAndTimelineTogether(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "before"))
	rig.model.timelines["pag-1"] = []*timeline.Record{
		{ID: "tl-1", PageID: "pag-1", Duration: 10},
	}

	rig.engine.CommitStage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)

	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "after" })
	rig.model.timelines["pag-1"][0].Duration = 25
	rig.engine.CommitStage("pag-1", CategoryAuto)

	require.True(t, rig.engine.Undo(context.Background(), ScopeStage, "pag-1"))
	assert.Equal(t, "before", rig.model.pages["pag-1"].Name)
	assert.Equal(t, 10.0, rig.model.timelines["pag-1"][0].Duration,
		"stage undo must revert page and timeline in lockstep")
}

func TestSnapshotsAreIsolatedFromLiveMutation(t *testing.T) {
	rig := newTestRig(t)
	page := course.NewPage("pag-1", "v1")
	page.Elements = append(page.Elements, newRect("el-1", 0, 0, 10, 10))
	rig.model.addPage(page)

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)

	// Mutating live state after the commit must not reach the stored
	// snapshot.
	rig.model.mutatePage("pag-1", func(p *course.Page) {
		p.Name = "v2"
		p.Elements[0].Position = geom.Point{X: 99, Y: 99}
	})
	rig.engine.CommitPage("pag-1", CategoryAuto)

	require.True(t, rig.engine.Undo(context.Background(), ScopePage, "pag-1"))
	got := rig.model.pages["pag-1"]
	assert.Equal(t, "v1", got.Name)
	assert.Equal(t, geom.Point{X: 0, Y: 0}, got.Elements[0].Position)
}

func TestForgetDropsStack(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "v2" })
	rig.engine.CommitPage("pag-1", CategoryAuto)
	require.True(t, rig.engine.CanUndo(ScopePage, "pag-1"))

	rig.engine.Forget(ScopePage, "pag-1")
	assert.False(t, rig.engine.CanUndo(ScopePage, "pag-1"))
	assert.Equal(t, 0, rig.engine.Depth(ScopePage, "pag-1"))
}
