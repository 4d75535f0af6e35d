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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
)

func TestDispatcherRoutesPageFocus(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "v2" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopePage, PageID: "pag-1"})

	require.True(t, d.CanUndo())
	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, "v1", rig.model.pages["pag-1"].Name)

	require.True(t, d.CanRedo())
	require.True(t, d.Redo(context.Background()))
	assert.Equal(t, "v2", rig.model.pages["pag-1"].Name)
}

func TestDispatcherElementFocusUsesPageStack(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))

	rig.engine.CommitPage("pag-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.mutatePage("pag-1", func(p *course.Page) { p.Name = "v2" })
	rig.engine.CommitPage("pag-1", CategoryAuto)

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopeElement, PageID: "pag-1"})

	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, "v1", rig.model.pages["pag-1"].Name)
}

func TestDispatcherLessonFocusFallsBackToModule(t *testing.T) {
	rig := newTestRig(t)
	mod := course.NewModule("mod-1", "Unit")
	rig.model.modules["mod-1"] = mod
	lesson := course.NewLesson("les-1", "Basics")
	rig.model.lessons["les-1"] = lesson

	// Only the module has anything to undo.
	rig.engine.CommitModule("mod-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.modules["mod-1"].Title = "Unit, renamed"
	rig.engine.CommitModule("mod-1", CategoryAuto)

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopeLesson, LessonID: "les-1", ModuleID: "mod-1"})

	require.True(t, d.CanUndo(), "lesson focus should see the module's history")
	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, "Unit", rig.model.modules["mod-1"].Title)
}

func TestDispatcherLessonStackWinsOverModule(t *testing.T) {
	rig := newTestRig(t)
	rig.model.modules["mod-1"] = course.NewModule("mod-1", "Unit")
	rig.model.lessons["les-1"] = course.NewLesson("les-1", "Basics")

	rig.engine.CommitLesson("les-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.lessons["les-1"].Title = "Basics, renamed"
	rig.engine.CommitLesson("les-1", CategoryAuto)

	rig.engine.CommitModule("mod-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.modules["mod-1"].Title = "Unit, renamed"
	rig.engine.CommitModule("mod-1", CategoryAuto)

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopeLesson, LessonID: "les-1", ModuleID: "mod-1"})

	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, "Basics", rig.model.lessons["les-1"].Title,
		"the focused lesson's own stack restores first")
	assert.Equal(t, "Unit, renamed", rig.model.modules["mod-1"].Title,
		"the module stack must not be touched while the lesson has history")
}

func TestDispatcherPageFocusDoesNotCascade(t *testing.T) {
	rig := newTestRig(t)
	rig.model.addPage(course.NewPage("pag-1", "v1"))
	rig.model.lessons["les-1"] = course.NewLesson("les-1", "Basics")

	// The lesson has undoable history; the focused page does not.
	rig.engine.CommitLesson("les-1", CategoryAuto)
	rig.clock.Advance(time.Second)
	rig.model.lessons["les-1"].Title = "Basics, renamed"
	rig.engine.CommitLesson("les-1", CategoryAuto)

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopePage, PageID: "pag-1", LessonID: "les-1"})

	assert.False(t, d.CanUndo(), "page focus must not reach into lesson history")
	assert.False(t, d.Undo(context.Background()))
	assert.Equal(t, "Basics, renamed", rig.model.lessons["les-1"].Title)
}

func TestDispatcherTimelineFocus(t *testing.T) {
	rig := newTestRig(t)
	rig.model.timelines["pag-1"] = []*timeline.Record{
		{ID: "tl-1", PageID: "pag-1", Duration: 10},
	}

	rig.engine.CommitTimeline()
	rig.clock.Advance(time.Second)
	rig.model.timelines["pag-1"][0].Duration = 30
	rig.engine.CommitTimeline()

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopeTimeline, PageID: "pag-1"})

	require.True(t, d.CanUndo())
	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, 10.0, rig.model.timelines["pag-1"][0].Duration)
}

func TestDispatcherModuleFocusExhaustsStructureFirst(t *testing.T) {
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

	d := NewDispatcher(rig.engine)
	d.SetFocus(Focus{Scope: ScopeModule, ModuleID: "mod-a"})

	// Module focus drains the course-wide structure stack first.
	require.True(t, d.Undo(context.Background()))
	assert.Len(t, rig.model.structure.Refs, 1, "structure stack should restore first")
	assert.Equal(t, "First, renamed", rig.model.modules["mod-a"].Title)

	// Structure exhausted; next undo falls back to module metadata.
	require.True(t, d.Undo(context.Background()))
	assert.Equal(t, "First", rig.model.modules["mod-a"].Title)

	evs := restoredEvents(rig.emitter)
	require.Len(t, evs, 2)
	assert.Equal(t, "module-structure", evs[0].Scope)
	assert.Equal(t, "module", evs[1].Scope)
}

// Mirrors a scripted creation burst: module, lesson inside it, page
// inside that, each create committing its parent scope and seeding the
// new entity's own baseline. With no focus pinned, three undos must
// peel the burst off newest first and land on the empty course.
func TestDispatcherUnfocusedFollowsCommitRecency(t *testing.T) {
	rig := newTestRig(t)

	// Project load: every stack starts at a baseline snapshot.
	rig.model.structure = &StructureState{
		Refs:    []course.Ref{},
		Modules: map[string]*course.Module{},
	}
	rig.engine.CommitModuleStructure()

	// Create a module.
	rig.clock.Advance(10 * time.Millisecond)
	mod := course.NewModule("mod-1", "Unit")
	rig.model.modules["mod-1"] = mod
	rig.model.structure.Refs = append(rig.model.structure.Refs, course.Ref{ID: "mod-1", Order: 1})
	rig.model.structure.Modules["mod-1"] = mod.Clone()
	rig.engine.CommitModuleStructure()
	rig.engine.CommitModule("mod-1", CategoryAuto)

	// Create a lesson inside it.
	rig.clock.Advance(10 * time.Millisecond)
	les := course.NewLesson("les-1", "Basics")
	rig.model.lessons["les-1"] = les
	mod.Lessons["les-1"] = les
	mod.LessonRefs = append(mod.LessonRefs, course.Ref{ID: "les-1", Order: 1})
	rig.engine.CommitModule("mod-1", CategoryAuto)
	rig.engine.CommitLesson("les-1", CategoryAuto)

	// Create a page inside that.
	rig.clock.Advance(10 * time.Millisecond)
	pg := course.NewPage("pag-1", "Intro")
	rig.model.addPage(pg)
	les.Pages["pag-1"] = pg
	les.PageRefs = append(les.PageRefs, course.Ref{ID: "pag-1", Order: 1})
	rig.engine.CommitLesson("les-1", CategoryAuto)
	rig.engine.CommitPage("pag-1", CategoryAuto)

	d := NewDispatcher(rig.engine)

	// The page stack only holds its baseline, so the first undo falls
	// through to the lesson commit that added the page.
	require.True(t, d.Undo(context.Background()))
	assert.Empty(t, rig.model.lessons["les-1"].PageRefs)

	require.True(t, d.Undo(context.Background()))
	assert.Empty(t, rig.model.modules["mod-1"].LessonRefs)

	require.True(t, d.Undo(context.Background()))
	assert.Empty(t, rig.model.structure.Refs, "third undo reaches the empty course")

	assert.False(t, d.CanUndo())
	assert.False(t, d.Undo(context.Background()))

	// Redo walks the same recency trail back out.
	require.True(t, d.Redo(context.Background()))
	require.True(t, d.Redo(context.Background()))
	require.True(t, d.Redo(context.Background()))
	assert.Len(t, rig.model.structure.Refs, 1)
	assert.Len(t, rig.model.modules["mod-1"].LessonRefs, 1)
	assert.Len(t, rig.model.lessons["les-1"].PageRefs, 1)

	evs := restoredEvents(rig.emitter)
	require.Len(t, evs, 6)
	scopes := make([]string, len(evs))
	for i, ev := range evs {
		scopes[i] = ev.Scope
	}
	assert.Equal(t, []string{
		"lesson", "module", "module-structure",
		"module-structure", "module", "lesson",
	}, scopes)
}
