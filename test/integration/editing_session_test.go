// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Integration test for the full editing pipeline
//
// This test assembles the real component stack on a disk-backed store
// and validates that edits, undo, and redo all land in the persisted
// document after the autosave dispatcher drains.

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/studio/autosave"
	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/docstore"
	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
	"github.com/AleutianAI/AleutianStudio/services/studio/history"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
	"github.com/AleutianAI/AleutianStudio/services/studio/project"
	"github.com/AleutianAI/AleutianStudio/services/studio/spatial"
	storage "github.com/AleutianAI/AleutianStudio/services/studio/storage/badger"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
	"github.com/AleutianAI/AleutianStudio/services/studio/viewport"
)

// TestEditingSessionPersistence is the main integration test
func TestEditingSessionPersistence(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Step 1: Open disk-backed storage
	t.Log("Opening BadgerDB...")
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = t.TempDir()
	dbCfg.Logger = logger
	db, err := storage.OpenDB(dbCfg)
	require.NoError(t, err)
	defer db.Close()

	docs, err := docstore.New(db, logger)
	require.NoError(t, err)

	// Step 2: Assemble the editing stack
	t.Log("Assembling editor components...")
	emitter := events.NewEmitter()
	ids := ident.NewGenerator(ident.Config{DB: db, Logger: logger})
	timelines := timeline.NewRegistry(timeline.Config{IDs: ids, Emitter: emitter, Logger: logger})

	saveCfg := autosave.DefaultConfig()
	saveCfg.Sink = docs
	saveCfg.Rate = 200 // keep the drain short
	saveCfg.Burst = 50
	saveCfg.Logger = logger
	saver, err := autosave.NewDispatcher(saveCfg)
	require.NoError(t, err)

	store := project.NewStore(project.Config{
		IDs:       ids,
		Timelines: timelines,
		Emitter:   emitter,
		Saver:     saver,
		Logger:    logger,
	})
	engine, err := history.NewEngine(history.Config{
		Model:   store,
		Depth:   50,
		Saver:   saver,
		Emitter: emitter,
		Logger:  logger,
	})
	require.NoError(t, err)

	index, err := spatial.New(spatial.DefaultConfig(), store, logger)
	require.NoError(t, err)
	visible := viewport.NewCache(viewport.DefaultConfig(), store, logger)
	store.AttachHistory(engine)
	store.AttachIndexes(index, visible)

	// Step 3: Build a small course through the store API
	t.Log("Creating project structure...")
	_, err = store.NewProject("Integration Course")
	require.NoError(t, err)
	moduleID, err := store.CreateModule("Module One")
	require.NoError(t, err)
	lessonID, err := store.CreateLesson(moduleID, "Lesson One")
	require.NoError(t, err)
	pageID, err := store.CreatePage(lessonID, "Page One")
	require.NoError(t, err)
	elementID, err := store.CreateElement(pageID, course.KindRectangle, "Box",
		geom.Point{X: 10, Y: 20}, geom.Dimensions{Width: 100, Height: 50})
	require.NoError(t, err)

	// Step 4: Edit, undo, redo
	t.Log("Editing and replaying history...")
	moved := geom.Point{X: 300, Y: 400}
	require.NoError(t, store.PatchElement(pageID, elementID, project.ElementPatch{
		Position: &moved,
	}))

	t.Run("Undo_Restores_Position", func(t *testing.T) {
		require.True(t, engine.Undo(ctx, history.ScopePage, pageID))
		el, ok := store.ElementState(pageID, elementID)
		require.True(t, ok)
		assert.Equal(t, 10.0, el.Position.X)
		assert.Equal(t, 20.0, el.Position.Y)
	})

	t.Run("Redo_Reapplies_Move", func(t *testing.T) {
		require.True(t, engine.Redo(ctx, history.ScopePage, pageID))
		el, ok := store.ElementState(pageID, elementID)
		require.True(t, ok)
		assert.Equal(t, 300.0, el.Position.X)
		assert.Equal(t, 400.0, el.Position.Y)
	})

	// Step 5: Drain autosave and verify the persisted document
	t.Log("Draining autosave...")
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, saver.Close(drainCtx))

	t.Run("Persisted_Page_Has_Final_State", func(t *testing.T) {
		var persisted course.Page
		require.NoError(t, docs.Get(ctx, "page", pageID, &persisted))
		require.Len(t, persisted.Elements, 1)

		el := persisted.Elements[0]
		assert.Equal(t, elementID, el.ID)
		assert.Equal(t, 300.0, el.Position.X)
		assert.Equal(t, 400.0, el.Position.Y)
		assert.Equal(t, 100.0, el.Size.Width)
	})

	t.Run("Spatial_Index_Tracks_Moved_Element", func(t *testing.T) {
		hits := store.ElementsInRect(pageID, geom.Rect{
			X: 250, Y: 350, Width: 200, Height: 200,
		})
		assert.Contains(t, hits, elementID)
	})
}
