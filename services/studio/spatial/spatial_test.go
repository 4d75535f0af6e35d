// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spatial

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

func newIndex(t *testing.T, cfg Config) *Index {
	t.Helper()
	ix, err := New(cfg, nil, nil)
	require.NoError(t, err)
	return ix
}

// bruteForce is the reference implementation queries are checked against.
func bruteForce(boxes map[string]geom.Rect, query geom.Rect) []string {
	var out []string
	for id, box := range boxes {
		if box.Intersects(query) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.EnableThreshold = -1
	assert.ErrorIs(t, bad.Validate(), ErrBadThreshold)

	bad = DefaultConfig()
	bad.MinCellSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrBadCellSize)

	bad = DefaultConfig()
	bad.MaxCellSize = 16
	assert.ErrorIs(t, bad.Validate(), ErrBadCellSize)

	bad = DefaultConfig()
	bad.DenseAvg = 2
	assert.ErrorIs(t, bad.Validate(), ErrBadDensity)
}

func TestGridMatchesLinearScan(t *testing.T) {
	// Same population queried through a gridded page and a linear page
	// must produce identical results for identical queries.
	rng := rand.New(rand.NewSource(42))
	boxes := make(map[string]geom.Rect, 60)
	for i := 0; i < 60; i++ {
		boxes[fmt.Sprintf("el-%d", i)] = geom.Rect{
			X:      rng.Float64() * 1920,
			Y:      rng.Float64() * 1080,
			Width:  rng.Float64()*300 + 1,
			Height: rng.Float64()*200 + 1,
		}
	}

	gridded := newIndex(t, DefaultConfig())
	linearCfg := DefaultConfig()
	linearCfg.EnableThreshold = 1000 // Never grid
	linear := newIndex(t, linearCfg)

	for id, box := range boxes {
		gridded.SetElement("pag-1", id, box)
		linear.SetElement("pag-1", id, box)
	}

	gs, ok := gridded.PageStats("pag-1")
	require.True(t, ok)
	require.True(t, gs.Gridded, "60 elements should enable the grid")
	ls, ok := linear.PageStats("pag-1")
	require.True(t, ok)
	require.False(t, ls.Gridded)

	for i := 0; i < 200; i++ {
		query := geom.Rect{
			X:      rng.Float64()*2200 - 100,
			Y:      rng.Float64()*1400 - 100,
			Width:  rng.Float64() * 600,
			Height: rng.Float64() * 400,
		}
		want := bruteForce(boxes, query)
		assert.Equal(t, want, gridded.QueryRect("pag-1", query), "grid query %d", i)
		assert.Equal(t, want, linear.QueryRect("pag-1", query), "linear query %d", i)
	}
}

func TestEnableThresholdCrossing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 5
	ix := newIndex(t, cfg)

	for i := 0; i < 4; i++ {
		ix.SetElement("pag-1", fmt.Sprintf("el-%d", i), geom.Rect{X: float64(i * 100), Width: 50, Height: 50})
	}
	st, _ := ix.PageStats("pag-1")
	assert.False(t, st.Gridded, "below threshold stays linear")

	ix.SetElement("pag-1", "el-4", geom.Rect{X: 400, Width: 50, Height: 50})
	st, _ = ix.PageStats("pag-1")
	assert.True(t, st.Gridded, "reaching threshold builds the grid")

	ix.RemoveElement("pag-1", "el-4")
	st, _ = ix.PageStats("pag-1")
	assert.False(t, st.Gridded, "dropping below threshold tears the grid down")

	// Queries still work through the linear fallback.
	got := ix.QueryRect("pag-1", geom.Rect{X: 0, Y: 0, Width: 120, Height: 60})
	assert.Equal(t, []string{"el-0", "el-1"}, got)
}

func TestUpdateMovesElementBetweenCells(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 1
	ix := newIndex(t, cfg)

	ix.SetElement("pag-1", "el-roam", geom.Rect{X: 10, Y: 10, Width: 20, Height: 20})
	ix.SetElement("pag-1", "el-anchor", geom.Rect{X: 10, Y: 10, Width: 20, Height: 20})

	assert.Contains(t, ix.QueryRect("pag-1", geom.Rect{X: 0, Y: 0, Width: 64, Height: 64}), "el-roam")

	// Move far away, into a different cell.
	ix.SetElement("pag-1", "el-roam", geom.Rect{X: 1500, Y: 1500, Width: 20, Height: 20})

	near := ix.QueryRect("pag-1", geom.Rect{X: 0, Y: 0, Width: 64, Height: 64})
	assert.NotContains(t, near, "el-roam", "stale cell entry must be gone")
	assert.Contains(t, near, "el-anchor")

	far := ix.QueryRect("pag-1", geom.Rect{X: 1400, Y: 1400, Width: 300, Height: 300})
	assert.Equal(t, []string{"el-roam"}, far)
}

func TestAdaptationHalvesOnDensePage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 30
	ix := newIndex(t, cfg)

	// 40 small elements piled into one nominal cell: average elements per
	// occupied cell far exceeds the dense bound.
	for i := 0; i < 40; i++ {
		ix.SetElement("pag-1", fmt.Sprintf("el-%d", i), geom.Rect{
			X: float64(i % 10), Y: float64(i / 10), Width: 4, Height: 4,
		})
	}

	st, ok := ix.PageStats("pag-1")
	require.True(t, ok)
	require.True(t, st.Gridded)
	assert.Equal(t, 128.0, st.CellSize, "one halving per rebuild, no more")
}

func TestAdaptationWidensOnSparsePage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 30
	ix := newIndex(t, cfg)

	// 30 tiny elements spread ~1000 units apart: every occupied cell
	// holds exactly one element, under the sparse bound.
	for i := 0; i < 30; i++ {
		ix.SetElement("pag-1", fmt.Sprintf("el-%d", i), geom.Rect{
			X: float64(i) * 1000, Y: float64(i%3) * 900, Width: 8, Height: 8,
		})
	}

	st, ok := ix.PageStats("pag-1")
	require.True(t, ok)
	require.True(t, st.Gridded)
	assert.Equal(t, 512.0, st.CellSize, "sparse page doubles the cell size once")
}

func TestAdaptationCoarsensOvershardedPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 30
	ix := newIndex(t, cfg)

	// 30 long thin elements, each smeared across many cells: cell count
	// dwarfs element count.
	for i := 0; i < 30; i++ {
		ix.SetElement("pag-1", fmt.Sprintf("el-%d", i), geom.Rect{
			X: 0, Y: float64(i) * 300, Width: 2200, Height: 10,
		})
	}

	st, ok := ix.PageStats("pag-1")
	require.True(t, ok)
	require.True(t, st.Gridded)
	assert.Equal(t, 512.0, st.CellSize, "oversharded page coarsens once")
}

// -----------------------------------------------------------------------------
// Staleness / Source
// -----------------------------------------------------------------------------

type fakeSource struct {
	pages map[string]map[string]geom.Rect
}

func (f *fakeSource) PageBounds(pageID string) (map[string]geom.Rect, bool) {
	boxes, ok := f.pages[pageID]
	if !ok {
		return nil, false
	}
	out := make(map[string]geom.Rect, len(boxes))
	for id, b := range boxes {
		out[id] = b
	}
	return out, true
}

func TestStaleRebuildPullsFromSource(t *testing.T) {
	src := &fakeSource{pages: map[string]map[string]geom.Rect{
		"pag-1": {
			"el-a": {X: 0, Y: 0, Width: 50, Height: 50},
			"el-b": {X: 500, Y: 500, Width: 50, Height: 50},
		},
	}}

	cfg := DefaultConfig()
	cfg.EnableThreshold = 1
	ix, err := New(cfg, src, nil)
	require.NoError(t, err)

	// Feed the index an outdated view, then invalidate it.
	ix.SetElement("pag-1", "el-a", geom.Rect{X: 9000, Y: 9000, Width: 5, Height: 5})
	ix.MarkStale("pag-1")

	got := ix.QueryRect("pag-1", geom.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	assert.Equal(t, []string{"el-a"}, got, "query must see the source's truth")

	got = ix.QueryRect("pag-1", geom.Rect{X: 8900, Y: 8900, Width: 300, Height: 300})
	assert.Empty(t, got, "outdated position must be gone after rebuild")
}

func TestStalePageGoneFromSource(t *testing.T) {
	src := &fakeSource{pages: map[string]map[string]geom.Rect{}}

	ix, err := New(DefaultConfig(), src, nil)
	require.NoError(t, err)

	ix.SetElement("pag-dead", "el-a", geom.Rect{Width: 10, Height: 10})
	ix.MarkStale("pag-dead")

	assert.Nil(t, ix.QueryRect("pag-dead", geom.Rect{Width: 5000, Height: 5000}))
	_, ok := ix.PageStats("pag-dead")
	assert.False(t, ok, "deleted page should drop its index state")
}

func TestQueryPoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableThreshold = 1
	ix := newIndex(t, cfg)

	ix.SetElement("pag-1", "el-hit", geom.Rect{X: 100, Y: 100, Width: 50, Height: 50})
	ix.SetElement("pag-1", "el-miss", geom.Rect{X: 300, Y: 300, Width: 50, Height: 50})

	assert.Equal(t, []string{"el-hit"}, ix.QueryPoint("pag-1", geom.Point{X: 120, Y: 120}))
	assert.Empty(t, ix.QueryPoint("pag-1", geom.Point{X: 200, Y: 200}))
	assert.Nil(t, ix.QueryPoint("pag-nope", geom.Point{X: 0, Y: 0}))
}
