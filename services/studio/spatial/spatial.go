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
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	spatialRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_spatial_rebuilds_total",
		Help: "Total number of page index rebuilds",
	})

	spatialAdaptationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_spatial_adaptations_total",
		Help: "Cell size adaptations performed during rebuilds",
	}, []string{"direction"})

	spatialCellSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studio_spatial_cell_size",
		Help: "Cell size chosen by the most recent rebuild",
	})

	spatialQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studio_spatial_query_duration_seconds",
		Help:    "Duration of spatial queries",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
	}, []string{"path"})
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBadThreshold indicates a negative enable threshold.
	ErrBadThreshold = errors.New("enable threshold must not be negative")

	// ErrBadCellSize indicates cell size bounds that cannot hold.
	ErrBadCellSize = errors.New("cell sizes must satisfy 0 < min <= nominal <= max")

	// ErrBadDensity indicates dense/sparse bounds that overlap.
	ErrBadDensity = errors.New("dense average must exceed sparse average")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls grid behavior. Start from DefaultConfig; the zero
// value fails validation.
type Config struct {
	// EnableThreshold is the element count at which a page gets a grid.
	// Below it queries linear-scan the stored boxes.
	EnableThreshold int

	// CellSize is the nominal cell edge length for fresh grids.
	CellSize float64

	// MinCellSize bounds how far dense-page adaptation can halve.
	MinCellSize float64

	// MaxCellSize bounds how far sparse-page adaptation can double.
	MaxCellSize float64

	// DenseAvg halves the cell size when occupied cells average more
	// elements than this.
	DenseAvg float64

	// SparseAvg doubles the cell size when occupied cells average fewer
	// elements than this.
	SparseAvg float64

	// OvershardFactor coarsens when occupied cells exceed this multiple
	// of the element count.
	OvershardFactor float64
}

// DefaultConfig returns the grid tuning used by the editor.
func DefaultConfig() Config {
	return Config{
		EnableThreshold: 30,
		CellSize:        256,
		MinCellSize:     32,
		MaxCellSize:     2048,
		DenseAvg:        25,
		SparseAvg:       4,
		OvershardFactor: 4,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.EnableThreshold < 0 {
		return ErrBadThreshold
	}
	if c.MinCellSize <= 0 || c.MinCellSize > c.CellSize || c.CellSize > c.MaxCellSize {
		return ErrBadCellSize
	}
	if c.DenseAvg <= c.SparseAvg {
		return ErrBadDensity
	}
	return nil
}

// -----------------------------------------------------------------------------
// Source
// -----------------------------------------------------------------------------

// Source supplies authoritative element bounds for lazy rebuilds after a
// page was marked stale.
type Source interface {
	// PageBounds returns the absolute bounding box of every element on
	// the page, keyed by element ID, or false if the page does not exist.
	PageBounds(pageID string) (map[string]geom.Rect, bool)
}

// -----------------------------------------------------------------------------
// Index
// -----------------------------------------------------------------------------

type cellKey struct {
	X int32
	Y int32
}

// pageGrid is the per-page state. All access goes through Index.mu.
type pageGrid struct {
	// boxes is the authoritative ID -> absolute AABB map. Maintained for
	// every page regardless of grid state; it doubles as the linear scan
	// fallback and as the verification source for grid candidates.
	boxes map[string]geom.Rect

	// cells buckets element IDs by grid cell. Nil while not gridded.
	cells map[cellKey]map[string]struct{}

	cellSize float64
	gridded  bool
	stale    bool
}

// Index is the spatial index over all pages.
//
// # Thread Safety
//
// Safe for concurrent use. One lock guards all pages; rebuild work for a
// stale page is deduplicated across concurrent queriers.
type Index struct {
	mu     sync.RWMutex
	pages  map[string]*pageGrid
	cfg    Config
	src    Source
	flight singleflight.Group
	logger *slog.Logger
}

// New creates an index.
//
// # Inputs
//
//   - cfg: Grid tuning. Validated.
//   - src: Bounds source for stale-page rebuilds. May be nil; stale
//     pages then re-bucket from their last-known boxes.
//   - logger: Logger instance. If nil, uses slog.Default().
//
// # Outputs
//
//   - *Index: Ready-to-use index.
//   - error: Non-nil if cfg fails validation.
func New(cfg Config, src Source, logger *slog.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		pages:  make(map[string]*pageGrid),
		cfg:    cfg,
		src:    src,
		logger: logger.With(slog.String("component", "spatial")),
	}, nil
}

// SetElement inserts or updates one element's bounds.
//
// # Description
//
// Updates are remove-then-insert against the grid cells. Crossing the
// enable threshold upward builds the page's grid; an update alone never
// triggers adaptation, only rebuilds do.
func (ix *Index) SetElement(pageID, elementID string, box geom.Rect) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	pg := ix.pages[pageID]
	if pg == nil {
		pg = &pageGrid{boxes: make(map[string]geom.Rect)}
		ix.pages[pageID] = pg
	}

	if pg.gridded {
		if old, ok := pg.boxes[elementID]; ok {
			ix.unbucketLocked(pg, elementID, old)
		}
	}
	pg.boxes[elementID] = box
	if pg.gridded {
		ix.bucketOneLocked(pg, elementID, box)
		return
	}

	if len(pg.boxes) >= ix.cfg.EnableThreshold {
		ix.rebuildLocked(pageID, pg)
	}
}

// RemoveElement drops one element. Unknown IDs are a no-op.
func (ix *Index) RemoveElement(pageID, elementID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	pg := ix.pages[pageID]
	if pg == nil {
		return
	}
	box, ok := pg.boxes[elementID]
	if !ok {
		return
	}
	delete(pg.boxes, elementID)
	if !pg.gridded {
		return
	}

	ix.unbucketLocked(pg, elementID, box)
	if len(pg.boxes) < ix.cfg.EnableThreshold {
		// Fell below the threshold: tear the grid down, keep the boxes.
		pg.cells = nil
		pg.gridded = false
	}
}

// RemovePage drops all state for a page. Unknown IDs are a no-op.
func (ix *Index) RemovePage(pageID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.pages, pageID)
}

// MarkStale flags a page for lazy rebuild on its next query.
//
// Used after bulk restores where updating element by element would cost
// more than rebuilding once.
func (ix *Index) MarkStale(pageID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	pg := ix.pages[pageID]
	if pg == nil {
		pg = &pageGrid{boxes: make(map[string]geom.Rect)}
		ix.pages[pageID] = pg
	}
	pg.stale = true
}

// Rebuild refreshes a page from the bounds source immediately.
func (ix *Index) Rebuild(pageID string) {
	ix.MarkStale(pageID)
	ix.ensureFresh(pageID)
}

// QueryRect returns the IDs of elements whose bounds overlap the rect,
// sorted for determinism.
//
// # Description
//
// Grid pages union the candidate sets of the covered cells and verify
// every candidate against its stored box. Non-grid pages scan all boxes.
// Both paths return identical results for identical state. Unknown pages
// return nil.
func (ix *Index) QueryRect(pageID string, query geom.Rect) []string {
	start := time.Now()
	ix.ensureFresh(pageID)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	pg := ix.pages[pageID]
	if pg == nil {
		return nil
	}

	path := "linear"
	var out []string
	if pg.gridded {
		path = "grid"
		seen := make(map[string]struct{})
		for _, key := range cellsCovering(query, pg.cellSize) {
			for id := range pg.cells[key] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if pg.boxes[id].Intersects(query) {
					out = append(out, id)
				}
			}
		}
	} else {
		for id, box := range pg.boxes {
			if box.Intersects(query) {
				out = append(out, id)
			}
		}
	}

	sort.Strings(out)
	spatialQueryDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	return out
}

// QueryPoint returns the IDs of elements whose bounds contain the point.
func (ix *Index) QueryPoint(pageID string, p geom.Point) []string {
	return ix.QueryRect(pageID, geom.Rect{X: p.X, Y: p.Y})
}

// Stats describes one page's index state.
type Stats struct {
	Elements      int
	OccupiedCells int
	CellSize      float64
	Gridded       bool
}

// PageStats returns index statistics for a page.
func (ix *Index) PageStats(pageID string) (Stats, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	pg := ix.pages[pageID]
	if pg == nil {
		return Stats{}, false
	}
	return Stats{
		Elements:      len(pg.boxes),
		OccupiedCells: len(pg.cells),
		CellSize:      pg.cellSize,
		Gridded:       pg.gridded,
	}, true
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// ensureFresh rebuilds a stale page before a query. Concurrent callers
// for the same page share one rebuild.
func (ix *Index) ensureFresh(pageID string) {
	ix.mu.RLock()
	pg := ix.pages[pageID]
	stale := pg != nil && pg.stale
	ix.mu.RUnlock()
	if !stale {
		return
	}

	ix.flight.Do(pageID, func() (interface{}, error) {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		pg := ix.pages[pageID]
		if pg == nil || !pg.stale {
			return nil, nil // Another flight got here first
		}
		ix.reloadLocked(pageID, pg)
		return nil, nil
	})
}

// reloadLocked refreshes a page's boxes from the source and rebuilds.
func (ix *Index) reloadLocked(pageID string, pg *pageGrid) {
	if ix.src != nil {
		boxes, ok := ix.src.PageBounds(pageID)
		if !ok {
			delete(ix.pages, pageID)
			return
		}
		pg.boxes = boxes
	}
	ix.rebuildLocked(pageID, pg)
}

// rebuildLocked re-buckets a page and runs the adaptation pass. At most
// one cell size adjustment happens per call.
func (ix *Index) rebuildLocked(pageID string, pg *pageGrid) {
	pg.stale = false

	if len(pg.boxes) < ix.cfg.EnableThreshold {
		pg.cells = nil
		pg.gridded = false
		return
	}

	if pg.cellSize == 0 {
		pg.cellSize = ix.cfg.CellSize
	}
	ix.bucketAllLocked(pg)
	ix.adaptLocked(pg)

	spatialRebuildsTotal.Inc()
	spatialCellSizeGauge.Set(pg.cellSize)
	ix.logger.Debug("spatial index rebuilt",
		slog.String("page_id", pageID),
		slog.Int("elements", len(pg.boxes)),
		slog.Int("cells", len(pg.cells)),
		slog.Float64("cell_size", pg.cellSize))
}

// adaptLocked adjusts the cell size once if the bucketing it finds is
// pathological, then re-buckets. Not a loop: a single rebuild makes a
// single adjustment, so alternating dense/sparse pages cannot oscillate
// within one call.
func (ix *Index) adaptLocked(pg *pageGrid) {
	occupied := len(pg.cells)
	if occupied == 0 {
		return
	}

	memberships := 0
	for _, cell := range pg.cells {
		memberships += len(cell)
	}
	avg := float64(memberships) / float64(occupied)
	elements := float64(len(pg.boxes))

	var direction string
	switch {
	case avg > ix.cfg.DenseAvg && pg.cellSize/2 >= ix.cfg.MinCellSize:
		pg.cellSize /= 2
		direction = "halve"
	case float64(occupied) > ix.cfg.OvershardFactor*elements && pg.cellSize*2 <= ix.cfg.MaxCellSize:
		pg.cellSize *= 2
		direction = "coarsen"
	case avg < ix.cfg.SparseAvg && pg.cellSize*2 <= ix.cfg.MaxCellSize:
		pg.cellSize *= 2
		direction = "widen"
	default:
		return
	}

	ix.bucketAllLocked(pg)
	spatialAdaptationsTotal.WithLabelValues(direction).Inc()
}

// bucketAllLocked rebuilds the cell map from scratch at the current size.
func (ix *Index) bucketAllLocked(pg *pageGrid) {
	pg.cells = make(map[cellKey]map[string]struct{})
	pg.gridded = true
	for id, box := range pg.boxes {
		ix.bucketOneLocked(pg, id, box)
	}
}

func (ix *Index) bucketOneLocked(pg *pageGrid, id string, box geom.Rect) {
	for _, key := range cellsCovering(box, pg.cellSize) {
		cell := pg.cells[key]
		if cell == nil {
			cell = make(map[string]struct{})
			pg.cells[key] = cell
		}
		cell[id] = struct{}{}
	}
}

func (ix *Index) unbucketLocked(pg *pageGrid, id string, box geom.Rect) {
	for _, key := range cellsCovering(box, pg.cellSize) {
		cell := pg.cells[key]
		if cell == nil {
			continue
		}
		delete(cell, id)
		if len(cell) == 0 {
			delete(pg.cells, key)
		}
	}
}

// cellsCovering returns every cell key a rect touches. Degenerate rects
// cover the single cell containing their origin.
func cellsCovering(r geom.Rect, size float64) []cellKey {
	x0 := int32(math.Floor(r.X / size))
	x1 := int32(math.Floor(r.Right() / size))
	y0 := int32(math.Floor(r.Y / size))
	y1 := int32(math.Floor(r.Bottom() / size))

	keys := make([]cellKey, 0, (x1-x0+1)*(y1-y0+1))
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			keys = append(keys, cellKey{X: x, Y: y})
		}
	}
	return keys
}
