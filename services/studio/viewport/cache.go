// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewport caches which elements are worth drawing for the
// current camera position of each page.
//
// # Overview
//
// The renderer culls against a margin-expanded copy of the viewport so
// small pans reveal already-cached elements instead of popping. The
// cache tracks the expanded rect and the set of element IDs whose
// bounds intersect it. Element edits patch the set incrementally; an
// edit burst that would flip a large share of the set triggers a full
// recompute instead, since at that point the incremental bookkeeping
// costs more than rebuilding.
//
// A page with no cache entry means "no filtering": callers must render
// everything, never nothing. Restores therefore just invalidate the
// page and let the next camera update rebuild the set.
package viewport

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	viewportRecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_viewport_recomputes_total",
		Help: "Full visible-set recomputes, by reason",
	}, []string{"reason"})

	viewportUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_viewport_element_updates_total",
		Help: "Incremental element visibility updates applied",
	})

	viewportVisibleGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studio_viewport_visible_elements",
		Help: "Visible-set size after the most recent update",
	})
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls culling behavior.
type Config struct {
	// Margin expands the viewport on every side before intersection, in
	// canvas units.
	Margin float64

	// ChurnRatio is the fraction of the visible set that may flip in one
	// batch before the cache recomputes from scratch instead.
	ChurnRatio float64
}

// DefaultConfig returns the culling tuning used by the editor.
func DefaultConfig() Config {
	return Config{
		Margin:     200,
		ChurnRatio: 0.4,
	}
}

// -----------------------------------------------------------------------------
// Source
// -----------------------------------------------------------------------------

// Source supplies authoritative element bounds for full recomputes.
type Source interface {
	// PageBounds returns the absolute bounding box of every element on
	// the page, keyed by element ID, or false if the page does not exist.
	PageBounds(pageID string) (map[string]geom.Rect, bool)
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// ElementUpdate describes one element's new bounds within a batch.
type ElementUpdate struct {
	ID      string
	Bounds  geom.Rect
	Removed bool
}

type pageView struct {
	expanded geom.Rect
	visible  map[string]struct{}
}

// Cache tracks per-page visible element sets.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	src    Source
	pages  map[string]*pageView
	logger *slog.Logger
}

// NewCache creates a visibility cache.
//
// # Inputs
//
//   - cfg: Culling tuning. Non-positive Margin and out-of-range
//     ChurnRatio are replaced by defaults.
//   - src: Bounds source for full recomputes. May be nil; churn-based
//     recomputes then fall back to applying the batch incrementally.
//   - logger: Logger instance. If nil, uses slog.Default().
func NewCache(cfg Config, src Source, logger *slog.Logger) *Cache {
	def := DefaultConfig()
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.ChurnRatio <= 0 || cfg.ChurnRatio >= 1 {
		cfg.ChurnRatio = def.ChurnRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:    cfg,
		src:    src,
		pages:  make(map[string]*pageView),
		logger: logger.With(slog.String("component", "viewport")),
	}
}

// UpdateViewport sets the camera rect for a page and recomputes its
// visible set from the bounds source.
//
// # Description
//
// The rect is expanded by the configured margin before intersection.
// Pages unknown to the source drop their cache entry, which reads as
// "no filtering" to callers.
func (c *Cache) UpdateViewport(pageID string, view geom.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expanded := view.Expand(c.cfg.Margin)

	var boxes map[string]geom.Rect
	if c.src != nil {
		var ok bool
		boxes, ok = c.src.PageBounds(pageID)
		if !ok {
			delete(c.pages, pageID)
			return
		}
	}

	pv := c.pages[pageID]
	if pv == nil {
		pv = &pageView{}
		c.pages[pageID] = pv
	}
	pv.expanded = expanded
	pv.visible = computeVisible(boxes, expanded)

	viewportRecomputesTotal.WithLabelValues("viewport").Inc()
	viewportVisibleGauge.Set(float64(len(pv.visible)))
}

// ApplyUpdates patches the visible set with a batch of element changes.
//
// # Description
//
// Each update flips an element in or out of the set depending on whether
// its new bounds intersect the expanded viewport. If the batch would
// flip more than the configured share of the current set, the whole set
// is recomputed from the bounds source instead. Pages without a cache
// entry ignore updates entirely; they are unfiltered by definition.
//
// # Inputs
//
//   - pageID: The page whose cache to patch.
//   - updates: Element bounds changes. Removed entries always leave.
func (c *Cache) ApplyUpdates(pageID string, updates []ElementUpdate) {
	if len(updates) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pv := c.pages[pageID]
	if pv == nil {
		return
	}

	flips := 0
	for _, u := range updates {
		_, in := pv.visible[u.ID]
		want := !u.Removed && u.Bounds.Intersects(pv.expanded)
		if in != want {
			flips++
		}
	}

	before := len(pv.visible)
	limit := int(math.Ceil(c.cfg.ChurnRatio * float64(before)))
	if before > 0 && flips > limit && c.src != nil {
		if boxes, ok := c.src.PageBounds(pageID); ok {
			pv.visible = computeVisible(boxes, pv.expanded)
			viewportRecomputesTotal.WithLabelValues("churn").Inc()
			viewportVisibleGauge.Set(float64(len(pv.visible)))
			c.logger.Debug("visible set recomputed on churn",
				slog.String("page_id", pageID),
				slog.Int("flips", flips),
				slog.Int("size_before", before))
			return
		}
		delete(c.pages, pageID)
		return
	}

	for _, u := range updates {
		if !u.Removed && u.Bounds.Intersects(pv.expanded) {
			pv.visible[u.ID] = struct{}{}
		} else {
			delete(pv.visible, u.ID)
		}
	}
	viewportUpdatesTotal.Add(float64(len(updates)))
	viewportVisibleGauge.Set(float64(len(pv.visible)))
}

// UpdateElement patches a single element's visibility.
func (c *Cache) UpdateElement(pageID, elementID string, bounds geom.Rect) {
	c.ApplyUpdates(pageID, []ElementUpdate{{ID: elementID, Bounds: bounds}})
}

// RemoveElement drops a single element from the visible set.
func (c *Cache) RemoveElement(pageID, elementID string) {
	c.ApplyUpdates(pageID, []ElementUpdate{{ID: elementID, Removed: true}})
}

// Invalidate drops a page's cache entry. Until the next UpdateViewport
// the page renders unfiltered.
func (c *Cache) Invalidate(pageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, pageID)
}

// VisibleSet returns the cached visible IDs for a page, sorted.
//
// # Outputs
//
//   - []string: Visible element IDs. May be empty.
//   - bool: False when the page has no cache entry. Callers must treat
//     that as "render everything", never as "render nothing".
func (c *Cache) VisibleSet(pageID string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pv := c.pages[pageID]
	if pv == nil {
		return nil, false
	}
	out := make([]string, 0, len(pv.visible))
	for id := range pv.visible {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, true
}

// IsVisible reports one element's cached visibility.
//
// # Outputs
//
//   - bool: Whether the element is in the visible set.
//   - bool: False when the page has no cache entry (unfiltered).
func (c *Cache) IsVisible(pageID, elementID string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pv := c.pages[pageID]
	if pv == nil {
		return false, false
	}
	_, in := pv.visible[elementID]
	return in, true
}

func computeVisible(boxes map[string]geom.Rect, expanded geom.Rect) map[string]struct{} {
	visible := make(map[string]struct{})
	for id, box := range boxes {
		if box.Intersects(expanded) {
			visible[id] = struct{}{}
		}
	}
	return visible
}
