// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform coalesces high-frequency pointer moves into
// per-frame store batches.
//
// A drag handler fires on every pointer event, often several times per
// frame. Writing each move through the store individually would lock,
// reindex, and commit hundreds of times per second. The Batcher instead
// merges moves per element and applies them once per frame interval, so
// the store sees one batch per frame no matter how fast the pointer
// moves.
package transform

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
	"github.com/AleutianAI/AleutianStudio/services/studio/project"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	updatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_transform_updates_total",
		Help: "Individual transform updates accepted by the batcher",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_transform_dropped_total",
		Help: "Transform updates dropped because the buffer was full",
	})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_transform_flushes_total",
		Help: "Batch flushes by trigger",
	}, []string{"trigger"})

	batchElements = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_transform_batch_elements",
		Help:    "Elements carried by one flushed batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})
)

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the slice of the project store the batcher writes to.
type Store interface {
	// PageOf resolves the page owning an element.
	PageOf(elementID string) (string, bool)

	// ApplyTransformBatch applies coalesced deltas to one page.
	ApplyTransformBatch(pageID string, deltas map[string]project.TransformDelta) error
}

// ErrNilStore indicates the batcher was built without a store.
var ErrNilStore = errors.New("batcher requires a store")

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Options configures the Batcher.
type Options struct {
	// FrameInterval is how long updates accumulate before a flush.
	// Default: 16ms, one frame at 60Hz.
	FrameInterval time.Duration

	// BufferSize is the update channel capacity. A drag produces well
	// under a hundred updates per second, so the default of 1024 only
	// fills if the worker stalls.
	// Default: 1024
	BufferSize int

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the tuning used by the editor.
func DefaultOptions() Options {
	return Options{
		FrameInterval: 16 * time.Millisecond,
		BufferSize:    1024,
	}
}

// -----------------------------------------------------------------------------
// Batcher
// -----------------------------------------------------------------------------

// update carries one partial transform for one element.
type update struct {
	elementID string
	position  *geom.Point
	size      *geom.Dimensions
	rotation  *float64
}

// Batcher merges interactive transform updates and applies them to the
// store once per frame.
//
// # Description
//
// Set*Direct calls enqueue partial updates. A worker goroutine merges
// them into a per-element pending map; the first update of a frame arms
// a timer, and when it fires everything pending is applied in one store
// batch per page. Unlike a debounce, the timer is not reset by later
// updates, so a continuous drag still flushes every frame.
//
// During an active transform session the store defers the history
// commit, so per-frame batches do not fragment the undo entry.
//
// # Thread Safety
//
// Safe for concurrent use. Updates are applied from a single goroutine.
type Batcher struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration

	updates chan update
	flushes chan chan struct{}
	done    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	running bool
}

// NewBatcher creates a batcher writing to the given store.
//
// # Inputs
//
//   - store: Destination for flushed batches. Required.
//   - opts: Optional tuning (nil uses defaults).
//
// # Outputs
//
//   - *Batcher: Ready to Start.
//   - error: ErrNilStore when store is nil.
func NewBatcher(store Store, opts *Options) (*Batcher, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	interval := opts.FrameInterval
	if interval <= 0 {
		interval = DefaultOptions().FrameInterval
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultOptions().BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Batcher{
		store:    store,
		logger:   logger.With("component", "transform"),
		interval: interval,
		updates:  make(chan update, size),
		flushes:  make(chan chan struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start launches the flush worker. Calling Start twice is a no-op.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
	return nil
}

// Stop shuts the worker down after a final flush of pending updates.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		running := b.running
		b.running = false
		b.mu.Unlock()

		close(b.done)
		if running {
			<-b.stopped
		}
	})
}

// IsRunning reports whether the worker is active.
func (b *Batcher) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// -----------------------------------------------------------------------------
// Updates
// -----------------------------------------------------------------------------

// SetPositionDirect records a new absolute position for an element.
// Later positions for the same element supersede earlier ones.
func (b *Batcher) SetPositionDirect(elementID string, pos geom.Point) {
	p := pos
	b.send(update{elementID: elementID, position: &p})
}

// SetSizeDirect records a new size for an element.
func (b *Batcher) SetSizeDirect(elementID string, size geom.Dimensions) {
	s := size
	b.send(update{elementID: elementID, size: &s})
}

// SetRotationDirect records a new rotation, in degrees, for an element.
func (b *Batcher) SetRotationDirect(elementID string, degrees float64) {
	r := degrees
	b.send(update{elementID: elementID, rotation: &r})
}

// send enqueues without blocking. A full buffer drops the update; the
// next move for the same element supersedes it anyway.
func (b *Batcher) send(u update) {
	select {
	case b.updates <- u:
		updatesTotal.Inc()
	default:
		droppedTotal.Inc()
	}
}

// FlushNow applies everything pending synchronously. Session-ending
// paths call this before the final history commit so moves from the
// last partial frame are not lost.
func (b *Batcher) FlushNow() {
	if !b.IsRunning() {
		return
	}
	req := make(chan struct{})
	select {
	case b.flushes <- req:
		select {
		case <-req:
		case <-b.stopped:
		}
	case <-b.stopped:
	case <-b.done:
	}
}

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (b *Batcher) run(ctx context.Context) {
	defer close(b.stopped)

	pending := make(map[string]project.TransformDelta)
	var timer *time.Timer
	var timerC <-chan time.Time

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	flush := func(trigger string) {
		disarm()
		if len(pending) == 0 {
			return
		}
		b.apply(pending, trigger)
		pending = make(map[string]project.TransformDelta)
	}
	// Merges everything already enqueued, so a flush that follows a
	// burst of sends observes all of them.
	drain := func() {
		for {
			select {
			case u := <-b.updates:
				merge(pending, u)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			flush("shutdown")
			return
		case <-b.done:
			drain()
			flush("shutdown")
			return
		case u := <-b.updates:
			merge(pending, u)
			// Arm the frame timer on the first update only; a drag
			// that keeps sending must still flush every frame.
			if timer == nil {
				timer = time.NewTimer(b.interval)
				timerC = timer.C
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush("frame")
		case req := <-b.flushes:
			drain()
			flush("manual")
			close(req)
		}
	}
}

// merge folds one update into the pending map, field-wise.
func merge(pending map[string]project.TransformDelta, u update) {
	d := pending[u.elementID]
	if u.position != nil {
		d.Position = u.position
	}
	if u.size != nil {
		d.Size = u.size
	}
	if u.rotation != nil {
		d.Rotation = u.rotation
	}
	pending[u.elementID] = d
}

// apply groups the pending map by owning page and writes one store
// batch per page. Elements that vanished mid-gesture drop out here.
func (b *Batcher) apply(pending map[string]project.TransformDelta, trigger string) {
	byPage := make(map[string]map[string]project.TransformDelta)
	for id, d := range pending {
		pageID, ok := b.store.PageOf(id)
		if !ok {
			continue
		}
		batch := byPage[pageID]
		if batch == nil {
			batch = make(map[string]project.TransformDelta)
			byPage[pageID] = batch
		}
		batch[id] = d
	}

	pages := make([]string, 0, len(byPage))
	for pageID := range byPage {
		pages = append(pages, pageID)
	}
	sort.Strings(pages)

	for _, pageID := range pages {
		batch := byPage[pageID]
		if err := b.store.ApplyTransformBatch(pageID, batch); err != nil {
			b.logger.Warn("transform batch rejected",
				"page", pageID,
				"elements", len(batch),
				"error", err)
			continue
		}
		batchElements.Observe(float64(len(batch)))
	}
	flushesTotal.WithLabelValues(trigger).Inc()
}
