// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package autosave persists editor state in the background.
//
// Every successful mutation hands the dispatcher a snapshot. Saving on
// each one would hammer the document store during interactive editing,
// so the dispatcher keeps only the newest snapshot per scope and key
// and writes it out under a per-scope rate limit. Work the editor has
// already superseded is never written at all.
//
// Queueing never blocks and save failures never reach the caller; a
// failed write is logged and the snapshot stays pending for the next
// attempt.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studio_autosave_queue_depth",
		Help: "Snapshots waiting for a save slot",
	})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_autosave_saves_total",
		Help: "Completed save attempts by scope and result",
	}, []string{"scope", "result"})

	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_autosave_superseded_total",
		Help: "Queued snapshots replaced before they were written",
	})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_autosave_save_duration_seconds",
		Help:    "Duration of sink writes",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// -----------------------------------------------------------------------------
// Records and sink
// -----------------------------------------------------------------------------

// Record is one snapshot handed to the sink.
type Record struct {
	// ID uniquely identifies this save request.
	ID string

	// Scope names the kind of document: page, lesson, module,
	// module-structure, timeline, or course.
	Scope string

	// Key identifies the entity within the scope. Singleton scopes use
	// an empty key.
	Key string

	// Payload is the snapshot to persist. The dispatcher treats it as
	// opaque; ownership passed on Queue.
	Payload any

	// QueuedAt is when the latest snapshot for this scope and key was
	// accepted.
	QueuedAt time.Time
}

// SaveSink writes records to durable storage.
//
// Implementations must tolerate concurrent calls for different scopes
// and should honor ctx cancellation; a hung sink stalls the worker.
type SaveSink interface {
	Save(ctx context.Context, rec Record) error
}

// ErrNilSink indicates the dispatcher was built without a sink.
var ErrNilSink = errors.New("dispatcher requires a sink")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config tunes the dispatcher.
type Config struct {
	// Sink receives the snapshots. Required.
	Sink SaveSink

	// Rate is the sustained save rate per scope.
	// Default: 2 per second.
	Rate rate.Limit

	// Burst is how many saves a scope may make back to back.
	// Default: 4.
	Burst int

	// Clock supplies queue timestamps; tests inject a fake.
	// Default: time.Now.
	Clock func() time.Time

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the rates used by the editor.
func DefaultConfig() Config {
	return Config{
		Rate:  2,
		Burst: 4,
	}
}

// -----------------------------------------------------------------------------
// Dispatcher
// -----------------------------------------------------------------------------

// pendingKey addresses one coalescing slot.
type pendingKey struct {
	scope string
	key   string
}

// Dispatcher coalesces save requests and writes them out in the
// background.
//
// # Description
//
// Queue replaces the pending snapshot for its scope and key, so a burst
// of edits to one page costs one write. A single worker drains the
// pending set whenever each scope's rate limiter has a token; scopes
// never starve each other. Close performs a final drain that ignores
// the limiters, so nothing queued is lost on exit.
//
// # Thread Safety
//
// Safe for concurrent use. The sink is called from the worker
// goroutine only.
type Dispatcher struct {
	sink   SaveSink
	logger *slog.Logger
	clock  func() time.Time

	limit rate.Limit
	burst int

	mu       sync.Mutex
	pending  map[pendingKey]Record
	limiters map[string]*rate.Limiter

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher and starts its worker.
//
// # Inputs
//
//   - cfg: Sink is required; zero tuning fields take defaults.
//
// # Outputs
//
//   - *Dispatcher: Accepting queue requests.
//   - error: ErrNilSink when cfg.Sink is nil.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Sink == nil {
		return nil, ErrNilSink
	}
	defaults := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sink:     cfg.Sink,
		logger:   logger.With("component", "autosave"),
		clock:    cfg.Clock,
		limit:    cfg.Rate,
		burst:    cfg.Burst,
		pending:  make(map[pendingKey]Record),
		limiters: make(map[string]*rate.Limiter),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Queue records a snapshot for eventual persistence. It never blocks
// and never fails; a snapshot queued for the same scope and key
// replaces the previous one. Calls after Close are dropped.
func (d *Dispatcher) Queue(scope string, key string, payload any) {
	if d.closed.Load() {
		d.logger.Debug("save dropped, dispatcher closed", "scope", scope, "key", key)
		return
	}

	rec := Record{
		ID:       uuid.NewString(),
		Scope:    scope,
		Key:      key,
		Payload:  payload,
		QueuedAt: d.clock(),
	}

	d.mu.Lock()
	pk := pendingKey{scope: scope, key: key}
	if _, dup := d.pending[pk]; dup {
		supersededTotal.Inc()
	}
	d.pending[pk] = rec
	queueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many snapshots are waiting to be written.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting work, drains everything pending regardless of
// rate limits, and waits for the worker to finish or ctx to expire.
// A sink that hangs during the drain leaves the worker behind; Close
// still returns when ctx does.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
	})

	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (d *Dispatcher) run() {
	defer close(d.stopped)

	ctx := context.Background()
	var timer *time.Timer
	var timerC <-chan time.Time

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-d.done:
			disarm()
			d.drain(ctx)
			return
		case <-d.wake:
		case <-timerC:
			timer = nil
			timerC = nil
		}

		retry := d.flushReady(ctx)
		disarm()
		if retry >= 0 {
			timer = time.NewTimer(retry)
			timerC = timer.C
		}
	}
}

// flushReady writes every pending record whose scope has a token.
// Returns the wait until the earliest blocked scope frees up, or a
// negative duration when nothing is blocked.
func (d *Dispatcher) flushReady(ctx context.Context) time.Duration {
	d.mu.Lock()
	keys := make([]pendingKey, 0, len(d.pending))
	for pk := range d.pending {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scope != keys[j].scope {
			return keys[i].scope < keys[j].scope
		}
		return keys[i].key < keys[j].key
	})

	var ready []Record
	retry := time.Duration(-1)
	for _, pk := range keys {
		res := d.limiterLocked(pk.scope).Reserve()
		if !res.OK() {
			continue
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			if retry < 0 || delay < retry {
				retry = delay
			}
			continue
		}
		ready = append(ready, d.pending[pk])
		delete(d.pending, pk)
	}
	queueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()

	for _, rec := range ready {
		d.save(ctx, rec)
	}
	return retry
}

// drain writes everything left, ignoring rate limits. Runs once, on
// shutdown; losing the last edits to a limiter would defeat autosave.
func (d *Dispatcher) drain(ctx context.Context) {
	d.mu.Lock()
	recs := make([]Record, 0, len(d.pending))
	for _, rec := range d.pending {
		recs = append(recs, rec)
	}
	d.pending = make(map[pendingKey]Record)
	queueDepth.Set(0)
	d.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Scope != recs[j].Scope {
			return recs[i].Scope < recs[j].Scope
		}
		return recs[i].Key < recs[j].Key
	})
	for _, rec := range recs {
		d.save(ctx, rec)
	}
}

// save writes one record and absorbs any failure.
func (d *Dispatcher) save(ctx context.Context, rec Record) {
	ctx, span := otel.Tracer("studio").Start(ctx, "studio.Autosave.Save",
		trace.WithAttributes(
			attribute.String("scope", rec.Scope),
			attribute.String("key", rec.Key),
		),
	)
	defer span.End()

	start := time.Now()
	err := d.sink.Save(ctx, rec)
	saveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		savesTotal.WithLabelValues(rec.Scope, "error").Inc()
		d.logger.Warn("autosave failed",
			"scope", rec.Scope,
			"key", rec.Key,
			"error", err)
		d.requeue(rec)
		return
	}
	savesTotal.WithLabelValues(rec.Scope, "ok").Inc()
	d.logger.Debug("autosave written",
		"scope", rec.Scope,
		"key", rec.Key,
		"request", rec.ID)
}

// requeue puts a failed record back unless a newer snapshot for the
// same slot arrived meanwhile or the dispatcher is shutting down. The
// limiter paces the retry.
func (d *Dispatcher) requeue(rec Record) {
	if d.closed.Load() {
		return
	}
	d.mu.Lock()
	pk := pendingKey{scope: rec.Scope, key: rec.Key}
	if _, newer := d.pending[pk]; !newer {
		d.pending[pk] = rec
		queueDepth.Set(float64(len(d.pending)))
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) limiterLocked(scope string) *rate.Limiter {
	lim := d.limiters[scope]
	if lim == nil {
		lim = rate.NewLimiter(d.limit, d.burst)
		d.limiters[scope] = lim
	}
	return lim
}
