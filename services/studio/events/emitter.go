// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 1000

// Handler processes one event. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(event *Event)

// Filter decides whether a subscription sees an event.
type Filter func(event *Event) bool

// subscription pairs a handler with its type and filter constraints.
// Fields are immutable after registration, so dispatch reads them
// without the emitter lock.
type subscription struct {
	handler Handler
	filter  Filter
	types   []Type
}

func (s *subscription) wants(ev *Event) bool {
	if len(s.types) > 0 && !slices.Contains(s.types, ev.Type) {
		return false
	}
	return s.filter == nil || s.filter(ev)
}

// Emitter broadcasts editor events to subscribers and keeps a bounded
// replay buffer for late readers, like the /events debug endpoint.
// Safe for concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	subs      map[string]*subscription
	ring      []Event
	head      int
	count     int
	projectID string
	seq       uint64

	bufferSize int
	logger     *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize bounds the replay buffer. Values below 1 keep the
// default of 1000.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithProjectID sets the course ID stamped on emitted events.
func WithProjectID(id string) EmitterOption {
	return func(e *Emitter) {
		e.projectID = id
	}
}

// WithLogger routes handler panic reports through logger.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmitter creates an emitter with an empty buffer and no subscribers.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subs:       make(map[string]*subscription),
		bufferSize: defaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ring = make([]Event, e.bufferSize)
	return e
}

// Subscribe registers handler for the given types, or for every event
// when no types are given. The returned ID feeds Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers handler behind an extra predicate that
// runs after the type match.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	id := uuid.NewString()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[id] = &subscription{handler: handler, filter: filter, types: types}
	return id
}

// Unsubscribe drops a subscription, reporting whether it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.subs[id]
	delete(e.subs, id)
	return ok
}

// Emit broadcasts an event carrying one of the typed data structs from
// this package.
func (e *Emitter) Emit(eventType Type, data any) {
	e.EmitWithMetadata(eventType, data, nil)
}

// EmitWithMetadata broadcasts an event with trace metadata attached.
// The event lands in the replay buffer first; handlers then run on the
// calling goroutine. A panicking handler is logged and skipped, and the
// remaining handlers still run.
func (e *Emitter) EmitWithMetadata(eventType Type, data any, metadata *EventMetadata) {
	e.mu.Lock()
	e.seq++
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ProjectID: e.projectID,
		Seq:       e.seq,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	}
	e.push(event)

	subs := make([]*subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	// Filters run outside the lock so they may call back into the
	// emitter without deadlocking.
	for _, sub := range subs {
		if sub.wants(&event) {
			e.invoke(sub.handler, &event)
		}
	}
}

// push appends to the ring, evicting the oldest entry when full.
// Callers hold the write lock.
func (e *Emitter) push(ev Event) {
	if e.count < len(e.ring) {
		e.ring[(e.head+e.count)%len(e.ring)] = ev
		e.count++
		return
	}
	e.ring[e.head] = ev
	e.head = (e.head + 1) % len(e.ring)
}

func (e *Emitter) invoke(h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				slog.String("event_type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				slog.Any("panic", r))
		}
	}()
	h(ev)
}

// SetProjectID stamps id on events emitted from now on. The project
// store calls this when a course document is installed.
func (e *Emitter) SetProjectID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projectID = id
}

// GetBuffer returns the buffered events, oldest first.
func (e *Emitter) GetBuffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(nil)
}

// GetBufferSince returns buffered events emitted after since.
func (e *Emitter) GetBufferSince(since time.Time) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(func(ev *Event) bool { return ev.Timestamp.After(since) })
}

// GetBufferByType returns buffered events of one type.
func (e *Emitter) GetBufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(func(ev *Event) bool { return ev.Type == eventType })
}

// snapshot copies ring contents in emit order, applying keep when set.
// Callers hold at least the read lock.
func (e *Emitter) snapshot(keep func(*Event) bool) []Event {
	out := make([]Event, 0, e.count)
	for i := 0; i < e.count; i++ {
		ev := e.ring[(e.head+i)%len(e.ring)]
		if keep == nil || keep(&ev) {
			out = append(out, ev)
		}
	}
	return out
}

// ClearBuffer drops buffered events. Subscriptions and the sequence
// counter are untouched.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.head, e.count = 0, 0
}

// SubscriptionCount reports the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Reset returns the emitter to its initial state: no subscriptions, an
// empty buffer, and the sequence back at zero.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[string]*subscription)
	e.head, e.count = 0, 0
	e.seq = 0
}
