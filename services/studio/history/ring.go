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

const defaultRingCapacity = 50

// ring is a fixed-capacity LIFO backing the undo stacks. Pushing onto a
// full ring silently drops the oldest entry, so a stack forgets its deep
// past instead of growing without bound.
//
// Not safe for concurrent use; the engine serializes access per scope.
type ring[T any] struct {
	items []T
	start int // index of the oldest entry
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = defaultRingCapacity
	}
	return &ring[T]{items: make([]T, capacity)}
}

// push appends at the newest end, evicting the oldest entry when full.
func (r *ring[T]) push(item T) {
	if r.size == len(r.items) {
		r.items[r.start] = item
		r.start = (r.start + 1) % len(r.items)
		return
	}
	r.items[(r.start+r.size)%len(r.items)] = item
	r.size++
}

// pop removes and returns the newest entry.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := r.newestIndex()
	item := r.items[idx]
	r.items[idx] = zero
	r.size--
	return item, true
}

// peek returns the newest entry without removing it.
func (r *ring[T]) peek() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[r.newestIndex()], true
}

// replace overwrites the newest entry in place, reporting whether one
// existed. Squashing folds a change into the current top this way.
func (r *ring[T]) replace(item T) bool {
	if r.size == 0 {
		return false
	}
	r.items[r.newestIndex()] = item
	return true
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) newestIndex() int {
	return (r.start + r.size - 1) % len(r.items)
}
