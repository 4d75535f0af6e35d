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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
)

// -----------------------------------------------------------------------------
// Categories
// -----------------------------------------------------------------------------

// Category classifies what kind of change a snapshot records. The
// category decides squash eligibility: rapid structure and meta edits
// merge into one undo step, while every transform and style commit
// stays its own step.
type Category string

const (
	// CategoryAuto asks the engine to infer the category by diffing
	// against the previous snapshot.
	CategoryAuto Category = ""

	// CategoryTransform records geometric change: position, size,
	// rotation, opacity, visibility, z-order, or vertex moves.
	CategoryTransform Category = "transform"

	// CategoryStructure records composition change: elements added or
	// removed, reordered, regrouped, or re-triggered.
	CategoryStructure Category = "structure"

	// CategoryStyle records visual, non-geometric change.
	CategoryStyle Category = "style"

	// CategoryMeta records name, text, or metadata change.
	CategoryMeta Category = "meta"

	// CategoryTimeline records timeline record and clip change.
	CategoryTimeline Category = "timeline"
)

// Valid reports whether c is a concrete category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTransform, CategoryStructure, CategoryStyle,
		CategoryMeta, CategoryTimeline:
		return true
	}
	return false
}

// squashable reports whether consecutive commits of this category may
// merge into one undo step. Transform and style changes never squash:
// each discrete gesture stays individually undoable.
func (c Category) squashable() bool {
	return c != CategoryTransform && c != CategoryStyle
}

// -----------------------------------------------------------------------------
// Change signatures
// -----------------------------------------------------------------------------

// SignatureHashLength is the truncated hex length of a content hash.
const SignatureHashLength = 16 // 64 bits

// Signature is the cheap change detector attached to every snapshot:
// a mutation generation counter (pages only; zero elsewhere) plus a
// truncated content hash. Matching either component against the
// previous snapshot means nothing changed and the commit is skipped.
type Signature struct {
	Generation uint64
	Hash       string
}

// matches reports whether two signatures describe the same state.
// Generation equality is the fast path and only meaningful when the
// scope maintains a counter; the hash settles everything else.
func (s Signature) matches(o Signature) bool {
	if s.Generation > 0 && s.Generation == o.Generation {
		return true
	}
	return s.Hash != "" && s.Hash == o.Hash
}

// contentHash returns a truncated SHA256 over the JSON form of state.
// A state that fails to marshal hashes to the empty string, which never
// matches and therefore never suppresses a commit.
func contentHash(state any) string {
	raw, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])[:SignatureHashLength]
}

// signatureOf builds the signature for a state at a given generation.
func signatureOf(generation uint64, state any) Signature {
	return Signature{Generation: generation, Hash: contentHash(state)}
}

// -----------------------------------------------------------------------------
// Composite snapshot payloads
// -----------------------------------------------------------------------------

// StructureState is the course-wide module arrangement: the ordered
// refs plus the module map. Module reordering versions here, separate
// from any single module's own history.
type StructureState struct {
	Refs    []course.Ref              `json:"refs"`
	Modules map[string]*course.Module `json:"modules"`
}

// Clone returns a deep copy of the structure state.
func (s *StructureState) Clone() *StructureState {
	if s == nil {
		return nil
	}
	out := &StructureState{
		Refs: make([]course.Ref, len(s.Refs)),
	}
	copy(out.Refs, s.Refs)
	if s.Modules != nil {
		out.Modules = make(map[string]*course.Module, len(s.Modules))
		for id, m := range s.Modules {
			out.Modules[id] = m.Clone()
		}
	}
	return out
}

// StageState versions a page together with its timelines so one undo
// step reverts both in lockstep. The timeline editor mutates page and
// timeline as a single conceptual edit; splitting them across stacks
// would let undo tear them apart.
type StageState struct {
	Page      *course.Page       `json:"page"`
	Timelines []*timeline.Record `json:"timelines,omitempty"`
}

// Clone returns a deep copy of the stage state.
func (s *StageState) Clone() *StageState {
	if s == nil {
		return nil
	}
	out := &StageState{Page: s.Page.Clone()}
	if s.Timelines != nil {
		out.Timelines = make([]*timeline.Record, len(s.Timelines))
		for i, rec := range s.Timelines {
			out.Timelines[i] = rec.Clone()
		}
	}
	return out
}

func cloneRecords(recs []*timeline.Record) []*timeline.Record {
	if recs == nil {
		return nil
	}
	out := make([]*timeline.Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

// -----------------------------------------------------------------------------
// Stacks
// -----------------------------------------------------------------------------

// entry is one stored snapshot: the deep-cloned state plus the
// bookkeeping the squash and skip rules need.
//
// Thread Safety: immutable after creation; guarded by the engine lock.
type entry[T any] struct {
	state    T
	category Category
	at       time.Time
	sig      Signature
}

// commitResult says what a commit did to its stack.
type commitResult int

const (
	resultPushed commitResult = iota
	resultSquashed
	resultSkipped
	resultDeferred
)

func (r commitResult) String() string {
	switch r {
	case resultPushed:
		return "pushed"
	case resultSquashed:
		return "squashed"
	case resultSkipped:
		return "skipped"
	case resultDeferred:
		return "deferred"
	}
	return "unknown"
}

// stack is one undo/redo state machine: a bounded ring of past
// snapshots (oldest silently evicted) plus an unbounded future list
// that any new commit clears.
type stack[T any] struct {
	past     *ring[entry[T]]
	future   []entry[T]
	lastPush time.Time
}

func newStack[T any](depth int) *stack[T] {
	return &stack[T]{past: newRing[entry[T]](depth)}
}

// commit applies the skip, squash, and push rules in that order.
//
// Skip: the new signature matches the top entry's, so nothing changed.
// Squash: same category as the top, the category is squashable, and
// the push happened inside the squash window; the top entry is
// replaced in place. A depth-1 stack always pushes instead: the floor
// entry is the state undo ultimately lands on, and squashing it away
// would make that state unreachable. Push: everything else. Squash and
// push both clear the future list; skip leaves it alone.
func (s *stack[T]) commit(state T, cat Category, sig Signature, now time.Time, window time.Duration) commitResult {
	if top, ok := s.past.peek(); ok {
		if sig.matches(top.sig) {
			return resultSkipped
		}
		if cat == top.category && cat.squashable() && s.past.len() >= 2 && now.Sub(s.lastPush) < window {
			s.past.replace(entry[T]{state: state, category: cat, at: now, sig: sig})
			s.future = nil
			return resultSquashed
		}
	}
	s.past.push(entry[T]{state: state, category: cat, at: now, sig: sig})
	s.lastPush = now
	s.future = nil
	return resultPushed
}

// undo pops the current entry into the future list and returns the new
// top. It needs at least two past entries: the current state plus one
// prior state to roll back to.
func (s *stack[T]) undo() (entry[T], bool) {
	var zero entry[T]
	if s.past.len() < 2 {
		return zero, false
	}
	cur, ok := s.past.pop()
	if !ok {
		return zero, false
	}
	s.future = append(s.future, cur)
	top, ok := s.past.peek()
	if !ok {
		// Should be unreachable given the length check above.
		s.past.push(cur)
		s.future = s.future[:len(s.future)-1]
		return zero, false
	}
	return top, true
}

// redo moves the most recent future entry back onto the past stack and
// returns it.
func (s *stack[T]) redo() (entry[T], bool) {
	var zero entry[T]
	if len(s.future) == 0 {
		return zero, false
	}
	e := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]
	s.past.push(e)
	return e, true
}

func (s *stack[T]) canUndo() bool { return s.past.len() >= 2 }
func (s *stack[T]) canRedo() bool { return len(s.future) > 0 }
func (s *stack[T]) depth() int    { return s.past.len() }
