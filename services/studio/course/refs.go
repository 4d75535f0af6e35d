// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package course

// Ref-list arithmetic. Every mutation renumbers Order to stay 1-based
// and contiguous, so slice position and Order can never disagree.

// RefIndex returns the slice index of the ref with the given ID, or -1.
func RefIndex(refs []Ref, id string) int {
	for i, r := range refs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// RefIDs returns the IDs in list order.
func RefIDs(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

// AppendRef adds a ref at the end of the list.
func AppendRef(refs []Ref, id string) []Ref {
	out := append(refs, Ref{ID: id})
	renumberRefs(out)
	return out
}

// InsertRef adds a ref at the given slice position. Positions out of
// range clamp to the ends.
func InsertRef(refs []Ref, id string, at int) []Ref {
	if at < 0 {
		at = 0
	}
	if at > len(refs) {
		at = len(refs)
	}

	out := make([]Ref, 0, len(refs)+1)
	out = append(out, refs[:at]...)
	out = append(out, Ref{ID: id})
	out = append(out, refs[at:]...)
	renumberRefs(out)
	return out
}

// RemoveRef deletes the ref with the given ID.
//
// # Outputs
//
//   - []Ref: The list without the ref, renumbered.
//   - bool: False if the ID was not present (list returned unchanged).
func RemoveRef(refs []Ref, id string) ([]Ref, bool) {
	i := RefIndex(refs, id)
	if i < 0 {
		return refs, false
	}

	out := make([]Ref, 0, len(refs)-1)
	out = append(out, refs[:i]...)
	out = append(out, refs[i+1:]...)
	renumberRefs(out)
	return out, true
}

// MoveRef moves the ref with the given ID to the target slice position.
// Positions out of range clamp to the ends.
//
// # Outputs
//
//   - []Ref: The reordered, renumbered list.
//   - bool: False if the ID was not present (list returned unchanged).
func MoveRef(refs []Ref, id string, to int) ([]Ref, bool) {
	from := RefIndex(refs, id)
	if from < 0 {
		return refs, false
	}
	if to < 0 {
		to = 0
	}
	if to >= len(refs) {
		to = len(refs) - 1
	}
	if to == from {
		return refs, true
	}

	out := make([]Ref, len(refs))
	copy(out, refs)
	moved := out[from]
	out = append(out[:from], out[from+1:]...)

	tail := make([]Ref, 0, len(refs))
	tail = append(tail, out[:to]...)
	tail = append(tail, moved)
	tail = append(tail, out[to:]...)
	renumberRefs(tail)
	return tail, true
}

// renumberRefs rewrites Order to match slice position, 1-based.
func renumberRefs(refs []Ref) {
	for i := range refs {
		refs[i].Order = i + 1
	}
}
