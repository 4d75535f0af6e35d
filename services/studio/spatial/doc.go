// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package spatial maintains a per-page uniform grid over element bounding
// boxes so hit tests and marquee selection stay cheap on busy pages.
//
// # Overview
//
// Each page with enough elements gets a grid of square cells. An element
// is bucketed into every cell its absolute axis-aligned bounding box
// touches. A rect query unions the candidate sets of the covered cells,
// then verifies each candidate against its stored box; the grid only
// narrows the candidate set, it never decides overlap by itself.
//
//	        cell(0,0)      cell(1,0)
//	      ┌────────────┬────────────┐
//	      │  ┌───┐     │            │
//	      │  │ A │   ┌─┼──┐         │
//	      │  └───┘   │ B  │         │   A -> {(0,0)}
//	      ├──────────┼────┼─────────┤   B -> {(0,0),(1,0),(0,1),(1,1)}
//	      │          │    │         │
//	      │          └────┘         │
//	      │ cell(0,1)    cell(1,1)  │
//	      └────────────┴────────────┘
//
// Sparse pages skip the grid entirely and fall back to a linear scan of
// the same stored boxes, so results are identical either way.
//
// # Adaptation
//
// A rebuild sizes cells to the page it finds: if occupied cells average
// too many elements the cell size halves, if they average too few it
// doubles, and a page shattered into far more cells than elements is
// coarsened. At most one adaptation happens per rebuild, so a pathological
// page cannot oscillate.
//
// # Staleness
//
// Bulk restores mark a page stale instead of re-indexing eagerly. The
// next query rebuilds from the authoritative bounds source; concurrent
// queries share a single rebuild.
package spatial
