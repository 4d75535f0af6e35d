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
	"maps"
	"slices"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
)

// Category inference compares the previous snapshot against the next
// state and classifies what changed. Precedence when several kinds of
// change appear in one commit: structure beats everything, then
// transform beats style, then style beats meta. The transform-over-
// style tie-break is a policy choice carried over from the editor's
// original behavior.

// inferPageCategory classifies the change between two page states.
func inferPageCategory(prev, next *course.Page) Category {
	if prev == nil || next == nil {
		return CategoryStructure
	}
	if !sameElementOrder(prev, next) {
		return CategoryStructure
	}

	var transformChanged, styleChanged, metaChanged bool
	for i := range next.Elements {
		p, n := prev.Elements[i], next.Elements[i]
		if elementStructureDiffers(p, n) {
			return CategoryStructure
		}
		if elementTransformDiffers(p, n) {
			transformChanged = true
		}
		if p.Style != n.Style {
			styleChanged = true
		}
		if elementMetaDiffers(p, n) {
			metaChanged = true
		}
	}

	if transformChanged {
		return CategoryTransform
	}
	if styleChanged {
		return CategoryStyle
	}
	if pageSurfaceDiffers(prev, next) {
		return CategoryStyle
	}
	if metaChanged || pageMetaDiffers(prev, next) {
		return CategoryMeta
	}
	return CategoryMeta
}

// transformOnly reports whether the two page states hold the same
// ordered element set with nothing but transform fields changed.
// Isolation sessions use this to decide whether the whole session was
// a pure rearrangement.
func transformOnly(prev, next *course.Page) bool {
	if prev == nil || next == nil {
		return false
	}
	if !sameElementOrder(prev, next) {
		return false
	}
	for i := range next.Elements {
		p, n := prev.Elements[i], next.Elements[i]
		if elementStructureDiffers(p, n) || p.Style != n.Style || elementMetaDiffers(p, n) {
			return false
		}
	}
	return !pageSurfaceDiffers(prev, next) && !pageMetaDiffers(prev, next)
}

// inferLessonCategory classifies a lesson change: page membership or
// ordering is structural, anything else is metadata. Page content
// changes version on the page stacks, not here.
func inferLessonCategory(prev, next *course.Lesson) Category {
	if prev == nil || next == nil {
		return CategoryStructure
	}
	if !slices.Equal(prev.PageRefs, next.PageRefs) {
		return CategoryStructure
	}
	return CategoryMeta
}

// inferModuleCategory classifies a module change the same way.
func inferModuleCategory(prev, next *course.Module) Category {
	if prev == nil || next == nil {
		return CategoryStructure
	}
	if !slices.Equal(prev.LessonRefs, next.LessonRefs) {
		return CategoryStructure
	}
	return CategoryMeta
}

// inferStageCategory classifies a combined page+timeline change. Page
// changes win; a stage commit with an untouched page is a timeline
// edit.
func inferStageCategory(prev, next *StageState) Category {
	if prev == nil || next == nil {
		return CategoryStructure
	}
	if contentHash(prev.Page) != contentHash(next.Page) {
		return inferPageCategory(prev.Page, next.Page)
	}
	if contentHash(prev.Timelines) != contentHash(next.Timelines) {
		return CategoryTimeline
	}
	return CategoryMeta
}

// sameElementOrder reports whether both pages hold the same element
// IDs in the same order.
func sameElementOrder(prev, next *course.Page) bool {
	if len(prev.Elements) != len(next.Elements) {
		return false
	}
	for i := range next.Elements {
		if prev.Elements[i].ID != next.Elements[i].ID {
			return false
		}
	}
	return true
}

// elementTransformDiffers covers the geometric fields: position, size,
// rotation, opacity, visibility, z-order, and vertex positions.
func elementTransformDiffers(p, n *course.Element) bool {
	return p.Position != n.Position ||
		p.Size != n.Size ||
		p.Rotation != n.Rotation ||
		p.Opacity != n.Opacity ||
		p.Visible != n.Visible ||
		p.ZIndex != n.ZIndex ||
		!slices.Equal(p.Points, n.Points)
}

// elementStructureDiffers covers composition: kind, parentage, group
// membership, and the trigger/animation lists, which rebind against
// element identity and are treated as structural.
func elementStructureDiffers(p, n *course.Element) bool {
	return p.Kind != n.Kind ||
		p.ParentID != n.ParentID ||
		!slices.Equal(p.MemberIDs, n.MemberIDs) ||
		!slices.Equal(p.Triggers, n.Triggers) ||
		!slices.Equal(p.Animations, n.Animations)
}

// elementMetaDiffers covers names, content, locks, and free-form
// metadata.
func elementMetaDiffers(p, n *course.Element) bool {
	return p.Name != n.Name ||
		p.Text != n.Text ||
		p.Src != n.Src ||
		p.Locked != n.Locked ||
		p.SizeLocked != n.SizeLocked ||
		!maps.Equal(p.Meta, n.Meta)
}

// pageSurfaceDiffers covers the page's own visual surface: background
// and responsive layouts.
func pageSurfaceDiffers(prev, next *course.Page) bool {
	if prev.Background != next.Background {
		return true
	}
	return !maps.EqualFunc(prev.Layouts, next.Layouts, layoutEqual)
}

func layoutEqual(a, b course.Layout) bool {
	return a.Name == b.Name &&
		a.Width == b.Width &&
		maps.Equal(a.Overrides, b.Overrides)
}

// pageMetaDiffers covers the page name and metadata map.
func pageMetaDiffers(prev, next *course.Page) bool {
	return prev.Name != next.Name || !maps.Equal(prev.Meta, next.Meta)
}
