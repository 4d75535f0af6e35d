// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"fmt"
	"maps"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
	"github.com/AleutianAI/AleutianStudio/services/studio/history"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// Element mutations: creation, deletion, patching, grouping, geometry
// operations, and the coalesced transform path the drag batcher feeds.
//
// Geometry invariants maintained here: a container's origin is the
// tight bound of its members, so member positions stay relative to it
// and the container auto-fits whenever membership or member geometry
// changes. A container left with fewer than two members dissolves, and
// a surviving member keeps its absolute stage position. ParentID and
// MemberIDs always change together.

// maxScaleFactor bounds ScaleCollection input.
const maxScaleFactor = 100.0

// =============================================================================
// Create and delete
// =============================================================================

// CreateElement adds an element to a page at the given placement.
//
// # Inputs
//
//   - pageID: Owning page.
//   - kind: Element kind; must be one of the known kinds.
//   - name: Display name.
//   - pos: Position in page coordinates.
//   - size: Size; clamped to a minimum span for non-point kinds.
//
// # Outputs
//
//   - string: The new element ID, empty when the page reference was
//     stale.
//   - error: ErrInvalidKind or ErrNoProject; nil otherwise.
func (s *Store) CreateElement(pageID string, kind course.ElementKind, name string, pos geom.Point, size geom.Dimensions) (string, error) {
	if !kind.Valid() {
		return "", ErrInvalidKind
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return "", ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("create_element", pageID)
		return "", nil
	}
	id := s.ids.Next(ident.KindElement)
	el := course.NewElement(id, kind, name)
	el.Position = pos
	if !kind.IsPointBased() {
		size = clampSize(size)
	}
	el.Size = size
	el.ZIndex = pg.MaxZIndex() + 1
	pg.Elements = append(pg.Elements, el)
	s.elementPage[id] = pageID
	s.bumpGenLocked(pageID)
	s.touchLocked()
	box := absoluteBounds(pg, el)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, []elemSync{{id: id, box: box}})
	s.commitPage(pageID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("create_element").Inc()
	return id, nil
}

// DeleteElement removes an element. Containers take their whole member
// subtree with them, and the parent container reapplies the
// small-group policy afterwards.
func (s *Store) DeleteElement(pageID, elementID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("delete_element", pageID)
		return nil
	}
	el := pg.Element(elementID)
	if el == nil {
		s.mu.Unlock()
		s.staleRef("delete_element", elementID)
		return nil
	}
	if el.Locked {
		s.mu.Unlock()
		return ErrLockedElement
	}
	parentID := el.ParentID
	touched := make(map[string]struct{})
	var removed []string
	for _, id := range collectSubtree(pg, elementID) {
		if pg.RemoveElement(id) {
			delete(s.elementPage, id)
			removed = append(removed, id)
		}
	}
	if parent := pg.Element(parentID); parent != nil {
		dropMember(parent, elementID)
		s.pruneContainerLocked(pg, parentID, touched, &removed)
	}
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, removed)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("delete_element").Inc()
	return nil
}

// =============================================================================
// Patch
// =============================================================================

// ElementPatch carries optional field updates for one element. Nil
// pointers leave the field untouched; nil slices and maps do too, so
// clearing a slice takes an explicit empty value.
type ElementPatch struct {
	Name       *string
	Position   *geom.Point
	Size       *geom.Dimensions
	SizeLocked *bool
	Rotation   *float64
	Opacity    *float64
	Visible    *bool
	Locked     *bool
	ZIndex     *int
	Style      *course.Style
	Text       *string
	Src        *string
	Points     []geom.Point
	Triggers   []string
	Animations []string
	Meta       map[string]string
}

// PatchElement applies a partial update to one element. A locked
// element rejects patches unless the patch itself unlocks it.
func (s *Store) PatchElement(pageID, elementID string, patch ElementPatch) error {
	if patch.Opacity != nil && (*patch.Opacity < 0 || *patch.Opacity > 1) {
		return ErrInvalidRange
	}
	if patch.Style != nil {
		if err := s.checks.Struct(patch.Style); err != nil {
			return fmt.Errorf("style rejected: %w", err)
		}
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("patch_element", pageID)
		return nil
	}
	el := pg.Element(elementID)
	if el == nil {
		s.mu.Unlock()
		s.staleRef("patch_element", elementID)
		return nil
	}
	if el.Locked && (patch.Locked == nil || *patch.Locked) {
		s.mu.Unlock()
		return ErrLockedElement
	}

	geometry := false
	if patch.Name != nil {
		el.Name = *patch.Name
	}
	if patch.Position != nil {
		el.Position = *patch.Position
		geometry = true
	}
	if patch.Size != nil {
		sz := *patch.Size
		if !el.Kind.IsPointBased() {
			sz = clampSize(sz)
		}
		el.Size = sz
		geometry = true
	}
	if patch.SizeLocked != nil {
		el.SizeLocked = *patch.SizeLocked
	}
	if patch.Rotation != nil {
		el.Rotation = *patch.Rotation
		geometry = true
	}
	if patch.Opacity != nil {
		el.Opacity = *patch.Opacity
	}
	if patch.Visible != nil {
		el.Visible = *patch.Visible
	}
	if patch.Locked != nil {
		el.Locked = *patch.Locked
	}
	if patch.ZIndex != nil {
		el.ZIndex = *patch.ZIndex
	}
	if patch.Style != nil {
		el.Style = *patch.Style
	}
	if patch.Text != nil {
		el.Text = *patch.Text
	}
	if patch.Src != nil {
		el.Src = *patch.Src
	}
	if patch.Points != nil {
		el.Points = append([]geom.Point(nil), patch.Points...)
		geometry = true
	}
	if patch.Triggers != nil {
		el.Triggers = append([]string(nil), patch.Triggers...)
	}
	if patch.Animations != nil {
		el.Animations = append([]string(nil), patch.Animations...)
	}
	if patch.Meta != nil {
		el.Meta = maps.Clone(patch.Meta)
	}

	touched := map[string]struct{}{elementID: {}}
	if geometry {
		s.autoFitLocked(pg, el.ParentID, touched)
	}
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, nil)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryAuto)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("patch_element").Inc()
	return nil
}

// =============================================================================
// Group and ungroup
// =============================================================================

// GroupElements wraps a selection in a new collection.
//
// # Description
//
// All members must share a parent (or all be top level). The
// collection's origin is the selection's tight bound, member positions
// become relative to it, and the collection inherits the highest
// member z-index so paint order is preserved. Stale IDs drop out of
// the selection before any check runs.
//
// # Outputs
//
//   - string: The new collection ID, empty when the page was stale.
//   - error: ErrSelection when fewer than two members remain or
//     parents differ.
func (s *Store) GroupElements(pageID string, elementIDs []string) (string, error) {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return "", ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("group_elements", pageID)
		return "", nil
	}
	grouped := make(map[string]bool, len(elementIDs))
	members := make([]*course.Element, 0, len(elementIDs))
	for _, id := range elementIDs {
		if grouped[id] {
			continue
		}
		if el := pg.Element(id); el != nil {
			grouped[id] = true
			members = append(members, el)
		}
	}
	if len(members) < 2 {
		s.mu.Unlock()
		return "", ErrSelection
	}
	parentID := members[0].ParentID
	for _, m := range members[1:] {
		if m.ParentID != parentID {
			s.mu.Unlock()
			return "", ErrSelection
		}
	}

	boxes := make([]geom.Rect, len(members))
	maxZ := members[0].ZIndex
	for i, m := range members {
		boxes[i] = m.LocalBounds()
		if m.ZIndex > maxZ {
			maxZ = m.ZIndex
		}
	}
	bound, _ := geom.BoundsOf(boxes)
	bound = clampSpan(bound)

	id := s.ids.Next(ident.KindElement)
	g := course.NewElement(id, course.KindCollection, "Group")
	g.Position = geom.Point{X: bound.X, Y: bound.Y}
	g.Size = geom.Dimensions{Width: bound.Width, Height: bound.Height}
	g.ParentID = parentID
	g.ZIndex = maxZ
	g.MemberIDs = make([]string, len(members))
	for i, m := range members {
		g.MemberIDs[i] = m.ID
		m.Position.X -= bound.X
		m.Position.Y -= bound.Y
		m.ParentID = id
	}
	pg.Elements = append(pg.Elements, g)
	s.elementPage[id] = pageID

	touched := map[string]struct{}{id: {}}
	var removed []string
	if parent := pg.Element(parentID); parent != nil {
		regroupMembers(parent, grouped, id)
		s.pruneContainerLocked(pg, parentID, touched, &removed)
	}
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, removed)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("group_elements").Inc()
	return id, nil
}

// UngroupCollection dissolves a collection. Members take the
// collection's place, re-expressed in its parent's frame so nothing
// moves on the stage.
func (s *Store) UngroupCollection(pageID, collectionID string) error {
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("ungroup_collection", pageID)
		return nil
	}
	c := pg.Element(collectionID)
	if c == nil {
		s.mu.Unlock()
		s.staleRef("ungroup_collection", collectionID)
		return nil
	}
	if c.Kind != course.KindCollection {
		s.mu.Unlock()
		return ErrNotCollection
	}
	if c.Locked {
		s.mu.Unlock()
		return ErrLockedElement
	}
	grandID := c.ParentID
	var promoted []string
	for _, mid := range c.MemberIDs {
		if m := pg.Element(mid); m != nil {
			m.Position = m.Position.Add(c.Position)
			m.ParentID = grandID
			promoted = append(promoted, mid)
		}
	}
	touched := make(map[string]struct{})
	var removed []string
	if grand := pg.Element(grandID); grand != nil {
		if len(promoted) == 0 {
			dropMember(grand, collectionID)
		} else {
			expandMember(grand, collectionID, promoted)
		}
	}
	pg.RemoveElement(collectionID)
	delete(s.elementPage, collectionID)
	removed = append(removed, collectionID)
	if grandID != "" {
		s.pruneContainerLocked(pg, grandID, touched, &removed)
	}
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, removed)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryStructure)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("ungroup_collection").Inc()
	return nil
}

// =============================================================================
// Align, distribute, scale
// =============================================================================

// AlignMode names an alignment edge or axis midpoint.
type AlignMode string

const (
	AlignLeft   AlignMode = "left"
	AlignCenter AlignMode = "center"
	AlignRight  AlignMode = "right"
	AlignTop    AlignMode = "top"
	AlignMiddle AlignMode = "middle"
	AlignBottom AlignMode = "bottom"
)

func (m AlignMode) valid() bool {
	switch m {
	case AlignLeft, AlignCenter, AlignRight, AlignTop, AlignMiddle, AlignBottom:
		return true
	}
	return false
}

// Axis selects the direction for distribution.
type Axis string

const (
	AxisHorizontal Axis = "horizontal"
	AxisVertical   Axis = "vertical"
)

// AlignElements lines a selection up against its own bounding box.
// Locked and stale members drop out of the selection first.
func (s *Store) AlignElements(pageID string, elementIDs []string, mode AlignMode) error {
	if !mode.valid() {
		return ErrInvalidRange
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("align_elements", pageID)
		return nil
	}
	members, err := selectionMembers(pg, elementIDs, 2)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	boxes := make([]geom.Rect, len(members))
	for i, m := range members {
		boxes[i] = m.LocalBounds()
	}
	bound, _ := geom.BoundsOf(boxes)

	touched := make(map[string]struct{})
	for i, m := range members {
		box := boxes[i]
		var dx, dy float64
		switch mode {
		case AlignLeft:
			dx = bound.X - box.X
		case AlignCenter:
			dx = bound.Center().X - box.Center().X
		case AlignRight:
			dx = bound.Right() - box.Right()
		case AlignTop:
			dy = bound.Y - box.Y
		case AlignMiddle:
			dy = bound.Center().Y - box.Center().Y
		case AlignBottom:
			dy = bound.Bottom() - box.Bottom()
		}
		if dx == 0 && dy == 0 {
			continue
		}
		m.Position.X += dx
		m.Position.Y += dy
		touched[m.ID] = struct{}{}
	}
	s.autoFitLocked(pg, members[0].ParentID, touched)
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, nil)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryTransform)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("align_elements").Inc()
	return nil
}

// DistributeElements spaces a selection so the gaps between successive
// bounding boxes are equal. The outermost two members stay put.
func (s *Store) DistributeElements(pageID string, elementIDs []string, axis Axis) error {
	if axis != AxisHorizontal && axis != AxisVertical {
		return ErrInvalidRange
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("distribute_elements", pageID)
		return nil
	}
	members, err := selectionMembers(pg, elementIDs, 3)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	type span struct {
		el  *course.Element
		box geom.Rect
	}
	spans := make([]span, len(members))
	for i, m := range members {
		spans[i] = span{el: m, box: m.LocalBounds()}
	}
	horizontal := axis == AxisHorizontal
	sort.Slice(spans, func(i, j int) bool {
		if horizontal {
			return spans[i].box.X < spans[j].box.X
		}
		return spans[i].box.Y < spans[j].box.Y
	})

	first, last := spans[0].box, spans[len(spans)-1].box
	var run, sum float64
	if horizontal {
		run = last.Right() - first.X
		for _, sp := range spans {
			sum += sp.box.Width
		}
	} else {
		run = last.Bottom() - first.Y
		for _, sp := range spans {
			sum += sp.box.Height
		}
	}
	gap := (run - sum) / float64(len(spans)-1)

	touched := make(map[string]struct{})
	var cursor float64
	if horizontal {
		cursor = first.Right() + gap
	} else {
		cursor = first.Bottom() + gap
	}
	for _, sp := range spans[1 : len(spans)-1] {
		if horizontal {
			if d := cursor - sp.box.X; d != 0 {
				sp.el.Position.X += d
				touched[sp.el.ID] = struct{}{}
			}
			cursor += sp.box.Width + gap
		} else {
			if d := cursor - sp.box.Y; d != 0 {
				sp.el.Position.Y += d
				touched[sp.el.ID] = struct{}{}
			}
			cursor += sp.box.Height + gap
		}
	}
	s.autoFitLocked(pg, members[0].ParentID, touched)
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, nil)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryTransform)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("distribute_elements").Inc()
	return nil
}

// ScaleCollection scales a collection and everything inside it about
// the collection's own origin. Rotation and style are untouched.
func (s *Store) ScaleCollection(pageID, collectionID string, factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 || factor > maxScaleFactor {
		return ErrInvalidRange
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("scale_collection", pageID)
		return nil
	}
	c := pg.Element(collectionID)
	if c == nil {
		s.mu.Unlock()
		s.staleRef("scale_collection", collectionID)
		return nil
	}
	if !c.Kind.IsContainer() {
		s.mu.Unlock()
		return ErrNotCollection
	}
	if c.Locked {
		s.mu.Unlock()
		return ErrLockedElement
	}
	if factor == 1 {
		s.mu.Unlock()
		return nil
	}
	touched := make(map[string]struct{})
	scaleSubtree(pg, c, factor, touched, 0)
	s.autoFitLocked(pg, c.ParentID, touched)
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, nil)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryTransform)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("scale_collection").Inc()
	return nil
}

// =============================================================================
// Transform batch
// =============================================================================

// TransformDelta is the merged result of a burst of interactive
// transform calls for one element. Nil fields were not touched during
// the burst; set fields carry the latest value.
type TransformDelta struct {
	Position *geom.Point
	Size     *geom.Dimensions
	Rotation *float64
}

// ApplyTransformBatch applies coalesced interactive transforms to one
// page. Stale and locked elements drop out silently. During an active
// transform session the page commit is deferred by the engine, so a
// drag of any length still lands exactly one history entry.
func (s *Store) ApplyTransformBatch(pageID string, deltas map[string]TransformDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.course == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	pg, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		s.staleRef("transform_batch", pageID)
		return nil
	}
	touched := make(map[string]struct{})
	parents := make(map[string]struct{})
	for id, d := range deltas {
		el := pg.Element(id)
		if el == nil {
			s.staleRef("transform_batch", id)
			continue
		}
		if el.Locked {
			continue
		}
		if d.Position != nil {
			el.Position = *d.Position
		}
		if d.Size != nil {
			sz := *d.Size
			if !el.Kind.IsPointBased() {
				sz = clampSize(sz)
			}
			el.Size = sz
		}
		if d.Rotation != nil {
			el.Rotation = *d.Rotation
		}
		touched[id] = struct{}{}
		if el.ParentID != "" {
			parents[el.ParentID] = struct{}{}
		}
	}
	if len(touched) == 0 {
		s.mu.Unlock()
		return nil
	}
	for pid := range parents {
		s.autoFitLocked(pg, pid, touched)
	}
	s.bumpGenLocked(pageID)
	s.touchLocked()
	syncs := s.collectSyncsLocked(pg, touched, nil)
	save := s.savePageLocked(pg)
	s.mu.Unlock()

	s.syncElements(pageID, syncs)
	s.commitPage(pageID, history.CategoryTransform)
	s.flushSave(save)
	mutationsTotal.WithLabelValues("transform_batch").Inc()
	return nil
}

// =============================================================================
// Container geometry
// =============================================================================

// autoFitLocked shrinks a container to the tight bound of its members
// and renormalizes member positions so the bound's origin becomes the
// container's origin. Member absolute positions never change. The fit
// walks upward because resizing one container changes its footprint in
// its own parent.
func (s *Store) autoFitLocked(pg *course.Page, containerID string, touched map[string]struct{}) {
	for hops := 0; containerID != "" && hops < maxParentHops; hops++ {
		c := pg.Element(containerID)
		if c == nil || !c.Kind.IsContainer() || len(c.MemberIDs) == 0 {
			return
		}
		boxes := make([]geom.Rect, 0, len(c.MemberIDs))
		for _, mid := range c.MemberIDs {
			if m := pg.Element(mid); m != nil {
				boxes = append(boxes, m.LocalBounds())
			}
		}
		bound, ok := geom.BoundsOf(boxes)
		if !ok {
			return
		}
		bound = clampSpan(bound)
		if bound.X != 0 || bound.Y != 0 {
			for _, mid := range c.MemberIDs {
				if m := pg.Element(mid); m != nil {
					m.Position.X -= bound.X
					m.Position.Y -= bound.Y
				}
			}
			c.Position.X += bound.X
			c.Position.Y += bound.Y
		}
		c.Size = geom.Dimensions{Width: bound.Width, Height: bound.Height}
		touched[containerID] = struct{}{}
		containerID = c.ParentID
	}
}

// pruneContainerLocked reapplies the small-group policy to a container
// after it lost a member: two or more members refit the bounds, fewer
// dissolve the container. Dissolution ripples upward when the
// container was itself a member.
func (s *Store) pruneContainerLocked(pg *course.Page, containerID string, touched map[string]struct{}, removed *[]string) {
	for hops := 0; containerID != "" && hops < maxParentHops; hops++ {
		c := pg.Element(containerID)
		if c == nil || !c.Kind.IsContainer() {
			return
		}
		if len(c.MemberIDs) >= 2 {
			s.autoFitLocked(pg, containerID, touched)
			return
		}
		grandID := c.ParentID
		if len(c.MemberIDs) == 1 {
			if surv := pg.Element(c.MemberIDs[0]); surv != nil {
				surv.Position = surv.Position.Add(c.Position)
				surv.ParentID = grandID
				touched[surv.ID] = struct{}{}
				if grand := pg.Element(grandID); grand != nil {
					replaceMember(grand, c.ID, surv.ID)
				}
			}
			pg.RemoveElement(c.ID)
			delete(s.elementPage, c.ID)
			delete(touched, c.ID)
			*removed = append(*removed, c.ID)
			if grandID != "" {
				s.autoFitLocked(pg, grandID, touched)
			}
			return
		}
		if grand := pg.Element(grandID); grand != nil {
			dropMember(grand, c.ID)
		}
		pg.RemoveElement(c.ID)
		delete(s.elementPage, c.ID)
		delete(touched, c.ID)
		*removed = append(*removed, c.ID)
		containerID = grandID
	}
}

// collectSyncsLocked builds the index update batch for a mutation:
// fresh absolute bounds for touched elements, removals for deleted
// ones.
func (s *Store) collectSyncsLocked(pg *course.Page, touched map[string]struct{}, removed []string) []elemSync {
	syncs := make([]elemSync, 0, len(touched)+len(removed))
	for id := range touched {
		if el := pg.Element(id); el != nil {
			syncs = append(syncs, elemSync{id: id, box: absoluteBounds(pg, el)})
		}
	}
	for _, id := range removed {
		syncs = append(syncs, elemSync{id: id, removed: true})
	}
	return syncs
}

// =============================================================================
// Selection and member helpers
// =============================================================================

// selectionMembers resolves a selection to live, unlocked elements
// sharing one parent. Returns ErrSelection when too few remain
// or parents differ.
func selectionMembers(pg *course.Page, elementIDs []string, need int) ([]*course.Element, error) {
	seen := make(map[string]bool, len(elementIDs))
	members := make([]*course.Element, 0, len(elementIDs))
	for _, id := range elementIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		el := pg.Element(id)
		if el == nil || el.Locked {
			continue
		}
		members = append(members, el)
	}
	if len(members) < need {
		return nil, ErrSelection
	}
	parentID := members[0].ParentID
	for _, m := range members[1:] {
		if m.ParentID != parentID {
			return nil, ErrSelection
		}
	}
	return members, nil
}

// collectSubtree gathers an element and every descendant reachable
// through MemberIDs.
func collectSubtree(pg *course.Page, rootID string) []string {
	var out []string
	seen := make(map[string]bool)
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if el := pg.Element(id); el != nil && el.Kind.IsContainer() {
			stack = append(stack, el.MemberIDs...)
		}
	}
	return out
}

// scaleSubtree multiplies sizes, member offsets, and point geometry by
// the factor, recursing through nested containers. The root's own
// position is the scale anchor and stays put.
func scaleSubtree(pg *course.Page, el *course.Element, f float64, touched map[string]struct{}, depth int) {
	if depth > maxParentHops {
		return
	}
	el.Size.Width *= f
	el.Size.Height *= f
	for i := range el.Points {
		el.Points[i].X *= f
		el.Points[i].Y *= f
	}
	touched[el.ID] = struct{}{}
	if !el.Kind.IsContainer() {
		return
	}
	for _, mid := range el.MemberIDs {
		m := pg.Element(mid)
		if m == nil {
			continue
		}
		m.Position.X *= f
		m.Position.Y *= f
		scaleSubtree(pg, m, f, touched, depth+1)
	}
}

func dropMember(c *course.Element, id string) {
	out := c.MemberIDs[:0]
	for _, m := range c.MemberIDs {
		if m != id {
			out = append(out, m)
		}
	}
	c.MemberIDs = out
}

func replaceMember(c *course.Element, oldID, newID string) {
	for i, m := range c.MemberIDs {
		if m == oldID {
			c.MemberIDs[i] = newID
			return
		}
	}
}

// expandMember splices a list of IDs into the slot one member held.
func expandMember(c *course.Element, id string, with []string) {
	out := make([]string, 0, len(c.MemberIDs)+len(with))
	for _, m := range c.MemberIDs {
		if m == id {
			out = append(out, with...)
		} else {
			out = append(out, m)
		}
	}
	c.MemberIDs = out
}

// regroupMembers replaces the grouped entries in a parent's member
// list with the new collection, at the slot of the first grouped
// member.
func regroupMembers(parent *course.Element, grouped map[string]bool, groupID string) {
	out := parent.MemberIDs[:0]
	inserted := false
	for _, m := range parent.MemberIDs {
		if grouped[m] {
			if !inserted {
				out = append(out, groupID)
				inserted = true
			}
			continue
		}
		out = append(out, m)
	}
	parent.MemberIDs = out
}

func clampSpan(r geom.Rect) geom.Rect {
	if r.Width < minSpan {
		r.Width = minSpan
	}
	if r.Height < minSpan {
		r.Height = minSpan
	}
	return r
}

func clampSize(d geom.Dimensions) geom.Dimensions {
	if d.Width < minSpan {
		d.Width = minSpan
	}
	if d.Height < minSpan {
		d.Height = minSpan
	}
	return d
}
