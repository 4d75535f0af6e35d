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

import (
	"slices"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

// =============================================================================
// Element Kinds
// =============================================================================

// ElementKind identifies what a stage element renders as.
type ElementKind string

const (
	KindLine       ElementKind = "line"
	KindRectangle  ElementKind = "rectangle"
	KindEllipse    ElementKind = "ellipse"
	KindPath       ElementKind = "path"
	KindPolygon    ElementKind = "polygon"
	KindText       ElementKind = "text"
	KindImage      ElementKind = "image"
	KindHotspot    ElementKind = "hotspot"
	KindCollection ElementKind = "collection"
	KindComponent  ElementKind = "component"
)

// Valid reports whether the kind is one of the known element kinds.
func (k ElementKind) Valid() bool {
	switch k {
	case KindLine, KindRectangle, KindEllipse, KindPath, KindPolygon,
		KindText, KindImage, KindHotspot, KindCollection, KindComponent:
		return true
	}
	return false
}

// IsContainer reports whether the kind owns member elements.
//
// Collections are user-made groups; components are reusable groups. Both
// carry MemberIDs and position their members relative to their own origin.
func (k ElementKind) IsContainer() bool {
	return k == KindCollection || k == KindComponent
}

// IsPointBased reports whether the kind's geometry comes from its Points
// slice rather than its Size.
func (k ElementKind) IsPointBased() bool {
	return k == KindLine || k == KindPath || k == KindPolygon
}

// =============================================================================
// Style
// =============================================================================

// Style holds the visual properties shared by all element kinds. Unused
// fields stay at their zero value; the renderer applies kind-specific
// defaults.
type Style struct {
	Fill         string  `json:"fill,omitempty" validate:"omitempty,hexcolor|oneof=none transparent"`
	Stroke       string  `json:"stroke,omitempty" validate:"omitempty,hexcolor|oneof=none transparent"`
	StrokeWidth  float64 `json:"strokeWidth,omitempty" validate:"gte=0"`
	CornerRadius float64 `json:"cornerRadius,omitempty" validate:"gte=0"`
	Color        string  `json:"color,omitempty" validate:"omitempty,hexcolor"`
	FontFamily   string  `json:"fontFamily,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty" validate:"gte=0"`
	FontWeight   string  `json:"fontWeight,omitempty"`
	TextAlign    string  `json:"textAlign,omitempty" validate:"omitempty,oneof=left center right justify"`
	LineHeight   float64 `json:"lineHeight,omitempty" validate:"gte=0"`
}

// =============================================================================
// Element
// =============================================================================

// Element is a single object on a page: a shape, text run, image,
// hotspot, or a container grouping other elements.
//
// # Description
//
// Position is in page coordinates for top-level elements and in the
// parent container's local coordinates for nested ones (ParentID set).
// Point-based kinds (line, path, polygon) keep their vertices in Points,
// relative to Position. Containers list their children in MemberIDs; the
// child's ParentID points back. Both sides of that pairing are
// maintained together by the mutation layer, never independently.
//
// # Thread Safety
//
// Plain data. Synchronization is the owning store's responsibility.
type Element struct {
	ID       string          `json:"id" validate:"required"`
	Name     string          `json:"name"`
	Kind     ElementKind     `json:"kind" validate:"required"`
	Position geom.Point      `json:"position"`
	Size     geom.Dimensions `json:"size"`

	// SizeLocked pins the aspect ratio during interactive resize.
	SizeLocked bool `json:"sizeLocked,omitempty"`

	Rotation float64 `json:"rotation,omitempty"`
	Opacity  float64 `json:"opacity" validate:"gte=0,lte=1"`
	Visible  bool    `json:"visible"`
	Locked   bool    `json:"locked,omitempty"`
	ZIndex   int     `json:"zIndex"`
	ParentID string  `json:"parentId,omitempty"`

	Style Style  `json:"style"`
	Text  string `json:"text,omitempty"`

	// Src references external media for image and hotspot kinds.
	Src string `json:"src,omitempty"`

	// Points holds vertices for point-based kinds, relative to Position.
	Points []geom.Point `json:"points,omitempty"`

	// MemberIDs lists child element IDs for container kinds.
	MemberIDs []string `json:"memberIds,omitempty"`

	Triggers   []string          `json:"triggers,omitempty"`
	Animations []string          `json:"animations,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// NewElement creates an element with renderer defaults applied.
//
// # Inputs
//
//   - id: Element ID from the ID generator.
//   - kind: One of the ElementKind constants.
//   - name: Display name shown in the layers panel.
//
// # Outputs
//
//   - *Element: Visible, fully opaque, unrotated, at the page origin.
func NewElement(id string, kind ElementKind, name string) *Element {
	return &Element{
		ID:      id,
		Name:    name,
		Kind:    kind,
		Opacity: 1.0,
		Visible: true,
	}
}

// Clone returns a deep copy sharing no memory with the receiver.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}

	out := *e
	out.Points = slices.Clone(e.Points)
	out.MemberIDs = slices.Clone(e.MemberIDs)
	out.Triggers = slices.Clone(e.Triggers)
	out.Animations = slices.Clone(e.Animations)
	if e.Meta != nil {
		out.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			out.Meta[k] = v
		}
	}
	return &out
}

// IsContainer reports whether the element owns member elements.
func (e *Element) IsContainer() bool {
	return e.Kind.IsContainer()
}

// LocalBounds returns the element's axis-aligned bounding box in the
// coordinate space of its parent (the page for top-level elements).
//
// # Description
//
// Point-based kinds derive their box from their vertices; everything
// else uses Position and Size. Rotation expands the box to cover the
// rotated footprint, so the result is always axis-aligned.
func (e *Element) LocalBounds() geom.Rect {
	var r geom.Rect
	if e.Kind.IsPointBased() && len(e.Points) > 0 {
		b, _ := geom.BoundsOfPoints(e.Points)
		r = b.Translate(e.Position.X, e.Position.Y)
	} else {
		r = geom.NewRect(e.Position, e.Size)
	}
	return geom.RotatedAABB(r, e.Rotation)
}
