// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geom provides the axis-aligned geometry primitives used by the
// stage: points, dimensions, and rectangles in editor coordinates
// (origin top-left, +Y down, units are canvas pixels).
//
// All operations are pure value math. Nothing here allocates beyond its
// return value and nothing is goroutine-hostile.
package geom

import "math"

// Epsilon is the tolerance used by the approximate comparisons. Canvas
// coordinates come from pointer events and scale factors, so exact
// float equality is never meaningful.
const Epsilon = 1e-6

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Sub returns p translated by -d.
func (p Point) Sub(d Point) Point {
	return Point{X: p.X - d.X, Y: p.Y - d.Y}
}

// Dimensions is a width/height pair.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect builds a rect from an origin and dimensions.
func NewRect(origin Point, size Dimensions) Rect {
	return Rect{X: origin.X, Y: origin.Y, Width: size.Width, Height: size.Height}
}

// Origin returns the top-left corner.
func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

// Size returns the dimensions.
func (r Rect) Size() Dimensions {
	return Dimensions{Width: r.Width, Height: r.Height}
}

// Right returns the X coordinate of the right edge.
func (r Rect) Right() float64 {
	return r.X + r.Width
}

// Bottom returns the Y coordinate of the bottom edge.
func (r Rect) Bottom() float64 {
	return r.Y + r.Height
}

// Center returns the midpoint.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// IsDegenerate reports whether the rect has no usable area.
//
// # Description
//
// Zero or negative extents happen legitimately while a user is mid-draw
// (a marquee dragged to width 0) and for point-like elements. Callers
// that need an area, such as hit testing, treat degenerate rects as a
// point at the origin rather than erroring.
func (r Rect) IsDegenerate() bool {
	return r.Width <= Epsilon || r.Height <= Epsilon
}

// Translate returns the rect moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Expand returns the rect grown by margin on every side.
//
// # Description
//
// Negative margins shrink the rect; extents are clamped at zero so a
// heavy shrink yields a degenerate rect at the original center rather
// than a rect with negative size.
func (r Rect) Expand(margin float64) Rect {
	w := r.Width + 2*margin
	h := r.Height + 2*margin
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Rect{X: r.X - margin, Y: r.Y - margin, Width: w, Height: h}
}

// ContainsPoint reports whether p lies inside the rect (edges inclusive).
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// ContainsRect reports whether other lies entirely inside the rect.
func (r Rect) ContainsRect(other Rect) bool {
	return other.X >= r.X && other.Right() <= r.Right() &&
		other.Y >= r.Y && other.Bottom() <= r.Bottom()
}

// Intersects reports whether the two rects overlap.
//
// # Description
//
// Touching edges count as overlap. Degenerate rects still intersect
// anything containing their origin, which keeps point-like elements
// selectable.
func (r Rect) Intersects(other Rect) bool {
	return r.X <= other.Right() && r.Right() >= other.X &&
		r.Y <= other.Bottom() && r.Bottom() >= other.Y
}

// Union returns the smallest rect covering both rects.
func (r Rect) Union(other Rect) Rect {
	x1 := math.Min(r.X, other.X)
	y1 := math.Min(r.Y, other.Y)
	x2 := math.Max(r.Right(), other.Right())
	y2 := math.Max(r.Bottom(), other.Bottom())
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// ApproxEqual reports whether the two rects match within Epsilon.
func (r Rect) ApproxEqual(other Rect) bool {
	return approx(r.X, other.X) && approx(r.Y, other.Y) &&
		approx(r.Width, other.Width) && approx(r.Height, other.Height)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= Epsilon
}

// BoundsOf returns the bounding box of a set of rects.
//
// # Inputs
//
//   - rects: Rects to cover. May be empty.
//
// # Outputs
//
//   - Rect: Smallest rect covering all inputs.
//   - bool: False if rects is empty (the zero Rect is not a valid bound).
func BoundsOf(rects []Rect) (Rect, bool) {
	if len(rects) == 0 {
		return Rect{}, false
	}

	out := rects[0]
	for _, r := range rects[1:] {
		out = out.Union(r)
	}
	return out, true
}

// BoundsOfPoints returns the bounding box of a set of points.
//
// # Outputs
//
//   - Rect: Smallest rect covering all inputs. Degenerate for a single
//     point or collinear axis-aligned points.
//   - bool: False if points is empty.
func BoundsOfPoints(points []Point) (Rect, bool) {
	if len(points) == 0 {
		return Rect{}, false
	}

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}

// RotatedAABB returns the axis-aligned bounding box of the rect after
// rotating it by the given angle around its center.
//
// # Description
//
// Spatial queries and visibility tests work on axis-aligned boxes, so a
// rotated element contributes the AABB of its rotated corners. Angles
// are degrees, clockwise positive to match the renderer. Multiples of
// 360 return the rect unchanged.
//
// # Inputs
//
//   - r: The unrotated rect.
//   - degrees: Rotation angle in degrees.
//
// # Outputs
//
//   - Rect: Axis-aligned cover of the rotated rect.
func RotatedAABB(r Rect, degrees float64) Rect {
	deg := math.Mod(degrees, 360)
	if approx(deg, 0) {
		return r
	}

	rad := deg * math.Pi / 180
	sin := math.Abs(math.Sin(rad))
	cos := math.Abs(math.Cos(rad))

	w := r.Width*cos + r.Height*sin
	h := r.Width*sin + r.Height*cos
	c := r.Center()
	return Rect{X: c.X - w/2, Y: c.Y - h/2, Width: w, Height: h}
}
