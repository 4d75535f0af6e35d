// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geom

import (
	"math"
	"testing"
)

func TestRectEdges(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}

	if got := r.Right(); got != 110 {
		t.Errorf("Right() = %v, want 110", got)
	}
	if got := r.Bottom(); got != 70 {
		t.Errorf("Bottom() = %v, want 70", got)
	}
	if c := r.Center(); c.X != 60 || c.Y != 45 {
		t.Errorf("Center() = %+v, want (60, 45)", c)
	}
}

func TestIntersects(t *testing.T) {
	base := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	t.Run("overlapping rects intersect", func(t *testing.T) {
		if !base.Intersects(Rect{X: 50, Y: 50, Width: 100, Height: 100}) {
			t.Error("expected overlap")
		}
	})

	t.Run("touching edges intersect", func(t *testing.T) {
		if !base.Intersects(Rect{X: 100, Y: 0, Width: 10, Height: 10}) {
			t.Error("expected edge touch to count as overlap")
		}
	})

	t.Run("disjoint rects do not intersect", func(t *testing.T) {
		if base.Intersects(Rect{X: 200, Y: 200, Width: 10, Height: 10}) {
			t.Error("expected no overlap")
		}
	})

	t.Run("degenerate rect inside still intersects", func(t *testing.T) {
		if !base.Intersects(Rect{X: 20, Y: 20, Width: 0, Height: 0}) {
			t.Error("expected point-like rect to intersect its container")
		}
	})
}

func TestContains(t *testing.T) {
	r := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	t.Run("point on edge is contained", func(t *testing.T) {
		if !r.ContainsPoint(Point{X: 100, Y: 100}) {
			t.Error("expected corner point to be contained")
		}
	})

	t.Run("point outside is not contained", func(t *testing.T) {
		if r.ContainsPoint(Point{X: 101, Y: 50}) {
			t.Error("expected outside point to be rejected")
		}
	})

	t.Run("nested rect is contained", func(t *testing.T) {
		if !r.ContainsRect(Rect{X: 10, Y: 10, Width: 20, Height: 20}) {
			t.Error("expected nested rect to be contained")
		}
	})

	t.Run("overhanging rect is not contained", func(t *testing.T) {
		if r.ContainsRect(Rect{X: 90, Y: 90, Width: 20, Height: 20}) {
			t.Error("expected overhanging rect to be rejected")
		}
	})
}

func TestUnionAndBounds(t *testing.T) {
	t.Run("union covers both rects", func(t *testing.T) {
		a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
		b := Rect{X: 50, Y: 30, Width: 100, Height: 20}

		u := a.Union(b)
		want := Rect{X: 0, Y: 0, Width: 150, Height: 50}
		if !u.ApproxEqual(want) {
			t.Errorf("Union = %+v, want %+v", u, want)
		}
	})

	t.Run("bounds of group selection", func(t *testing.T) {
		rects := []Rect{
			{X: 0, Y: 0, Width: 50, Height: 50},
			{X: 100, Y: 0, Width: 50, Height: 50},
		}

		b, ok := BoundsOf(rects)
		if !ok {
			t.Fatal("BoundsOf returned not-ok for non-empty input")
		}
		want := Rect{X: 0, Y: 0, Width: 150, Height: 50}
		if !b.ApproxEqual(want) {
			t.Errorf("BoundsOf = %+v, want %+v", b, want)
		}
	})

	t.Run("bounds of empty set reports not-ok", func(t *testing.T) {
		if _, ok := BoundsOf(nil); ok {
			t.Error("expected not-ok for empty input")
		}
	})

	t.Run("bounds of points", func(t *testing.T) {
		pts := []Point{{X: 5, Y: 40}, {X: -5, Y: 10}, {X: 30, Y: 25}}

		b, ok := BoundsOfPoints(pts)
		if !ok {
			t.Fatal("BoundsOfPoints returned not-ok for non-empty input")
		}
		want := Rect{X: -5, Y: 10, Width: 35, Height: 30}
		if !b.ApproxEqual(want) {
			t.Errorf("BoundsOfPoints = %+v, want %+v", b, want)
		}
	})
}

func TestExpand(t *testing.T) {
	t.Run("positive margin grows all sides", func(t *testing.T) {
		r := Rect{X: 10, Y: 10, Width: 100, Height: 50}

		e := r.Expand(200)
		want := Rect{X: -190, Y: -190, Width: 500, Height: 450}
		if !e.ApproxEqual(want) {
			t.Errorf("Expand(200) = %+v, want %+v", e, want)
		}
	})

	t.Run("heavy shrink clamps extents at zero", func(t *testing.T) {
		r := Rect{X: 0, Y: 0, Width: 10, Height: 10}

		e := r.Expand(-20)
		if e.Width != 0 || e.Height != 0 {
			t.Errorf("extents = (%v, %v), want (0, 0)", e.Width, e.Height)
		}
	})
}

func TestRotatedAABB(t *testing.T) {
	t.Run("zero rotation returns rect unchanged", func(t *testing.T) {
		r := Rect{X: 10, Y: 20, Width: 100, Height: 50}
		if got := RotatedAABB(r, 0); !got.ApproxEqual(r) {
			t.Errorf("RotatedAABB(0) = %+v, want %+v", got, r)
		}
	})

	t.Run("full turn returns rect unchanged", func(t *testing.T) {
		r := Rect{X: 10, Y: 20, Width: 100, Height: 50}
		if got := RotatedAABB(r, 360); !got.ApproxEqual(r) {
			t.Errorf("RotatedAABB(360) = %+v, want %+v", got, r)
		}
	})

	t.Run("quarter turn swaps extents around center", func(t *testing.T) {
		r := Rect{X: 0, Y: 0, Width: 100, Height: 50}

		got := RotatedAABB(r, 90)
		want := Rect{X: 25, Y: -25, Width: 50, Height: 100}
		if !got.ApproxEqual(want) {
			t.Errorf("RotatedAABB(90) = %+v, want %+v", got, want)
		}
	})

	t.Run("45 degrees grows the box", func(t *testing.T) {
		r := Rect{X: 0, Y: 0, Width: 100, Height: 100}

		got := RotatedAABB(r, 45)
		wantSide := 100 * math.Sqrt2
		if math.Abs(got.Width-wantSide) > 1e-9 || math.Abs(got.Height-wantSide) > 1e-9 {
			t.Errorf("extents = (%v, %v), want %v on both axes", got.Width, got.Height, wantSide)
		}
		if c := got.Center(); math.Abs(c.X-50) > 1e-9 || math.Abs(c.Y-50) > 1e-9 {
			t.Errorf("center moved to %+v, want (50, 50)", c)
		}
	})
}

func TestTranslateAndPointMath(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 5, Height: 5}
	if got := r.Translate(-10, 30); got.X != 0 || got.Y != 40 {
		t.Errorf("Translate = %+v, want origin (0, 40)", got)
	}

	p := Point{X: 3, Y: 4}.Add(Point{X: 1, Y: -1})
	if p.X != 4 || p.Y != 3 {
		t.Errorf("Add = %+v, want (4, 3)", p)
	}

	q := Point{X: 3, Y: 4}.Sub(Point{X: 1, Y: -1})
	if q.X != 2 || q.Y != 5 {
		t.Errorf("Sub = %+v, want (2, 5)", q)
	}
}
