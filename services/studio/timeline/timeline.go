// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timeline manages per-page animation timelines.
//
// A timeline Record owns a set of Clips; each clip animates one stage
// element along a track with keyframes and an easing curve. Cue points
// mark named instants that triggers and narration sync against, which
// is why their names must be unique within a record.
//
// The Registry is the authoritative owner of all records. Lookups
// return deep copies so callers can never mutate registry state behind
// its lock; all writes go through Create, Update, and the cue and clip
// helpers.
package timeline

import (
	"slices"

	"github.com/AleutianAI/AleutianStudio/services/studio/geom"
)

// Easing identifies the interpolation curve applied across a clip.
type Easing string

const (
	EasingLinear    Easing = "linear"
	EasingEaseIn    Easing = "ease-in"
	EasingEaseOut   Easing = "ease-out"
	EasingEaseInOut Easing = "ease-in-out"
)

// Valid reports whether e is a known easing curve.
func (e Easing) Valid() bool {
	switch e {
	case EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut:
		return true
	}
	return false
}

// CuePoint marks a named instant on a timeline.
type CuePoint struct {
	// Name is unique within the owning record.
	Name string `json:"name" validate:"required"`

	// Time is the offset from timeline start, in seconds.
	Time float64 `json:"time" validate:"gte=0"`
}

// Keyframe holds the animated property values at one instant of a
// clip. Unset pointers mean the property is not animated at this
// keyframe and keeps its interpolated value.
type Keyframe struct {
	// Time is the offset from clip start, in seconds.
	Time float64 `json:"time" validate:"gte=0"`

	// Position is the element position at this keyframe.
	Position *geom.Point `json:"position,omitempty"`

	// Opacity is the element opacity at this keyframe.
	Opacity *float64 `json:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Rotation is the element rotation in degrees at this keyframe.
	Rotation *float64 `json:"rotation,omitempty"`

	// Scale is a uniform scale factor at this keyframe.
	Scale *float64 `json:"scale,omitempty" validate:"omitempty,gt=0"`
}

// Clip animates a single element for a span of the timeline.
type Clip struct {
	// ID uniquely identifies the clip within its record.
	ID string `json:"id"`

	// ElementID is the stage element the clip animates.
	ElementID string `json:"element_id" validate:"required"`

	// Track is the row the clip occupies in the timeline panel.
	Track int `json:"track" validate:"gte=0"`

	// Start is the offset from timeline start, in seconds.
	Start float64 `json:"start" validate:"gte=0"`

	// Duration is the clip length in seconds.
	Duration float64 `json:"duration" validate:"gt=0"`

	// Easing is the interpolation curve between keyframes.
	Easing Easing `json:"easing,omitempty"`

	// Keyframes are ordered by Time.
	Keyframes []Keyframe `json:"keyframes,omitempty"`
}

// End returns the clip's end offset from timeline start.
func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Clone returns a deep copy of the clip.
func (c *Clip) Clone() *Clip {
	if c == nil {
		return nil
	}
	out := *c
	out.Keyframes = make([]Keyframe, len(c.Keyframes))
	for i, kf := range c.Keyframes {
		out.Keyframes[i] = kf.clone()
	}
	return &out
}

func (k Keyframe) clone() Keyframe {
	out := k
	if k.Position != nil {
		p := *k.Position
		out.Position = &p
	}
	out.Opacity = clonePtr(k.Opacity)
	out.Rotation = clonePtr(k.Rotation)
	out.Scale = clonePtr(k.Scale)
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Record is one timeline attached to a page.
type Record struct {
	// ID uniquely identifies the timeline.
	ID string `json:"id"`

	// PageID is the page this timeline animates.
	PageID string `json:"page_id" validate:"required"`

	// Name is the author-facing label.
	Name string `json:"name,omitempty"`

	// Duration is the timeline length in seconds.
	Duration float64 `json:"duration" validate:"gt=0"`

	// Loop reports whether playback wraps at the end.
	Loop bool `json:"loop,omitempty"`

	// AutoPlay reports whether the timeline starts with the page.
	AutoPlay bool `json:"auto_play,omitempty"`

	// CuePoints are named instants, unique by Name.
	CuePoints []CuePoint `json:"cue_points,omitempty"`

	// Clips are the element animations on this timeline.
	Clips []*Clip `json:"clips,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.CuePoints = slices.Clone(r.CuePoints)
	out.Clips = make([]*Clip, len(r.Clips))
	for i, c := range r.Clips {
		out.Clips[i] = c.Clone()
	}
	return &out
}

// Cue returns the cue point with the given name.
func (r *Record) Cue(name string) (CuePoint, bool) {
	for _, cp := range r.CuePoints {
		if cp.Name == name {
			return cp, true
		}
	}
	return CuePoint{}, false
}

// Clip returns the clip with the given ID.
func (r *Record) Clip(id string) (*Clip, bool) {
	for _, c := range r.Clips {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// duplicateCue returns the first cue point name that appears more than
// once, if any.
func duplicateCue(cues []CuePoint) (string, bool) {
	seen := make(map[string]struct{}, len(cues))
	for _, cp := range cues {
		if _, dup := seen[cp.Name]; dup {
			return cp.Name, true
		}
		seen[cp.Name] = struct{}{}
	}
	return "", false
}
