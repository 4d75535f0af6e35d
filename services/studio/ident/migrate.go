// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ident

import (
	"github.com/AleutianAI/AleutianStudio/services/studio/course"
)

// RewriteLegacyIDs replaces pre-scheme IDs throughout a course.
//
// # Description
//
// Walks the whole hierarchy, allocates a current-scheme ID for every
// entity whose ID does not parse, and rewrites all references that point
// at the old IDs: ref lists, by-ID map keys, element ParentID and
// MemberIDs. The rewrite is in place.
//
// The returned mapping lets collaborators holding element or page
// references (timeline clips, trigger bindings) remap their own state.
//
// # Inputs
//
//   - c: The course to rewrite. Nil is a no-op.
//   - g: Generator used for replacement IDs.
//
// # Outputs
//
//   - map[string]string: Old ID to new ID, one entry per rewritten
//     entity. Empty when nothing was legacy.
func RewriteLegacyIDs(c *course.Course, g *Generator) map[string]string {
	mapping := make(map[string]string)
	if c == nil {
		return mapping
	}

	// Pass 1: allocate replacements.
	for id := range c.Modules {
		if IsLegacyID(id) {
			mapping[id] = g.Next(KindModule)
		}
	}
	for _, m := range c.Modules {
		for id := range m.Lessons {
			if IsLegacyID(id) {
				mapping[id] = g.Next(KindLesson)
			}
		}
		for _, l := range m.Lessons {
			for id := range l.Pages {
				if IsLegacyID(id) {
					mapping[id] = g.Next(KindPage)
				}
			}
			for _, p := range l.Pages {
				for _, el := range p.Elements {
					if IsLegacyID(el.ID) {
						mapping[el.ID] = g.Next(KindElement)
					}
				}
			}
		}
	}
	if len(mapping) == 0 {
		return mapping
	}

	remap := func(id string) string {
		if nw, ok := mapping[id]; ok {
			return nw
		}
		return id
	}

	// Pass 2: rewrite IDs, map keys, refs, and cross-references.
	c.ModuleRefs = remapRefs(c.ModuleRefs, remap)
	c.Modules = remapKeys(c.Modules, remap)
	for _, m := range c.Modules {
		m.ID = remap(m.ID)
		m.LessonRefs = remapRefs(m.LessonRefs, remap)
		m.Lessons = remapKeys(m.Lessons, remap)
		for _, l := range m.Lessons {
			l.ID = remap(l.ID)
			l.PageRefs = remapRefs(l.PageRefs, remap)
			l.Pages = remapKeys(l.Pages, remap)
			for _, p := range l.Pages {
				p.ID = remap(p.ID)
				for _, el := range p.Elements {
					el.ID = remap(el.ID)
					el.ParentID = remap(el.ParentID)
					for i, member := range el.MemberIDs {
						el.MemberIDs[i] = remap(member)
					}
				}
				for name, lay := range p.Layouts {
					lay.Overrides = remapKeys(lay.Overrides, remap)
					p.Layouts[name] = lay
				}
			}
		}
	}

	return mapping
}

func remapRefs(refs []course.Ref, remap func(string) string) []course.Ref {
	for i := range refs {
		refs[i].ID = remap(refs[i].ID)
	}
	return refs
}

func remapKeys[V any](m map[string]V, remap func(string) string) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[remap(k)] = v
	}
	return out
}
