// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
)

// checkShape rejects documents the migrations cannot even walk: nil
// map entries, map keys disagreeing with entity IDs, a missing course
// ID. Runs before migration; IDs may still be legacy here.
func checkShape(c *course.Course) error {
	if c.ID == "" {
		return fmt.Errorf("%w: course id missing", ErrMalformed)
	}
	for mID, m := range c.Modules {
		if m == nil {
			return fmt.Errorf("%w: module entry %s is empty", ErrMalformed, mID)
		}
		if m.ID != mID {
			return fmt.Errorf("%w: module keyed %s carries id %s", ErrIntegrity, mID, m.ID)
		}
		for lID, l := range m.Lessons {
			if l == nil {
				return fmt.Errorf("%w: lesson entry %s is empty", ErrMalformed, lID)
			}
			if l.ID != lID {
				return fmt.Errorf("%w: lesson keyed %s carries id %s", ErrIntegrity, lID, l.ID)
			}
			for pID, p := range l.Pages {
				if p == nil {
					return fmt.Errorf("%w: page entry %s is empty", ErrMalformed, pID)
				}
				if p.ID != pID {
					return fmt.Errorf("%w: page keyed %s carries id %s", ErrIntegrity, pID, p.ID)
				}
				for i, el := range p.Elements {
					if el == nil {
						return fmt.Errorf("%w: page %s element %d is empty", ErrMalformed, pID, i)
					}
				}
			}
		}
	}
	return nil
}

// checkIntegrity verifies that every entity agrees with every entity
// that references it. Runs after migration; checkShape has already
// cleared nil entries and key mismatches.
func checkIntegrity(c *course.Course) error {
	if err := checkRefs("course "+c.ID, c.ModuleRefs, c.Modules); err != nil {
		return err
	}

	// IDs must be unique across the whole course; the store keys its
	// lookup maps by bare ID.
	owners := map[string]string{}
	claim := func(id, what string) error {
		if prev, dup := owners[id]; dup {
			return fmt.Errorf("%w: id %s used by both %s and %s", ErrIntegrity, id, prev, what)
		}
		owners[id] = what
		return nil
	}

	for mID, m := range c.Modules {
		if err := checkKind(mID, ident.KindModule); err != nil {
			return err
		}
		if err := claim(mID, "module "+mID); err != nil {
			return err
		}
		if err := checkRefs("module "+mID, m.LessonRefs, m.Lessons); err != nil {
			return err
		}
		for lID, l := range m.Lessons {
			if err := checkKind(lID, ident.KindLesson); err != nil {
				return err
			}
			if err := claim(lID, "lesson "+lID); err != nil {
				return err
			}
			if err := checkRefs("lesson "+lID, l.PageRefs, l.Pages); err != nil {
				return err
			}
			for pID, p := range l.Pages {
				if err := checkKind(pID, ident.KindPage); err != nil {
					return err
				}
				if err := claim(pID, "page "+pID); err != nil {
					return err
				}
				if err := checkPage(p, claim); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkRefs verifies that a ref list and its by-ID map describe the
// same set, with orders contiguous from 1 in list position.
func checkRefs[T any](owner string, refs []course.Ref, entities map[string]T) error {
	if len(refs) != len(entities) {
		return fmt.Errorf("%w: %s has %d refs for %d entries",
			ErrIntegrity, owner, len(refs), len(entities))
	}
	seen := make(map[string]bool, len(refs))
	for i, ref := range refs {
		if ref.Order != i+1 {
			return fmt.Errorf("%w: %s ref %s has order %d at position %d",
				ErrIntegrity, owner, ref.ID, ref.Order, i+1)
		}
		if seen[ref.ID] {
			return fmt.Errorf("%w: %s lists %s twice", ErrIntegrity, owner, ref.ID)
		}
		seen[ref.ID] = true
		if _, ok := entities[ref.ID]; !ok {
			return fmt.Errorf("%w: %s lists %s which does not exist",
				ErrIntegrity, owner, ref.ID)
		}
	}
	return nil
}

func checkKind(id string, want ident.Kind) error {
	kind, _, ok := ident.ParseID(id)
	if !ok || kind != want {
		return fmt.Errorf("%w: %s is not a valid %s id", ErrMalformed, id, want)
	}
	return nil
}

// checkPage verifies element kinds, container pairing, containment
// acyclicity, and layout override references within one page.
func checkPage(p *course.Page, claim func(id, what string) error) error {
	byID := make(map[string]*course.Element, len(p.Elements))
	for _, el := range p.Elements {
		if err := checkKind(el.ID, ident.KindElement); err != nil {
			return err
		}
		if !el.Kind.Valid() {
			return fmt.Errorf("%w: element %s has unknown kind %q",
				ErrMalformed, el.ID, el.Kind)
		}
		if err := claim(el.ID, "element on page "+p.ID); err != nil {
			return err
		}
		byID[el.ID] = el
	}

	// Container pairing holds in both directions: a collection lists
	// its members and every member points back at it.
	for _, el := range p.Elements {
		if len(el.MemberIDs) > 0 && !el.Kind.IsContainer() {
			return fmt.Errorf("%w: element %s of kind %s lists members",
				ErrMalformed, el.ID, el.Kind)
		}
		members := make(map[string]bool, len(el.MemberIDs))
		for _, memberID := range el.MemberIDs {
			if members[memberID] {
				return fmt.Errorf("%w: collection %s lists member %s twice",
					ErrIntegrity, el.ID, memberID)
			}
			members[memberID] = true
			child, ok := byID[memberID]
			if !ok {
				return fmt.Errorf("%w: collection %s lists member %s which is not on page %s",
					ErrIntegrity, el.ID, memberID, p.ID)
			}
			if child.ParentID != el.ID {
				return fmt.Errorf("%w: member %s does not point back at collection %s",
					ErrIntegrity, memberID, el.ID)
			}
		}
		if el.ParentID != "" {
			parent, ok := byID[el.ParentID]
			if !ok {
				return fmt.Errorf("%w: element %s claims parent %s which is not on page %s",
					ErrIntegrity, el.ID, el.ParentID, p.ID)
			}
			if !parent.Kind.IsContainer() {
				return fmt.Errorf("%w: element %s claims parent %s which is not a container",
					ErrIntegrity, el.ID, el.ParentID)
			}
			if !slices.Contains(parent.MemberIDs, el.ID) {
				return fmt.Errorf("%w: collection %s does not list its member %s",
					ErrIntegrity, el.ParentID, el.ID)
			}
		}
	}

	for _, el := range p.Elements {
		hops := 0
		for cur := el; cur.ParentID != ""; {
			cur = byID[cur.ParentID]
			hops++
			if hops > len(p.Elements) {
				return fmt.Errorf("%w: containment cycle through element %s on page %s",
					ErrIntegrity, el.ID, p.ID)
			}
		}
	}

	for name, lay := range p.Layouts {
		if lay.Name != name {
			return fmt.Errorf("%w: layout keyed %q carries name %q",
				ErrIntegrity, name, lay.Name)
		}
		for elID := range lay.Overrides {
			if _, ok := byID[elID]; !ok {
				return fmt.Errorf("%w: layout %s overrides element %s which is not on page %s",
					ErrIntegrity, name, elID, p.ID)
			}
		}
	}
	return nil
}
