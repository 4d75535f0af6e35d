// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/validate"
	"github.com/spf13/cobra"
)

// runInspect validates one document and prints its structure: the
// module/lesson/page tree with counts, and each page's elements in
// paint order.
func runInspect(cmd *cobra.Command, args []string) {
	start := time.Now()
	out := newPrinter()
	logger := newCLILogger()
	file := args[0]

	raw, err := os.ReadFile(file)
	if err != nil {
		os.Exit(out.result("inspect", start, nil, false, err))
	}

	validator := validate.New(validate.Config{Logger: logger})
	res, err := validator.Document(cmd.Context(), raw)
	if err != nil {
		os.Exit(out.result("inspect", start, nil, false, err))
	}

	result := summarize(res.Course)

	if !out.json && !out.quiet {
		printInspect(result)
	}

	os.Exit(out.result("inspect", start, result, false, nil))
}

// summarize walks the course in reference order and collects counts
// and per-page paint-order tables.
func summarize(c *course.Course) InspectResult {
	result := InspectResult{
		ID:      c.ID,
		Title:   c.Title,
		Version: c.Version,
		ByKind:  make(map[string]int),
	}

	for _, mref := range c.ModuleRefs {
		m := c.Modules[mref.ID]
		if m == nil {
			continue
		}
		result.Modules++
		ms := ModuleSummary{ID: m.ID, Title: m.Title}

		for _, lref := range m.LessonRefs {
			l := m.Lessons[lref.ID]
			if l == nil {
				continue
			}
			result.Lessons++
			ls := LessonSummary{ID: l.ID, Title: l.Title}

			for _, pref := range l.PageRefs {
				p := l.Pages[pref.ID]
				if p == nil {
					continue
				}
				result.Pages++
				ps := PageSummary{ID: p.ID, Name: p.Name, Elements: paintOrder(p)}
				result.Elements += len(ps.Elements)
				for _, row := range ps.Elements {
					result.ByKind[row.Kind]++
				}
				ls.Pages = append(ls.Pages, ps)
			}
			ms.Lessons = append(ms.Lessons, ls)
		}
		result.Tree = append(result.Tree, ms)
	}
	return result
}

// paintOrder lists a page's elements back to front. Ties keep the
// stored order, matching how the renderer breaks them.
func paintOrder(p *course.Page) []ElementRow {
	rows := make([]ElementRow, 0, len(p.Elements))
	for _, el := range p.Elements {
		rows = append(rows, ElementRow{
			ID:     el.ID,
			Kind:   string(el.Kind),
			Name:   el.Name,
			ZIndex: el.ZIndex,
			Hidden: !el.Visible,
			Locked: el.Locked,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ZIndex < rows[j].ZIndex
	})
	return rows
}

// printInspect renders the human-readable tree and paint-order tables.
func printInspect(result InspectResult) {
	fmt.Printf("%s %q (v%d)\n", result.ID, result.Title, result.Version)
	fmt.Printf("%d modules, %d lessons, %d pages, %d elements\n",
		result.Modules, result.Lessons, result.Pages, result.Elements)

	if len(result.ByKind) > 0 {
		kinds := make([]string, 0, len(result.ByKind))
		for k := range result.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-12s %d\n", k, result.ByKind[k])
		}
	}

	for _, m := range result.Tree {
		fmt.Printf("\n%s %q\n", m.ID, m.Title)
		for _, l := range m.Lessons {
			fmt.Printf("  %s %q\n", l.ID, l.Title)
			for _, p := range l.Pages {
				fmt.Printf("    %s %q (%d elements)\n", p.ID, p.Name, len(p.Elements))
				for _, row := range p.Elements {
					flags := ""
					if row.Hidden {
						flags += " hidden"
					}
					if row.Locked {
						flags += " locked"
					}
					fmt.Printf("      z%-4d %-12s %-10s %s%s\n",
						row.ZIndex, row.ID, row.Kind, row.Name, flags)
				}
			}
		}
	}
}
