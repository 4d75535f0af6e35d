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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/validate"
	"github.com/spf13/cobra"
)

// runMigrate validates one document, migrates it to the current
// version, and reports the version chain and rewritten legacy IDs.
//
// Without -o the migrated document goes to stdout and the summary to
// stderr, so the output pipes cleanly into other tools.
func runMigrate(cmd *cobra.Command, args []string) {
	start := time.Now()
	out := newPrinter()
	logger := newCLILogger()
	file := args[0]

	raw, err := os.ReadFile(file)
	if err != nil {
		os.Exit(out.result("migrate", start, nil, false, err))
	}

	validator := validate.New(validate.Config{Logger: logger})
	res, err := validator.Document(cmd.Context(), raw)
	if err != nil {
		os.Exit(out.result("migrate", start, nil, false, err))
	}

	result := MigrateResult{
		File:         file,
		VersionChain: versionChain(res.MigratedFrom),
		RemappedIDs:  res.RemappedIDs,
		Output:       migrateOutput,
	}

	doc, err := json.MarshalIndent(res.Course, "", "  ")
	if err != nil {
		os.Exit(out.result("migrate", start, nil, false, err))
	}
	doc = append(doc, '\n')

	switch {
	case migrateOutput != "":
		if err := os.WriteFile(migrateOutput, doc, 0o644); err != nil {
			os.Exit(out.result("migrate", start, nil, false, err))
		}
		if !out.json && !out.quiet {
			printMigrateSummary(os.Stdout, result)
		}
	case out.json || out.quiet:
		// The document is only written when a destination is named.
	default:
		os.Stdout.Write(doc)
		printMigrateSummary(os.Stderr, result)
	}

	os.Exit(out.result("migrate", start, result, false, nil))
}

// versionChain lists the versions the document passed through,
// ending at the current one.
func versionChain(from int) []int {
	if from == 0 || from >= course.CurrentVersion {
		return []int{course.CurrentVersion}
	}
	chain := make([]int, 0, course.CurrentVersion-from+1)
	for v := from; v <= course.CurrentVersion; v++ {
		chain = append(chain, v)
	}
	return chain
}

// printMigrateSummary renders the human-readable migration report.
func printMigrateSummary(w *os.File, result MigrateResult) {
	steps := make([]string, len(result.VersionChain))
	for i, v := range result.VersionChain {
		steps[i] = fmt.Sprintf("v%d", v)
	}
	fmt.Fprintf(w, "%s: %s\n", result.File, strings.Join(steps, " -> "))
	if result.Output != "" {
		fmt.Fprintf(w, "wrote %s\n", result.Output)
	}

	if len(result.RemappedIDs) == 0 {
		return
	}
	fmt.Fprintf(w, "%d legacy IDs rewritten:\n", len(result.RemappedIDs))

	legacy := make([]string, 0, len(result.RemappedIDs))
	for id := range result.RemappedIDs {
		legacy = append(legacy, id)
	}
	sort.Strings(legacy)
	for _, id := range legacy {
		fmt.Fprintf(w, "  %s -> %s\n", id, result.RemappedIDs[id])
	}
}
