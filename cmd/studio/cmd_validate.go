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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/studio/course"
	"github.com/AleutianAI/AleutianStudio/services/studio/validate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runValidate checks each document concurrently and reports per-file
// outcomes. A rejected file is a finding, not a command failure; the
// command itself only fails when it cannot run at all.
func runValidate(cmd *cobra.Command, args []string) {
	start := time.Now()
	out := newPrinter()
	logger := newCLILogger()

	validator := validate.New(validate.Config{Logger: logger})

	results := make([]ValidateFileResult, len(args))

	g, gCtx := errgroup.WithContext(cmd.Context())
	for i, file := range args {
		g.Go(func() error {
			results[i] = validateFile(gCtx, validator, file)
			return nil // Per-file rejections are findings, not run failures.
		})
	}
	_ = g.Wait()

	run := ValidateRunResult{Files: results, Checked: len(results)}
	for _, r := range results {
		if !r.Valid {
			run.Rejected++
		}
	}

	if !out.json && !out.quiet {
		printValidateRun(run)
	}

	os.Exit(out.result("validate", start, run, run.Rejected > 0, nil))
}

// validateFile runs the full accept pipeline against one file.
func validateFile(ctx context.Context, v *validate.Validator, file string) ValidateFileResult {
	raw, err := os.ReadFile(file)
	if err != nil {
		return ValidateFileResult{File: file, Error: err.Error()}
	}

	res, err := v.Document(ctx, raw)
	if err != nil {
		return ValidateFileResult{File: file, Error: err.Error()}
	}

	return ValidateFileResult{
		File:         file,
		Valid:        true,
		Version:      course.CurrentVersion,
		MigratedFrom: res.MigratedFrom,
		RemappedIDs:  len(res.RemappedIDs),
	}
}

// printValidateRun renders the human-readable per-file listing.
func printValidateRun(run ValidateRunResult) {
	for _, r := range run.Files {
		mark := statusMark(r.Valid)
		switch {
		case !r.Valid:
			fmt.Printf("%s %s: %s\n", mark, r.File, r.Error)
		case r.MigratedFrom > 0:
			fmt.Printf("%s %s (migrated from v%d, %d IDs rewritten)\n",
				mark, r.File, r.MigratedFrom, r.RemappedIDs)
		default:
			fmt.Printf("%s %s\n", mark, r.File)
		}
	}
	fmt.Printf("\n%d checked, %d rejected\n", run.Checked, run.Rejected)
}
