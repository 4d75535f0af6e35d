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
	"time"

	"github.com/mattn/go-isatty"
)

// Command exit codes. Findings are distinct from failure so scripts can
// tell "ran and rejected something" from "could not run".
const (
	CLIExitSuccess  = 0
	CLIExitFindings = 1
	CLIExitError    = 2
)

// outputAPIVersion marks the JSON envelope layout. Bump only when a
// field changes meaning or disappears; additions keep the version.
const outputAPIVersion = "1.0"

// resultEnvelope is the stable wrapper around every command's JSON
// output, giving scripts one place to check success and timing.
type resultEnvelope struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// printer renders command results according to the global output
// flags. Commands capture one at startup so a flag change mid-run
// cannot split a single command's output across formats.
type printer struct {
	json    bool
	compact bool
	quiet   bool
}

func newPrinter() printer {
	return printer{json: jsonOutput, compact: compactOutput, quiet: quietOutput}
}

// emit writes v to stdout as JSON, indented unless compact is set.
func (p printer) emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if !p.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// fail reports a command failure: an envelope in JSON mode, one stderr
// line otherwise.
func (p printer) fail(cmd string, err error) {
	if p.json {
		_ = p.emit(resultEnvelope{
			APIVersion: outputAPIVersion,
			Command:    cmd,
			Timestamp:  time.Now(),
			Error:      err.Error(),
		})
		return
	}
	fmt.Fprintf(os.Stderr, "studio: %s: %v\n", cmd, err)
}

// result finishes a command: renders the outcome unless quiet, then
// maps it to an exit code. Commands print their human-readable form
// themselves before calling this; result only owns the JSON envelope
// and the failure line.
func (p printer) result(cmd string, start time.Time, data any, findings bool, err error) int {
	if p.quiet {
		return exitCode(findings, err)
	}

	if err != nil {
		p.fail(cmd, err)
		return CLIExitError
	}

	if p.json {
		env := resultEnvelope{
			APIVersion: outputAPIVersion,
			Command:    cmd,
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    true,
			Data:       data,
		}
		if encErr := p.emit(env); encErr != nil {
			fmt.Fprintf(os.Stderr, "studio: %s: encode result: %v\n", cmd, encErr)
			return CLIExitError
		}
	}

	return exitCode(findings, nil)
}

// exitCode maps a command outcome to its exit code. Errors win over
// findings: a run that died may not have seen everything.
func exitCode(findings bool, err error) int {
	switch {
	case err != nil:
		return CLIExitError
	case findings:
		return CLIExitFindings
	default:
		return CLIExitSuccess
	}
}

// stdoutIsTerminal reports whether stdout is an interactive terminal.
// Piped output gets plain text without color codes or glyphs.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// statusMark renders a pass/fail indicator, colored on a terminal and
// plain when piped.
func statusMark(ok bool) string {
	if stdoutIsTerminal() {
		if ok {
			return "\033[32m✓\033[0m"
		}
		return "\033[31m✗\033[0m"
	}
	if ok {
		return "ok"
	}
	return "FAIL"
}

// ValidateFileResult holds the outcome for one validated file.
type ValidateFileResult struct {
	File         string `json:"file"`
	Valid        bool   `json:"valid"`
	Version      int    `json:"version,omitempty"`
	MigratedFrom int    `json:"migrated_from,omitempty"`
	RemappedIDs  int    `json:"remapped_ids,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ValidateRunResult holds validate output across all files.
type ValidateRunResult struct {
	Files    []ValidateFileResult `json:"files"`
	Checked  int                  `json:"checked"`
	Rejected int                  `json:"rejected"`
}

// MigrateResult holds migrate output.
type MigrateResult struct {
	File         string            `json:"file"`
	VersionChain []int             `json:"version_chain"`
	RemappedIDs  map[string]string `json:"remapped_ids,omitempty"`
	Output       string            `json:"output,omitempty"`
}

// InspectResult holds inspect output.
type InspectResult struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Version  int             `json:"version"`
	Modules  int             `json:"modules"`
	Lessons  int             `json:"lessons"`
	Pages    int             `json:"pages"`
	Elements int             `json:"elements"`
	ByKind   map[string]int  `json:"by_kind,omitempty"`
	Tree     []ModuleSummary `json:"tree"`
}

// ModuleSummary is one module in inspect output.
type ModuleSummary struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Lessons []LessonSummary `json:"lessons"`
}

// LessonSummary is one lesson in inspect output.
type LessonSummary struct {
	ID    string        `json:"id"`
	Title string        `json:"title"`
	Pages []PageSummary `json:"pages"`
}

// PageSummary is one page in inspect output, elements in paint order.
type PageSummary struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Elements []ElementRow `json:"elements"`
}

// ElementRow is one element in a page's paint-order table.
type ElementRow struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	ZIndex int    `json:"z_index"`
	Hidden bool   `json:"hidden,omitempty"`
	Locked bool   `json:"locked,omitempty"`
}
