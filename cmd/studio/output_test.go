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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// captureStream redirects *stream (os.Stdout or os.Stderr) for the
// duration of fn and returns what was written. The output here is a
// few hundred bytes at most, well under the pipe buffer.
func captureStream(t *testing.T, stream **os.File, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	saved := *stream
	*stream = w
	defer func() { *stream = saved }()

	fn()

	w.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("drain pipe: %v", err)
	}
	return buf.String()
}

// TestResultExitCodes drives result in quiet mode through every
// outcome. The literal values are the script contract.
func TestResultExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		findings bool
		err      error
		want     int
	}{
		{name: "clean run", want: 0},
		{name: "findings", findings: true, want: 1},
		{name: "failure", err: errors.New("no such file"), want: 2},
		{name: "failure with findings", findings: true, err: errors.New("cut short"), want: 2},
	}

	out := printer{quiet: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := out.result("validate", time.Now(), nil, tt.findings, tt.err)
			if got != tt.want {
				t.Errorf("result() = %d, want %d", got, tt.want)
			}
		})
	}

	if CLIExitSuccess != 0 || CLIExitFindings != 1 || CLIExitError != 2 {
		t.Errorf("exit constants = %d/%d/%d, want 0/1/2",
			CLIExitSuccess, CLIExitFindings, CLIExitError)
	}
}

// TestResultJSONEnvelope checks the success envelope on the wire:
// versioned, stamped with the command, data nested under its own key.
func TestResultJSONEnvelope(t *testing.T) {
	out := printer{json: true}
	start := time.Now().Add(-20 * time.Millisecond)

	var code int
	raw := captureStream(t, &os.Stdout, func() {
		code = out.result("inspect", start, map[string]int{"pages": 4}, false, nil)
	})

	if code != CLIExitSuccess {
		t.Fatalf("result() = %d, want %d", code, CLIExitSuccess)
	}

	var env resultEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\n%s", err, raw)
	}
	if env.APIVersion != outputAPIVersion {
		t.Errorf("APIVersion = %q, want %q", env.APIVersion, outputAPIVersion)
	}
	if env.Command != "inspect" {
		t.Errorf("Command = %q, want inspect", env.Command)
	}
	if !env.Success {
		t.Error("Success = false on a clean run")
	}
	if env.DurationMs < 20 {
		t.Errorf("DurationMs = %d, want at least 20", env.DurationMs)
	}
	if !strings.Contains(raw, `"pages": 4`) {
		t.Errorf("data missing from envelope:\n%s", raw)
	}
	if strings.Contains(raw, `"error"`) {
		t.Errorf("clean envelope should omit the error field:\n%s", raw)
	}
}

// TestResultJSONFailure checks that a failed command still emits a
// parseable envelope on stdout, with success false and the reason.
func TestResultJSONFailure(t *testing.T) {
	out := printer{json: true}

	var code int
	raw := captureStream(t, &os.Stdout, func() {
		code = out.result("migrate", time.Now(), nil, false, errors.New("document is malformed"))
	})

	if code != CLIExitError {
		t.Fatalf("result() = %d, want %d", code, CLIExitError)
	}

	var env resultEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("failure envelope is not valid JSON: %v\n%s", err, raw)
	}
	if env.Success {
		t.Error("Success = true on a failed run")
	}
	if env.Command != "migrate" {
		t.Errorf("Command = %q, want migrate", env.Command)
	}
	if env.Error != "document is malformed" {
		t.Errorf("Error = %q, want the underlying message", env.Error)
	}
	if strings.Contains(raw, `"data"`) {
		t.Errorf("failure envelope should omit the data field:\n%s", raw)
	}
}

// TestFailTextMode checks that in text mode the failure line goes to
// stderr, prefixed with the program and command, and stdout stays
// clean for piped document output.
func TestFailTextMode(t *testing.T) {
	out := printer{}

	var errOut string
	stdOut := captureStream(t, &os.Stdout, func() {
		errOut = captureStream(t, &os.Stderr, func() {
			out.fail("validate", errors.New("open course.json: no such file"))
		})
	})

	if want := "studio: validate: open course.json: no such file\n"; errOut != want {
		t.Errorf("stderr = %q, want %q", errOut, want)
	}
	if stdOut != "" {
		t.Errorf("text-mode failure wrote to stdout: %q", stdOut)
	}
}

// TestEmitCompact checks that compact mode collapses the envelope to a
// single line for log-style consumers.
func TestEmitCompact(t *testing.T) {
	out := printer{json: true, compact: true}

	raw := captureStream(t, &os.Stdout, func() {
		out.result("validate", time.Now(), map[string]int{"checked": 2}, false, nil)
	})

	if n := strings.Count(raw, "\n"); n != 1 {
		t.Errorf("compact output spans %d lines, want 1:\n%s", n, raw)
	}
}

// TestValidateRunResultWire tests that rejected files omit the
// success-only fields on the wire.
func TestValidateRunResultWire(t *testing.T) {
	run := ValidateRunResult{
		Files: []ValidateFileResult{
			{File: "good.json", Valid: true, Version: 3, MigratedFrom: 1, RemappedIDs: 2},
			{File: "bad.json", Error: "project document is malformed"},
		},
		Checked:  2,
		Rejected: 1,
	}

	data, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal ValidateRunResult: %v", err)
	}

	var decoded ValidateRunResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal ValidateRunResult: %v", err)
	}

	if decoded.Rejected != run.Rejected {
		t.Errorf("Rejected = %d, want %d", decoded.Rejected, run.Rejected)
	}
	if decoded.Files[0].MigratedFrom != 1 {
		t.Errorf("Files[0].MigratedFrom = %d, want 1", decoded.Files[0].MigratedFrom)
	}

	// The rejected entry carries only the file and the reason.
	raw := string(data)
	badStart := strings.Index(raw, "bad.json")
	if badStart < 0 {
		t.Fatal("bad.json entry missing from output")
	}
	if strings.Contains(raw[badStart:], "version") {
		t.Error("rejected file should omit the version field")
	}
}

// TestStatusMarkPiped tests the plain-text marks used for piped output.
func TestStatusMarkPiped(t *testing.T) {
	if stdoutIsTerminal() {
		t.Skip("stdout is a terminal, piped rendering not observable")
	}

	if got := statusMark(true); got != "ok" {
		t.Errorf("statusMark(true) = %q, want ok", got)
	}
	if got := statusMark(false); got != "FAIL" {
		t.Errorf("statusMark(false) = %q, want FAIL", got)
	}
}
