// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command studio is the Aleutian Studio authoring toolchain.
//
// Usage:
//
//	# Validate project documents (concurrent, exit code 1 on findings)
//	studio validate course.json other.json
//
//	# Migrate a legacy document to the current version
//	studio migrate old-course.json -o course.json
//
//	# Summarize a project: counts, pages, paint order
//	studio inspect course.json
//
//	# Local debug server: health, metrics, read-only project state
//	studio serve --project course.json --addr :8080
//
// Example requests against a running server:
//
//	curl http://localhost:8080/healthz
//	curl http://localhost:8080/metrics
//	curl http://localhost:8080/v1/studio/project | jq
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error; carry the failure out.
		os.Exit(CLIExitError)
	}
}
