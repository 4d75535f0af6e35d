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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	jsonOutput    bool
	compactOutput bool
	quietOutput   bool
	logLevel      string

	migrateOutput string

	serveAddr     string
	serveProject  string
	serveSettings string
	serveDataDir  string
	serveDebug    bool

	rootCmd = &cobra.Command{
		Use:   "studio",
		Short: "Authoring toolchain for Aleutian Studio projects",
		Long: `Studio validates, migrates, and inspects course project documents,
				and runs a local debug server exposing read-only project state
				and Prometheus metrics.`,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate one or more project documents",
		Long: `Validate parses each document, runs version migration, and checks
				structural and referential integrity. Files are checked
				concurrently. Exit code 1 means at least one file was rejected.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runValidate, // Defined in cmd_validate.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate [file]",
		Short: "Migrate a project document to the current version",
		Long: `Migrate validates the document, applies version migrations, and
				rewrites legacy entity IDs. The version chain and any remapped
				IDs are reported. Use -o to write the migrated document.`,
		Args: cobra.ExactArgs(1),
		Run:  runMigrate, // Defined in cmd_migrate.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Summarize a project document",
		Long: `Inspect validates the document and prints the module/lesson/page
				tree with element counts, plus a paint-order table per page.`,
		Args: cobra.ExactArgs(1),
		Run:  runInspect, // Defined in cmd_inspect.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run a local debug server over an assembled editor core",
		Long: `Serve assembles the full editor core (store, history, indexes,
				autosave, settings) and exposes /healthz, /metrics, and
				read-only project endpoints under /v1/studio.`,
		Run: runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&compactOutput, "compact", false, "Compact JSON output (no indentation)")
	rootCmd.PersistentFlags().BoolVarP(&quietOutput, "quiet", "q", false, "Suppress output, exit code only")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVarP(&migrateOutput, "output", "o", "", "Write the migrated document to this file (default: stdout)")

	rootCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveProject, "project", "", "Project document to load at startup")
	serveCmd.Flags().StringVar(&serveSettings, "settings", "", "Editor settings file (hot-reloaded on change)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for the document database (default: in-memory)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug mode (request logging, debug level)")
}
