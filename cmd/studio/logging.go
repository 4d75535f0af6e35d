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
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/AleutianStudio/pkg/logging"
)

// newCLILogger builds the structured logger shared by all commands,
// honoring --log-level and --quiet. Serve raises the level itself when
// --debug is set.
func newCLILogger() *slog.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "studio",
		Quiet:   quietOutput,
	}).Slog()
}

// newSessionLogger is newCLILogger plus a session file for long-lived
// serve runs. With a data directory the log sits next to the database;
// otherwise it goes to the per-user default. The caller owns Close.
func newSessionLogger() *logging.Logger {
	dir := ""
	if serveDataDir != "" {
		dir = filepath.Join(serveDataDir, "logs")
	} else if d, err := logging.DefaultLogDir(); err == nil {
		dir = d
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "studio",
		Quiet:   quietOutput,
		LogDir:  dir,
	})
}
