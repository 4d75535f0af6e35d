// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns logger with the active span's trace_id and
// span_id attached, so a log line can be looked up next to its trace.
// Without a valid span in ctx the logger comes back unchanged; a nil
// logger falls back to slog.Default.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return logger.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return logger
}

// LoggerWithProject adds the open course's ID on top of LoggerWithTrace,
// so entries from project-scoped operations filter by course_id.
func LoggerWithProject(ctx context.Context, logger *slog.Logger, courseID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("course_id", courseID))
}
