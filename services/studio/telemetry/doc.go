// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry for the studio process.
//
// The editor components instrument themselves against the OTel API alone:
// each package calls otel.Tracer or otel.Meter and never sees exporter
// configuration. Init decides, once at startup, what those instruments
// feed into. Swapping Jaeger for another OTLP backend, or turning tracing
// off entirely, is a configuration change.
//
// Defaults match a developer workstation: metrics go to Prometheus (the
// serve command mounts MetricsHandler at /metrics) and traces go to a
// local OTLP collector on localhost:4317. The serve command turns traces
// off when OTEL_TRACES_EXPORTER is unset, since a workstation rarely has
// a collector listening.
//
// Log correlation runs through LoggerWithTrace: the server derives a
// request-scoped logger that carries trace_id and span_id, and
// LoggerWithProject stacks the open course's ID on top. Components keep
// taking a plain *slog.Logger; correlation is applied at call sites that
// have a span in hand.
//
// NewMetrics builds the server's request instruments on whatever meter
// provider Init installed. Component-level counters stay on prometheus
// promauto; both surface through the same /metrics handler.
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer shutdown(ctx)
package telemetry
