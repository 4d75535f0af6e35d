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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments the debug server records per request.
// They flow through whatever meter provider Init installed; without one
// every instrument is a no-op, so metric-less runs need no conditionals.
type Metrics struct {
	// HTTPRequestsTotal counts requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks requests currently in flight.
	HTTPActiveRequests metric.Int64UpDownCounter
}

// NewMetrics registers the server instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"studio_http_requests_total",
		metric.WithDescription("Requests served, by method, route, and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	// A local debug server answers from memory; anything past a second
	// is already pathological, so the buckets stop there.
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"studio_http_request_duration_seconds",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"studio_http_active_requests",
		metric.WithDescription("Requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	return &m, nil
}
