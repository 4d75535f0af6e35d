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
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an exporter name Init does not
	// recognize.
	ErrUnknownExporter = errors.New("unknown exporter type")
)

// Config selects the exporters behind the global OTel providers.
type Config struct {
	// ServiceName labels every span and metric from this process.
	ServiceName string

	// ServiceVersion is the reported build version.
	ServiceVersion string

	// Environment distinguishes workstation sessions from CI runs.
	Environment string

	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout", or "none".
	MetricExporter string

	// OTLPEndpoint receives spans when TraceExporter is "otlp".
	OTLPEndpoint string

	// OTLPInsecure skips TLS on the OTLP connection. Local collectors
	// rarely carry certificates.
	OTLPInsecure bool
}

// DefaultConfig returns the workstation defaults. The standard OTel
// variables override the exporter selection and endpoint:
//
//   - OTEL_TRACES_EXPORTER
//   - OTEL_METRICS_EXPORTER
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - ALEUTIAN_ENV
func DefaultConfig() Config {
	return Config{
		ServiceName:    "aleutian-studio",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ALEUTIAN_ENV", "development"),
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", "otlp"),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", "prometheus"),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Init installs the global TracerProvider and MeterProvider. After it
// returns, otel.Tracer and otel.Meter hand out instruments backed by the
// configured exporters. The returned shutdown flushes both providers and
// must run before exit.
//
// Call once at startup.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	var group shutdownGroup

	if cfg.TraceExporter != "none" {
		exporter, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exporter),
			trace.WithResource(res),
			// An authoring session produces few spans; sample them all.
			trace.WithSampler(trace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		group = append(group, tp.Shutdown)
	}

	if cfg.MetricExporter != "none" {
		mp, err := newMeterProvider(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		group = append(group, mp.Shutdown)
	}

	return group.shutdown, nil
}

// shutdownGroup flushes every registered provider, keeping all errors.
type shutdownGroup []func(context.Context) error

func (g shutdownGroup) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range g {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func newSpanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

func newMeterProvider(cfg Config, res *resource.Resource) (*metric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		// The exporter registers with the default registry, so one
		// promhttp handler serves OTel instruments and the promauto
		// counters the components declare.
		setMetricsHandler(promhttp.Handler())
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

var (
	metricsMu      sync.RWMutex
	metricsHandler http.Handler
)

func setMetricsHandler(h http.Handler) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsHandler = h
}

// MetricsHandler returns the handler for the /metrics endpoint, or nil
// until Init has run with the prometheus exporter.
func MetricsHandler() http.Handler {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metricsHandler
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
