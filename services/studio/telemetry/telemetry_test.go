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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	for _, key := range []string{
		"ALEUTIAN_ENV",
		"OTEL_TRACES_EXPORTER",
		"OTEL_METRICS_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}

	cfg := DefaultConfig()
	assert.Equal(t, "aleutian-studio", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
}

func TestDefaultConfigHonorsEnv(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestInitNilContext(t *testing.T) {
	var ctx context.Context

	_, err := Init(ctx, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInitDisabledExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitStdoutTraceExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.NotNil(t, otel.Tracer("studio-test"))
}

func TestInitStdoutMetricExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.NotNil(t, otel.Meter("studio-test"))
}

func TestInitUnknownExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "graphite"

	_, err := Init(context.Background(), cfg)
	require.ErrorIs(t, err, ErrUnknownExporter)
	assert.Contains(t, err.Error(), "unknown exporter type")

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "statsd"

	_, err = Init(context.Background(), cfg)
	require.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitPrometheusExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("studio-test").Int64Counter("studio_test_ops_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestMetricsHandlerNilBeforeInit(t *testing.T) {
	old := MetricsHandler()
	defer setMetricsHandler(old)

	setMetricsHandler(nil)
	assert.Nil(t, MetricsHandler())
}

func TestShutdownGroupKeepsAllErrors(t *testing.T) {
	boom := errors.New("flush failed")
	var ran int

	group := shutdownGroup{
		func(context.Context) error { ran++; return nil },
		func(context.Context) error { ran++; return boom },
		func(context.Context) error { ran++; return nil },
	}

	err := group.shutdown(context.Background())
	assert.Equal(t, 3, ran, "one failure must not stop later flushes")
	assert.ErrorIs(t, err, boom)
}

func TestLoggerWithTraceNoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("load page")

	assert.Contains(t, buf.String(), "load page")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestLoggerWithTraceNilArgs(t *testing.T) {
	var ctx context.Context
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(ctx, logger).Info("still logs")
	assert.Contains(t, buf.String(), "still logs")

	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
}

func TestLoggerWithTraceActiveSpan(t *testing.T) {
	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(ctx, logger).Info("patch element")

	out := buf.String()
	assert.Contains(t, out, "trace_id")
	assert.Contains(t, out, "span_id")
	assert.Contains(t, out, traceID.String())
}

func TestLoggerWithProject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithProject(context.Background(), logger, "crs-42").Info("project loaded")

	assert.Contains(t, buf.String(), `"course_id":"crs-42"`)
}

func TestEnvOr(t *testing.T) {
	assert.Equal(t, "fallback", envOr("STUDIO_TELEMETRY_UNSET_VAR", "fallback"))

	t.Setenv("STUDIO_TELEMETRY_SET_VAR", "custom")
	assert.Equal(t, "custom", envOr("STUDIO_TELEMETRY_SET_VAR", "fallback"))
}
