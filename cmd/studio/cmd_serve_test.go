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
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newTestCore assembles an in-memory core with no settings file and no
// data directory, and tears it down with the test.
func newTestCore(t *testing.T) *core {
	t.Helper()

	serveSettings = ""
	serveDataDir = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := assembleCore(context.Background(), logger)
	if err != nil {
		t.Fatalf("assembleCore: %v", err)
	}
	t.Cleanup(func() { c.shutdown(logger) })
	return c
}

func serveRequest(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServeHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	rec := serveRequest(t, router, "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["project_loaded"] != false {
		t.Error("project_loaded should be false before a load")
	}
}

func TestServeProjectBeforeAndAfterLoad(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	rec := serveRequest(t, router, "/v1/studio/project")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before load = %d, want %d", rec.Code, http.StatusNotFound)
	}

	if err := c.store.Load(testCourse()); err != nil {
		t.Fatalf("load course: %v", err)
	}

	rec = serveRequest(t, router, "/v1/studio/project")
	if rec.Code != http.StatusOK {
		t.Fatalf("status after load = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["id"] != "crs-1" {
		t.Errorf("id = %v, want crs-1", body["id"])
	}
	if body["modules"] != float64(2) || body["pages"] != float64(2) || body["elements"] != float64(4) {
		t.Errorf("counts = %v/%v/%v, want 2 modules, 2 pages, 4 elements",
			body["modules"], body["pages"], body["elements"])
	}
}

func TestServePagePaintOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	if err := c.store.Load(testCourse()); err != nil {
		t.Fatalf("load course: %v", err)
	}

	rec := serveRequest(t, router, "/v1/studio/project/pages/pag-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		ID       string       `json:"id"`
		Elements []ElementRow `json:"elements"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.ID != "pag-1" {
		t.Errorf("id = %s, want pag-1", body.ID)
	}
	want := []string{"el-1", "el-3", "el-2"}
	for i, id := range want {
		if body.Elements[i].ID != id {
			t.Errorf("paint order[%d] = %s, want %s", i, body.Elements[i].ID, id)
		}
	}

	rec = serveRequest(t, router, "/v1/studio/project/pages/pag-99")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown page status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeSettingsSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	rec := serveRequest(t, router, "/v1/studio/settings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["generation"] != float64(1) {
		t.Errorf("generation = %v, want 1", body["generation"])
	}
	if body["source"] != "embedded" {
		t.Errorf("source = %v, want embedded with no settings file", body["source"])
	}
}

func TestServeMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	rec := serveRequest(t, router, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "# HELP") {
		t.Error("metrics output should be Prometheus text format")
	}
}

func TestServeEventsBuffer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := newTestCore(t)
	router := newRouter(c, promhttp.Handler())

	if err := c.store.Load(testCourse()); err != nil {
		t.Fatalf("load course: %v", err)
	}

	rec := serveRequest(t, router, "/v1/studio/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "project.loaded") {
		t.Error("event buffer should record the project load")
	}

	rec = serveRequest(t, router, "/v1/studio/events?since=not-a-time")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
