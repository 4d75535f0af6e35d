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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealthz handles GET /healthz.
func (c *core) handleHealthz(g *gin.Context) {
	g.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(c.startedAt).Seconds()),
		"project_loaded": c.store.ProjectID() != "",
	})
}

// handleProject handles GET /v1/studio/project. Returns a read-only
// summary of the loaded course, or 404 when no project is open.
func (c *core) handleProject(g *gin.Context) {
	snap, ok := c.store.CourseSnapshot()
	if !ok {
		g.JSON(http.StatusNotFound, gin.H{"error": "no project loaded"})
		return
	}

	modules := len(snap.Modules)
	lessons, pages, elements := 0, 0, 0
	for _, m := range snap.Modules {
		lessons += len(m.Lessons)
		for _, l := range m.Lessons {
			pages += len(l.Pages)
			for _, p := range l.Pages {
				elements += len(p.Elements)
			}
		}
	}

	g.JSON(http.StatusOK, gin.H{
		"id":         snap.ID,
		"title":      snap.Title,
		"version":    snap.Version,
		"published":  snap.Published,
		"updated_at": snap.UpdatedAt,
		"modules":    modules,
		"lessons":    lessons,
		"pages":      pages,
		"elements":   elements,
		"timelines":  c.timelines.Count(),
		"variables":  c.vars.Count(),
	})
}

// handlePage handles GET /v1/studio/project/pages/:id. Returns one
// page's elements in paint order plus its co-versioned timelines.
func (c *core) handlePage(g *gin.Context) {
	pageID := g.Param("id")

	page, ok := c.store.PageState(pageID)
	if !ok {
		g.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}

	timelines := c.timelines.ForPage(pageID)
	names := make([]string, 0, len(timelines))
	for _, rec := range timelines {
		names = append(names, rec.Name)
	}

	g.JSON(http.StatusOK, gin.H{
		"id":         page.ID,
		"name":       page.Name,
		"background": page.Background,
		"generation": c.store.PageGeneration(pageID),
		"elements":   paintOrder(page),
		"timelines":  names,
	})
}

// handleSettings handles GET /v1/studio/settings. Shows the standing
// snapshot; the generation ticks on every hot reload.
func (c *core) handleSettings(g *gin.Context) {
	snap := c.settings.Snapshot()
	g.JSON(http.StatusOK, gin.H{
		"generation": snap.Generation,
		"source":     snap.Source,
		"loaded_at":  snap.LoadedAt,
		"path":       c.settings.Path(),
		"settings":   snap.Settings,
	})
}

// handleEvents handles GET /v1/studio/events. Returns the emitter's
// recent event buffer, optionally bounded by ?since=<RFC3339>.
func (c *core) handleEvents(g *gin.Context) {
	if raw := g.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		g.JSON(http.StatusOK, gin.H{"events": c.emitter.GetBufferSince(since)})
		return
	}
	g.JSON(http.StatusOK, gin.H{"events": c.emitter.GetBuffer()})
}
