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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/studio/autosave"
	"github.com/AleutianAI/AleutianStudio/services/studio/docstore"
	"github.com/AleutianAI/AleutianStudio/services/studio/events"
	"github.com/AleutianAI/AleutianStudio/services/studio/history"
	"github.com/AleutianAI/AleutianStudio/services/studio/ident"
	"github.com/AleutianAI/AleutianStudio/services/studio/project"
	"github.com/AleutianAI/AleutianStudio/services/studio/settings"
	"github.com/AleutianAI/AleutianStudio/services/studio/spatial"
	storage "github.com/AleutianAI/AleutianStudio/services/studio/storage/badger"
	"github.com/AleutianAI/AleutianStudio/services/studio/telemetry"
	"github.com/AleutianAI/AleutianStudio/services/studio/timeline"
	"github.com/AleutianAI/AleutianStudio/services/studio/transform"
	"github.com/AleutianAI/AleutianStudio/services/studio/validate"
	"github.com/AleutianAI/AleutianStudio/services/studio/variables"
	"github.com/AleutianAI/AleutianStudio/services/studio/viewport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// core bundles the assembled editor components behind the debug server.
type core struct {
	store     *project.Store
	history   *history.Engine
	batcher   *transform.Batcher
	saver     *autosave.Dispatcher
	settings  *settings.Store
	watcher   *settings.Watcher
	emitter   *events.Emitter
	timelines *timeline.Registry
	vars      *variables.Registry
	db        *storage.DB
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	startedAt time.Time
}

// runServe assembles the editor core from settings and exposes it over
// a local gin server: /healthz, /metrics, and read-only project state
// under /v1/studio.
func runServe(cmd *cobra.Command, args []string) {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
		logLevel = "debug"
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	sessionLogger := newSessionLogger()
	logger := sessionLogger.Slog()

	ctx := cmd.Context()

	tcfg := telemetry.DefaultConfig()
	if os.Getenv("OTEL_TRACES_EXPORTER") == "" {
		// A workstation rarely has a collector listening; metrics stay on.
		tcfg.TraceExporter = "none"
	}
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		logger.Error("telemetry init failed", slog.String("error", err.Error()))
		os.Exit(CLIExitError)
	}

	c, err := assembleCore(ctx, logger)
	if err != nil {
		logger.Error("assembly failed", slog.String("error", err.Error()))
		os.Exit(CLIExitError)
	}

	if serveProject != "" {
		if err := c.loadProject(ctx, serveProject, logger); err != nil {
			logger.Error("project load failed",
				slog.String("file", serveProject),
				slog.String("error", err.Error()))
			os.Exit(CLIExitError)
		}
	}

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		// Component counters live on the default registry either way.
		metricsHandler = promhttp.Handler()
	}
	router := newRouter(c, metricsHandler)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down studio server")
		c.shutdown(logger)
		if shutdownTelemetry != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}
		_ = sessionLogger.Close()
		os.Exit(0)
	}()

	logger.Info("starting studio debug server",
		slog.String("address", serveAddr),
		slog.String("project", serveProject))
	if err := router.Run(serveAddr); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(CLIExitError)
	}
}

// newRouter registers the debug server routes over an assembled core.
func newRouter(c *core, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-studio"))
	router.Use(requestMetrics(c.metrics))
	router.Use(requestLog(c.logger))

	router.GET("/healthz", c.handleHealthz)
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1/studio")
	{
		v1.GET("/project", c.handleProject)
		v1.GET("/project/pages/:id", c.handlePage)
		v1.GET("/settings", c.handleSettings)
		v1.GET("/events", c.handleEvents)
	}
	return router
}

// requestLog emits one debug record per request. When a trace exporter
// is configured the record carries the active span's trace_id, so server
// logs line up with spans.
func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(g *gin.Context) {
		start := time.Now()
		g.Next()
		telemetry.LoggerWithTrace(g.Request.Context(), logger).Debug("request",
			slog.String("method", g.Request.Method),
			slog.String("path", g.Request.URL.Path),
			slog.Int("status", g.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

// requestMetrics records the request instruments. Labels key on the
// route template so parameterized paths share one series; requests that
// match no route collapse into one.
func requestMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(g *gin.Context) {
		ctx := g.Request.Context()
		start := time.Now()
		m.HTTPActiveRequests.Add(ctx, 1)
		g.Next()
		m.HTTPActiveRequests.Add(ctx, -1)

		route := g.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("http.method", g.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", g.Writer.Status()))
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// assembleCore builds every editor component and wires them together,
// mapping the settings snapshot onto each component's configuration.
func assembleCore(ctx context.Context, logger *slog.Logger) (*core, error) {
	emitter := events.NewEmitter(events.WithLogger(logger))

	httpMetrics, err := telemetry.NewMetrics(otel.Meter("studio.http"))
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	settingsStore, err := settings.New(settings.Config{
		Path:    serveSettings,
		Emitter: emitter,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	snap := settingsStore.Snapshot()

	var watcher *settings.Watcher
	if settingsStore.Path() != "" {
		watcher, err = settings.NewWatcher(settingsStore, settings.WatcherConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("settings watcher: %w", err)
		}
		watcher.Start(ctx)
	}

	dbCfg := storage.InMemoryConfig()
	if serveDataDir != "" {
		dbCfg = storage.DefaultConfig()
		dbCfg.Path = serveDataDir
	}
	dbCfg.Logger = logger
	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	docs, err := docstore.New(db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("document store: %w", err)
	}

	ids := ident.NewGenerator(ident.Config{DB: db, Logger: logger})
	timelines := timeline.NewRegistry(timeline.Config{IDs: ids, Emitter: emitter, Logger: logger})
	vars := variables.NewRegistry(variables.Config{IDs: ids, Logger: logger})

	saver, err := autosave.NewDispatcher(autosave.Config{
		Sink:   docs,
		Rate:   rate.Limit(snap.Settings.Autosave.Rate),
		Burst:  snap.Settings.Autosave.Burst,
		Logger: logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("autosave: %w", err)
	}

	store := project.NewStore(project.Config{
		IDs:       ids,
		Timelines: timelines,
		Emitter:   emitter,
		Saver:     saver,
		Logger:    logger,
	})

	engine, err := history.NewEngine(history.Config{
		Model:        store,
		Depth:        snap.Settings.History.Depth,
		SquashWindow: snap.Settings.History.SquashWindow(),
		Saver:        saver,
		Emitter:      emitter,
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: %w", err)
	}

	spatialCfg := spatial.DefaultConfig()
	spatialCfg.EnableThreshold = snap.Settings.Spatial.EnableThreshold
	spatialCfg.CellSize = snap.Settings.Spatial.CellSize
	index, err := spatial.New(spatialCfg, store, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("spatial index: %w", err)
	}

	viewCfg := viewport.DefaultConfig()
	viewCfg.Margin = snap.Settings.Viewport.Margin
	visible := viewport.NewCache(viewCfg, store, logger)

	store.AttachHistory(engine)
	store.AttachIndexes(index, visible)

	batcher, err := transform.NewBatcher(store, &transform.Options{
		FrameInterval: snap.Settings.Transform.FrameInterval(),
		Logger:        logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("transform batcher: %w", err)
	}
	if err := batcher.Start(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transform batcher: %w", err)
	}

	return &core{
		store:     store,
		history:   engine,
		batcher:   batcher,
		saver:     saver,
		settings:  settingsStore,
		watcher:   watcher,
		emitter:   emitter,
		timelines: timelines,
		vars:      vars,
		db:        db,
		logger:    logger,
		metrics:   httpMetrics,
		startedAt: time.Now(),
	}, nil
}

// loadProject validates and installs a project document.
func (c *core) loadProject(ctx context.Context, file string, logger *slog.Logger) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	validator := validate.New(validate.Config{Logger: logger})
	res, err := validator.Document(ctx, raw)
	if err != nil {
		return err
	}
	if err := c.store.LoadMigrated(res.Course, res.MigratedFrom); err != nil {
		return err
	}

	telemetry.LoggerWithProject(ctx, logger, c.store.ProjectID()).Info("project loaded",
		slog.String("file", file),
		slog.Int("migrated_from", res.MigratedFrom))
	return nil
}

// shutdown stops the workers in dependency order: the batcher flushes
// its last frame, the dispatcher drains pending saves, then storage
// closes.
func (c *core) shutdown(logger *slog.Logger) {
	c.batcher.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.saver.Close(drainCtx); err != nil {
		logger.Warn("autosave drain incomplete", slog.String("error", err.Error()))
	}

	if c.watcher != nil {
		c.watcher.Stop()
	}
	if err := c.db.Close(); err != nil {
		logger.Warn("database close failed", slog.String("error", err.Error()))
	}
}
