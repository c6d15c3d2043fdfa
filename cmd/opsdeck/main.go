// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Command opsdeck runs the OpsDeck API server: multi-tenant inventory and
// events with the natural-language copilot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/opsdeckhq/opsdeck/services/auth"
	"github.com/opsdeckhq/opsdeck/services/config"
	"github.com/opsdeckhq/opsdeck/services/copilot"
	"github.com/opsdeckhq/opsdeck/services/events"
	"github.com/opsdeckhq/opsdeck/services/inventory"
	"github.com/opsdeckhq/opsdeck/services/llm"
	"github.com/opsdeckhq/opsdeck/services/runlog"
	"github.com/opsdeckhq/opsdeck/services/store"
)

func main() {
	configFile := flag.String("config", "", "optional config file path")
	listenAddr := flag.String("listen", "", "listen address override")
	debug := flag.Bool("debug", false, "enable debug logging and gin debug mode")
	flag.Parse()

	logger := setupLogging(*debug)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	// W3C trace context propagation; span export is the collector's job.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("database open failed", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer db.Close()

	client, err := llm.NewClient(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel)
	if err != nil {
		logger.Error("llm client setup failed", "error", err)
		os.Exit(1)
	}

	runs := runlog.NewStore(db)
	copilotSvc := copilot.NewService(client, runs, logger)

	authStore := auth.NewStore(db)
	inventoryStore := inventory.NewStore(db)
	eventStore := events.NewStore(db)

	router := setupRouter(*debug)

	v1 := router.Group("/v1")
	auth.NewHandlers(authStore, logger).RegisterRoutes(v1, authStore)

	scoped := v1.Group("", auth.RequireUser(authStore), auth.RequireWorkspace(authStore))
	inventory.NewHandlers(inventoryStore, copilotSvc, logger, cfg.CopilotRPM).RegisterRoutes(scoped)
	events.NewHandlers(eventStore, copilotSvc, logger).RegisterRoutes(scoped)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("opsdeck listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func setupRouter(debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("opsdeck-api"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
