// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// strategyd serves the strategy orchestration engine over HTTP.
//
// Usage:
//
//	strategyd [-port 8090] [-debug] [-config engine.yaml] [-catalog tools.yaml]
//
// Environment:
//
//	STRATEGY_PLANNER_PROVIDER / _MODEL / _BASE_URL      - planner LLM backend
//	STRATEGY_SYNTHESIZER_PROVIDER / _MODEL / _BASE_URL  - synthesizer LLM backend
//	OLLAMA_BASE_URL, OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY
//	STRATEGY_MANAGEMENT_URL      - management API serving GET /api/tools
//	STRATEGY_CATALOG_GCS         - gs://bucket/object YAML catalog
//	STRATEGY_PROMPT_SERVICE_URL  - remote prompt service
//	STRATEGY_PROMPTS_FILE        - local prompt template overrides
//	STRATEGY_HISTORY_DIR         - BadgerDB directory for conversation history
//	STRATEGY_INFLUX_URL / _TOKEN / _ORG / _BUCKET - per-turn latency sink
//	OTEL_EXPORTER_OTLP_ENDPOINT  - OTLP gRPC trace collector
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

	"github.com/AleutianAI/AleutianStrategy/services/strategy"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/config"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	port := flag.Int("port", 8090, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configPath := flag.String("config", "", "Engine config YAML overlaid on the embedded defaults")
	catalogPath := flag.String("catalog", "", "YAML tool catalog file (watched for changes)")
	flag.Parse()

	setupLogging(*debug)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg := telemetry.ConfigFromEnv("strategyd")
	otelCfg.ServiceVersion = version
	providers, err := telemetry.Setup(ctx, otelCfg)
	if err != nil {
		slog.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var engineCfg *config.EngineConfig
	if *configPath != "" {
		engineCfg, err = config.LoadEngineConfigFile(ctx, *configPath)
	} else {
		engineCfg, err = config.GetEngineConfig(ctx)
	}
	if err != nil {
		slog.Error("Failed to load engine config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srvApp, err := buildApp(ctx, engineCfg, appOptions{catalogPath: *catalogPath, version: version})
	if err != nil {
		slog.Error("Failed to build service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("strategyd"))
	if *debug {
		router.Use(gin.Logger())
	}
	strategy.RegisterRoutes(router, strategy.NewHandlers(srvApp.service))

	srvApp.start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting strategy server",
			slog.String("address", srv.Addr),
			slog.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down strategy server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	srvApp.close()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Telemetry shutdown incomplete", slog.String("error", err.Error()))
	}
}

// setupLogging installs the default slog handler: JSON in release mode,
// text at debug level with -debug.
func setupLogging(debug bool) {
	var handler slog.Handler
	if debug {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}
