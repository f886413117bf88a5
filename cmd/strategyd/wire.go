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
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/strategy"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/config"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/history"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/mcp"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/prompts"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/providers"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
	badgerstore "github.com/AleutianAI/AleutianStrategy/services/strategy/storage/badger"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/telemetry"
)

type appOptions struct {
	catalogPath string
	version     string
}

// app owns every long-lived component of the server.
type app struct {
	cfg         *config.EngineConfig
	service     *strategy.Service
	registry    *registry.Registry
	catalogPath string
	lifecycles  map[string]providers.ModelLifecycleManager
	roles       *providers.RoleConfig
	secrets     *providers.SecretStore
	db          *badgerstore.DB
	influx      *telemetry.TurnRecorder
	wg          sync.WaitGroup
}

// buildApp wires providers, prompts, registry, invoker, engine and history.
func buildApp(ctx context.Context, cfg *config.EngineConfig, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, catalogPath: opts.catalogPath, secrets: providers.NewSecretStore()}

	// LLM roles.
	roles, err := providers.LoadRoleConfig(a.secrets, cfg.Models.Planner, cfg.Models.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("loading role config: %w", err)
	}
	a.roles = roles
	factory := providers.NewProviderFactory(a.secrets, slog.Default())

	plannerClient, err := factory.CreateChatClient(roles.Planner)
	if err != nil {
		return nil, fmt.Errorf("creating planner client: %w", err)
	}
	synthClient, err := factory.CreateChatClient(roles.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer client: %w", err)
	}
	a.lifecycles = make(map[string]providers.ModelLifecycleManager)
	for role, pc := range map[string]providers.ProviderConfig{
		providers.RolePlanner:     roles.Planner,
		providers.RoleSynthesizer: roles.Synthesizer,
	} {
		lm, err := factory.CreateLifecycleManager(pc)
		if err != nil {
			return nil, fmt.Errorf("creating %s lifecycle manager: %w", role, err)
		}
		a.lifecycles[role] = lm
	}
	slog.Info("LLM roles configured",
		slog.String("planner_provider", roles.Planner.Provider),
		slog.String("planner_model", roles.Planner.Model),
		slog.String("synthesizer_provider", roles.Synthesizer.Provider),
		slog.String("synthesizer_model", roles.Synthesizer.Model),
	)

	// Prompts.
	var promptOpts []prompts.StoreOption
	if url := os.Getenv("STRATEGY_PROMPT_SERVICE_URL"); url != "" {
		promptOpts = append(promptOpts, prompts.WithRemote(prompts.NewRemoteSource(url)))
	}
	store, err := prompts.NewStore(promptOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	if path := os.Getenv("STRATEGY_PROMPTS_FILE"); path != "" {
		if err := store.LoadFile(path); err != nil {
			return nil, fmt.Errorf("loading prompt overrides: %w", err)
		}
	}

	// Tool registry.
	source, err := catalogSource(opts.catalogPath, cfg)
	if err != nil {
		return nil, err
	}
	prober := registry.NewHTTPProber()
	prober.Timeout = cfg.Timeouts.Probe
	a.registry = registry.New(
		registry.WithCatalogSource(source),
		registry.WithProber(prober),
		registry.WithEnablePolicy(cfg.Policy()),
		registry.WithServers(cfg.Registry.Servers),
		registry.WithProbeConcurrency(cfg.Registry.ProbeConcurrency),
	)

	invokerOpts := []mcp.Option{}
	if cfg.MCP.RateLimitPerSecond > 0 {
		invokerOpts = append(invokerOpts, mcp.WithRateLimit(cfg.MCP.RateLimitPerSecond, cfg.MCP.RateLimitBurst))
	}
	invoker := mcp.NewInvoker(a.registry, invokerOpts...)

	// Engine.
	ecfg := cfg.Engine()
	orchOpts := []engine.OrchestratorOption{engine.WithApology(ecfg.ApologyMessage)}
	if influxCfg, ok := telemetry.InfluxConfigFromEnv(); ok {
		a.influx = telemetry.NewTurnRecorder(influxCfg, slog.Default())
		orchOpts = append(orchOpts, engine.WithTurnSink(a.influx))
		slog.Info("InfluxDB turn sink enabled", slog.String("bucket", influxCfg.Bucket))
	}
	orch := engine.NewOrchestrator(
		engine.NewPlanner(providers.NewCompleter(plannerClient), store, ecfg),
		engine.NewExecutor(ecfg),
		engine.NewSynthesizer(providers.NewCompleter(synthClient), store, ecfg),
		a.registry,
		invoker,
		orchOpts...,
	)

	// History.
	svcOpts := []strategy.ServiceOption{}
	if dir := historyDir(); dir != "" {
		db, err := badgerstore.OpenDB(badgerstore.DefaultConfig(dir))
		if err != nil {
			slog.Warn("History BadgerDB unavailable, conversation history disabled",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		} else {
			a.db = db
			svcOpts = append(svcOpts, strategy.WithHistory(history.NewStore(db,
				history.WithMaxEntries(cfg.History.MaxEntries),
				history.WithTTL(cfg.History.TTL),
			)))
			slog.Info("History BadgerDB opened", slog.String("path", dir))
		}
	}

	svcCfg := strategy.DefaultServiceConfig()
	svcCfg.RecentHistory = cfg.History.Recent
	svcCfg.Version = opts.version
	svcCfg.Planner = providerInfo(roles.Planner, a.lifecycles[providers.RolePlanner])
	svcCfg.Synthesizer = providerInfo(roles.Synthesizer, a.lifecycles[providers.RoleSynthesizer])
	a.service = strategy.NewService(svcCfg, orch, a.registry, svcOpts...)

	return a, nil
}

func providerInfo(pc providers.ProviderConfig, lm providers.ModelLifecycleManager) strategy.ProviderInfo {
	return strategy.ProviderInfo{Provider: pc.Provider, Model: pc.Model, Local: lm != nil && lm.IsLocal()}
}

// catalogSource picks the catalog source: -catalog file, then
// STRATEGY_CATALOG_GCS, then the management API, then the configured
// servers' own tool descriptions.
func catalogSource(path string, cfg *config.EngineConfig) (registry.CatalogSource, error) {
	if path != "" {
		return &registry.FileCatalogSource{Path: path}, nil
	}
	if uri := os.Getenv("STRATEGY_CATALOG_GCS"); uri != "" {
		src, err := registry.ParseGCSURI(uri)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	mgmt := os.Getenv("STRATEGY_MANAGEMENT_URL")
	if mgmt == "" {
		mgmt = cfg.Registry.ManagementURL
	}
	if mgmt != "" {
		return registry.NewHTTPCatalogSource(mgmt), nil
	}
	if len(cfg.Registry.Servers) > 0 {
		return registry.NewServerDescriptionsSource(cfg.Registry.Servers), nil
	}
	return nil, fmt.Errorf("no tool catalog source: set -catalog, STRATEGY_CATALOG_GCS, STRATEGY_MANAGEMENT_URL or registry.servers")
}

func historyDir() string {
	if dir := os.Getenv("STRATEGY_HISTORY_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aleutian", "strategy", "history")
}

// start launches discovery, the refresh loop, the catalog watcher, Badger GC
// and model warmup.
func (a *app) start(ctx context.Context) {
	a.goSafe("discovery", func() {
		if err := a.registry.Discover(ctx); err != nil {
			slog.Warn("Initial tool discovery failed", slog.String("error", err.Error()))
		}
		stats := a.registry.Stats()
		slog.Info("Tool discovery complete",
			slog.Int("total", stats.Total),
			slog.Int("callable", stats.Callable),
		)
	})

	if interval := a.cfg.Registry.RefreshInterval; interval > 0 {
		a.goSafe("availability refresh", func() { a.registry.Run(ctx, interval) })
	}

	if a.catalogPath != "" {
		a.goSafe("catalog watcher", func() {
			if err := registry.WatchCatalogFile(ctx, a.registry, a.catalogPath, 0); err != nil {
				slog.Warn("Catalog watcher not started", slog.String("error", err.Error()))
			}
		})
	}

	if a.db != nil {
		a.goSafe("badger gc", func() { a.db.RunGC(ctx, 10*time.Minute) })
	}

	a.goSafe("warmup", func() {
		defer a.service.MarkWarm()
		warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		start := time.Now()
		for role, lm := range a.lifecycles {
			model := a.roles.Planner.Model
			if role == providers.RoleSynthesizer {
				model = a.roles.Synthesizer.Model
			}
			if err := lm.WarmModel(warmCtx, model); err != nil {
				slog.Warn("Model warmup failed, serving anyway",
					slog.String("role", role),
					slog.String("model", model),
					slog.String("error", err.Error()),
				)
			}
		}
		slog.Info("Model warmup complete", slog.Duration("duration", time.Since(start)))
	})
}

// goSafe runs fn in a goroutine tracked by a.wg, logging panics.
func (a *app) goSafe(name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("Panic in background goroutine recovered",
					slog.String("goroutine", name),
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
			}
		}()
		fn()
	}()
}

// close stops background work and releases storage. The caller must have
// canceled the context passed to start.
func (a *app) close() {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Warn("Background goroutines did not stop in time")
	}

	if a.influx != nil {
		a.influx.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("Failed to close history BadgerDB", slog.String("error", err.Error()))
		}
	}
	a.secrets.Purge()
}
