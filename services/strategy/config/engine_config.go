// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the strategy engine's tuning configuration.
//
// Defaults are embedded from engine_defaults.yaml and cached process-wide
// by GetEngineConfig. LoadEngineConfigFile overlays an operator file on top
// of the defaults.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed engine_defaults.yaml
var defaultEngineYAML []byte

// MaxYAMLFileSize bounds any config file read from disk.
const MaxYAMLFileSize = 1 << 20

var configTracer = otel.Tracer("strategy.config")

// =============================================================================
// Engine Configuration Types
// =============================================================================

// EngineConfig is the full engine configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type EngineConfig struct {
	Planning  CompletionConfig `yaml:"planning"`
	Synthesis CompletionConfig `yaml:"synthesis"`
	Timeouts  TimeoutConfig    `yaml:"timeouts"`
	Models    ModelConfig      `yaml:"models"`
	Registry  RegistryConfig   `yaml:"registry"`
	MCP       MCPConfig        `yaml:"mcp"`
	History   HistoryConfig    `yaml:"history"`
	Messages  MessageConfig    `yaml:"messages"`
}

// CompletionConfig holds the sampling settings for one LLM stage.
type CompletionConfig struct {
	MaxTokens   int     `yaml:"max_tokens" validate:"gt=0"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// TimeoutConfig bounds LLM calls, tool calls and availability probes.
type TimeoutConfig struct {
	LLM   time.Duration `yaml:"llm" validate:"gt=0"`
	Tool  time.Duration `yaml:"tool" validate:"gt=0"`
	Probe time.Duration `yaml:"probe" validate:"gt=0"`
}

// ModelConfig names the fallback model per role. STRATEGY_<ROLE>_MODEL
// takes precedence.
type ModelConfig struct {
	Planner     string `yaml:"planner"`
	Synthesizer string `yaml:"synthesizer"`
}

// RegistryConfig configures catalog loading and availability probing.
type RegistryConfig struct {
	// ManagementURL is the base URL of the management API serving /api/tools.
	ManagementURL string `yaml:"management_url" validate:"omitempty,url"`

	// EnablePolicy is "available", "all" or "none".
	EnablePolicy string `yaml:"enable_policy" validate:"oneof=available all none"`

	RefreshInterval  time.Duration `yaml:"refresh_interval" validate:"gte=0"`
	ProbeConcurrency int           `yaml:"probe_concurrency" validate:"gt=0"`

	// Servers maps MCP server names to base URLs.
	Servers map[string]string `yaml:"servers" validate:"dive,keys,required,endkeys,url"`
}

// MCPConfig configures the tool invoker.
type MCPConfig struct {
	// RateLimitPerSecond of zero disables per-server limiting.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" validate:"gte=0"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" validate:"gte=1"`
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	MaxEntries int           `yaml:"max_entries" validate:"gt=0"`
	Recent     int           `yaml:"recent" validate:"gt=0"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
}

// MessageConfig holds user-facing fallback texts.
type MessageConfig struct {
	Apology            string `yaml:"apology" validate:"required"`
	ParseFailureAdvice string `yaml:"parse_failure_advice" validate:"required"`
}

// Engine converts the configuration into engine.Config.
func (c *EngineConfig) Engine() engine.Config {
	return engine.Config{
		PlanMaxTokens:      c.Planning.MaxTokens,
		PlanTemperature:    c.Planning.Temperature,
		SynthMaxTokens:     c.Synthesis.MaxTokens,
		SynthTemperature:   c.Synthesis.Temperature,
		LLMTimeout:         c.Timeouts.LLM,
		ToolTimeout:        c.Timeouts.Tool,
		ApologyMessage:     c.Messages.Apology,
		ParseFailureAdvice: c.Messages.ParseFailureAdvice,
	}
}

// Policy returns the parsed registry enable policy.
func (c *EngineConfig) Policy() registry.EnablePolicy {
	if p, ok := registry.ParseEnablePolicy(c.Registry.EnablePolicy); ok {
		return p
	}
	return registry.EnableAvailable
}

// =============================================================================
// Singleton Engine Config
// =============================================================================

var (
	engineConfigMu      sync.RWMutex
	engineConfigOnce    sync.Once
	cachedEngineConfig  *EngineConfig
	engineConfigLoadErr error
)

// GetEngineConfig returns the cached embedded engine configuration.
//
// Description:
//
//	Loads the embedded defaults on first call and caches for subsequent
//	calls.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*EngineConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetEngineConfig(ctx context.Context) (*EngineConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetEngineConfig: ctx must not be nil")
	}

	engineConfigMu.RLock()
	if cachedEngineConfig != nil || engineConfigLoadErr != nil {
		cfg, err := cachedEngineConfig, engineConfigLoadErr
		engineConfigMu.RUnlock()
		return cfg, err
	}
	engineConfigMu.RUnlock()

	engineConfigMu.Lock()
	defer engineConfigMu.Unlock()

	engineConfigOnce.Do(func() {
		cachedEngineConfig, engineConfigLoadErr = LoadEngineConfig(ctx, defaultEngineYAML)
	})

	return cachedEngineConfig, engineConfigLoadErr
}

// ResetEngineConfig clears the cached config so tests can reload.
//
// Thread Safety: Safe for concurrent use.
func ResetEngineConfig() {
	engineConfigMu.Lock()
	defer engineConfigMu.Unlock()
	cachedEngineConfig = nil
	engineConfigLoadErr = nil
	engineConfigOnce = sync.Once{}
}

// LoadEngineConfig parses and validates YAML layered over the embedded
// defaults.
//
// Description:
//
//	The embedded defaults are decoded first, then data is decoded into the
//	same struct, so data only needs the keys it changes. Unknown keys are
//	rejected so typos surface at startup.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes. Empty data yields the defaults.
//
// Outputs:
//
//	*EngineConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadEngineConfig(ctx context.Context, data []byte) (*EngineConfig, error) {
	_, span := configTracer.Start(ctx, "config.LoadEngineConfig")
	defer span.End()

	if len(data) > MaxYAMLFileSize {
		err := fmt.Errorf("LoadEngineConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var cfg EngineConfig
	if err := decodeStrict(defaultEngineYAML, &cfg); err != nil {
		return nil, fmt.Errorf("LoadEngineConfig: parsing embedded defaults: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decodeStrict(data, &cfg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("LoadEngineConfig: parsing YAML: %w", err)
		}
	}

	if cfg.Registry.Servers == nil {
		cfg.Registry.Servers = map[string]string{}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("LoadEngineConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("plan_max_tokens", cfg.Planning.MaxTokens),
		attribute.Int("synth_max_tokens", cfg.Synthesis.MaxTokens),
		attribute.String("enable_policy", cfg.Registry.EnablePolicy),
		attribute.Int("servers", len(cfg.Registry.Servers)),
	)

	slog.Info("engine config loaded",
		slog.Duration("llm_timeout", cfg.Timeouts.LLM),
		slog.Duration("tool_timeout", cfg.Timeouts.Tool),
		slog.String("enable_policy", cfg.Registry.EnablePolicy),
		slog.Int("servers", len(cfg.Registry.Servers)),
	)

	return &cfg, nil
}

// LoadEngineConfigFile reads path and overlays it on the defaults.
func LoadEngineConfigFile(ctx context.Context, path string) (*EngineConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("LoadEngineConfigFile: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadEngineConfigFile: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadEngineConfigFile: %w", err)
	}
	cfg, err := LoadEngineConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeStrict(data []byte, out *EngineConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
