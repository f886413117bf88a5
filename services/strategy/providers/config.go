// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Provider constants for supported LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderLangChain = "langchain"
)

// Role constants for LLM roles in the strategy engine.
const (
	RolePlanner     = "PLANNER"
	RoleSynthesizer = "SYNTHESIZER"
)

// API key environment variables, also used as SecretStore names.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvLangChainKey = "STRATEGY_LANGCHAIN_API_KEY"
)

// ProviderConfig holds the configuration for a single LLM provider instance.
//
// Description:
//
//	Specifies which provider to use, which model, and any provider-specific
//	settings. API keys are never stored here: KeyName names the entry in
//	the SecretStore that ProviderFactory opens when it builds the client.
type ProviderConfig struct {
	// Provider is the backend: "ollama", "anthropic", "openai", "gemini", "langchain".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// BaseURL is an optional endpoint override. Required for langchain.
	BaseURL string

	// KeyName is the SecretStore entry holding the API key.
	KeyName string

	// KeepAlive controls model VRAM lifetime (Ollama-specific).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int
}

// RoleConfig holds per-role provider configurations.
type RoleConfig struct {
	Planner     ProviderConfig
	Synthesizer ProviderConfig
}

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderLangChain}

// isValidProvider checks if a provider name is valid.
func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// ResolveOllamaURL resolves the Ollama server URL from environment variables.
//
// Description:
//
//	Resolution order:
//	  1. OLLAMA_BASE_URL (preferred)
//	  2. OLLAMA_URL (deprecated, emits warning)
//	  3. http://localhost:11434 (default)
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name prefix.
//
// Description:
//
//	Maps known model name prefixes to provider names:
//	  - "claude-*" -> "anthropic"
//	  - "gpt-*", "o1*", "o3*" -> "openai"
//	  - "gemini-*" -> "gemini"
//	  - anything else -> "" (unknown)
//
//	Used by the status endpoint for display. It is never auto-applied.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	default:
		return ""
	}
}

// LoadRoleConfig reads per-role provider configuration from environment
// variables and seals any API keys it finds into secrets.
//
// Description:
//
//	Reads STRATEGY_<ROLE>_PROVIDER, STRATEGY_<ROLE>_MODEL and
//	STRATEGY_<ROLE>_BASE_URL for each role.
//
// Resolution order:
//  1. STRATEGY_<ROLE>_PROVIDER -> explicit provider
//  2. Fallback: "ollama"
//  3. STRATEGY_<ROLE>_MODEL -> explicit model
//  4. Fallback: the model passed in (usually from the engine config file)
//
// Inputs:
//   - secrets: Receives API keys from the environment. Must not be nil.
//   - plannerFallback: Model for the planner when the env var is unset.
//   - synthesizerFallback: Model for the synthesizer when the env var is unset.
//
// Outputs:
//   - *RoleConfig: Per-role configurations.
//   - error: Non-nil if an invalid provider is specified or a model is missing.
//
// Example:
//
//	cfg, err := LoadRoleConfig(secrets, "llama3.1:8b", "llama3.1:8b")
func LoadRoleConfig(secrets *SecretStore, plannerFallback, synthesizerFallback string) (*RoleConfig, error) {
	planner, err := loadSingleRoleConfig(secrets, RolePlanner, plannerFallback)
	if err != nil {
		return nil, fmt.Errorf("loading planner role config: %w", err)
	}

	synth, err := loadSingleRoleConfig(secrets, RoleSynthesizer, synthesizerFallback)
	if err != nil {
		return nil, fmt.Errorf("loading synthesizer role config: %w", err)
	}

	return &RoleConfig{Planner: planner, Synthesizer: synth}, nil
}

// loadSingleRoleConfig loads configuration for a single role.
func loadSingleRoleConfig(secrets *SecretStore, role, modelFallback string) (ProviderConfig, error) {
	providerEnv := fmt.Sprintf("STRATEGY_%s_PROVIDER", role)
	modelEnv := fmt.Sprintf("STRATEGY_%s_MODEL", role)
	baseURLEnv := fmt.Sprintf("STRATEGY_%s_BASE_URL", role)

	explicitProvider := os.Getenv(providerEnv)
	provider := explicitProvider
	if provider == "" {
		provider = ProviderOllama
	}

	if !isValidProvider(provider) {
		return ProviderConfig{}, fmt.Errorf("invalid provider %q for %s (valid: %v)", provider, providerEnv, ValidProviders)
	}

	model := os.Getenv(modelEnv)
	if model == "" {
		model = modelFallback
	}

	cfg := ProviderConfig{
		Provider: provider,
		Model:    model,
		BaseURL:  os.Getenv(baseURLEnv),
	}

	switch provider {
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = ResolveOllamaURL()
		}
	case ProviderAnthropic:
		cfg.KeyName = EnvAnthropicKey
	case ProviderOpenAI:
		cfg.KeyName = EnvOpenAIKey
	case ProviderGemini:
		cfg.KeyName = EnvGeminiKey
	case ProviderLangChain:
		cfg.KeyName = EnvLangChainKey
		if cfg.BaseURL == "" {
			return ProviderConfig{}, fmt.Errorf("%s is %q but %s is not set", providerEnv, provider, baseURLEnv)
		}
	}
	if cfg.KeyName != "" && secrets != nil {
		secrets.PutEnv(cfg.KeyName)
	}

	if explicitProvider != "" && cfg.Model == "" {
		return ProviderConfig{}, fmt.Errorf(
			"%s is %q but no model specified (set %s or pass fallback)",
			providerEnv, provider, modelEnv,
		)
	}

	return cfg, nil
}
