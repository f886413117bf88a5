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

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// ProviderFactory creates chat clients and lifecycle managers from
// per-role ProviderConfig values.
//
// Thread Safety: ProviderFactory is safe for concurrent use after construction.
type ProviderFactory struct {
	secrets *SecretStore
	logger  *slog.Logger
}

// NewProviderFactory creates a new ProviderFactory.
//
// Inputs:
//   - secrets: Store holding API keys. May be nil when only Ollama is used.
//   - logger: Logger for lifecycle adapters. Nil uses slog.Default().
//
// Outputs:
//   - *ProviderFactory: Configured factory.
func NewProviderFactory(secrets *SecretStore, logger *slog.Logger) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{secrets: secrets, logger: logger}
}

// apiKey opens cfg.KeyName from the secret store.
func (f *ProviderFactory) apiKey(cfg ProviderConfig, required bool) (string, error) {
	if cfg.KeyName == "" || f.secrets == nil || !f.secrets.Has(cfg.KeyName) {
		if required {
			return "", fmt.Errorf("%s required for %s provider", cfg.KeyName, cfg.Provider)
		}
		return "", nil
	}
	return f.secrets.Open(cfg.KeyName)
}

// CreateChatClient creates a ChatClient adapter for the given provider config.
//
// Inputs:
//   - cfg: Provider configuration specifying provider type and model.
//
// Outputs:
//   - *ChatAdapter: The chat adapter for the specified provider.
//   - error: Non-nil if the provider is unsupported, the model is empty,
//     or a required API key is missing.
//
// Example:
//
//	client, err := factory.CreateChatClient(ProviderConfig{
//	    Provider: "anthropic",
//	    Model:    "claude-haiku-4-5-20251001",
//	    KeyName:  EnvAnthropicKey,
//	})
func (f *ProviderFactory) CreateChatClient(cfg ProviderConfig) (*ChatAdapter, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model required for %s provider", cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		client := llm.NewOllamaClient(baseURL, cfg.Model)
		client.KeepAlive = cfg.KeepAlive
		client.NumCtx = cfg.NumCtx
		return NewChatAdapter(ProviderOllama, client), nil

	case ProviderAnthropic:
		key, err := f.apiKey(cfg, true)
		if err != nil {
			return nil, err
		}
		return NewChatAdapter(ProviderAnthropic, llm.NewAnthropicClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	case ProviderOpenAI:
		key, err := f.apiKey(cfg, true)
		if err != nil {
			return nil, err
		}
		return NewChatAdapter(ProviderOpenAI, llm.NewOpenAIClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	case ProviderGemini:
		key, err := f.apiKey(cfg, true)
		if err != nil {
			return nil, err
		}
		return NewChatAdapter(ProviderGemini, llm.NewGeminiClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	case ProviderLangChain:
		key, err := f.apiKey(cfg, false)
		if err != nil {
			return nil, err
		}
		client, err := llm.NewLangChainClient(cfg.BaseURL, cfg.Model, key)
		if err != nil {
			return nil, fmt.Errorf("creating langchain client: %w", err)
		}
		return NewChatAdapter(ProviderLangChain, client), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// CreateLifecycleManager creates a ModelLifecycleManager for the given provider.
//
// Ollama gets a Ping-based manager; every other provider gets a no-op.
func (f *ProviderFactory) CreateLifecycleManager(cfg ProviderConfig) (ModelLifecycleManager, error) {
	switch cfg.Provider {
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		return NewOllamaLifecycleAdapter(llm.NewOllamaClient(baseURL, cfg.Model), f.logger), nil
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderLangChain:
		return NewCloudLifecycleAdapter(cfg.Provider, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}
