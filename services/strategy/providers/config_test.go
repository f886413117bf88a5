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
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Config Tests
// =============================================================================

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-haiku-4-5-20251001", ProviderAnthropic},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-1.5-flash", ProviderGemini},
		{"llama3.1:8b", ""},
	}
	for _, tt := range tests {
		if got := InferProvider(tt.model); got != tt.want {
			t.Errorf("InferProvider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestResolveOllamaURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("OLLAMA_URL", "")
	if got := ResolveOllamaURL(); got != "http://localhost:11434" {
		t.Errorf("default = %q", got)
	}

	t.Setenv("OLLAMA_URL", "http://legacy:11434")
	if got := ResolveOllamaURL(); got != "http://legacy:11434" {
		t.Errorf("legacy = %q", got)
	}

	t.Setenv("OLLAMA_BASE_URL", "http://gpu:11434")
	if got := ResolveOllamaURL(); got != "http://gpu:11434" {
		t.Errorf("preferred = %q", got)
	}
}

func clearRoleEnv(t *testing.T) {
	t.Helper()
	for _, role := range []string{RolePlanner, RoleSynthesizer} {
		t.Setenv("STRATEGY_"+role+"_PROVIDER", "")
		t.Setenv("STRATEGY_"+role+"_MODEL", "")
		t.Setenv("STRATEGY_"+role+"_BASE_URL", "")
	}
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
}

func TestLoadRoleConfig_Defaults(t *testing.T) {
	clearRoleEnv(t)

	cfg, err := LoadRoleConfig(NewSecretStore(), "llama3.1:8b", "qwen2.5:7b")
	if err != nil {
		t.Fatalf("LoadRoleConfig() error: %v", err)
	}
	if cfg.Planner.Provider != ProviderOllama || cfg.Planner.Model != "llama3.1:8b" {
		t.Errorf("planner = %+v", cfg.Planner)
	}
	if cfg.Synthesizer.Model != "qwen2.5:7b" {
		t.Errorf("synthesizer model = %q", cfg.Synthesizer.Model)
	}
	if cfg.Planner.BaseURL != "http://ollama:11434" {
		t.Errorf("planner base url = %q", cfg.Planner.BaseURL)
	}
}

func TestLoadRoleConfig_CloudProviderSealsKey(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("STRATEGY_SYNTHESIZER_PROVIDER", ProviderAnthropic)
	t.Setenv("STRATEGY_SYNTHESIZER_MODEL", "claude-haiku-4-5-20251001")
	t.Setenv(EnvAnthropicKey, "sk-ant-test")

	secrets := NewSecretStore()
	cfg, err := LoadRoleConfig(secrets, "llama3.1:8b", "llama3.1:8b")
	if err != nil {
		t.Fatalf("LoadRoleConfig() error: %v", err)
	}
	if cfg.Synthesizer.KeyName != EnvAnthropicKey {
		t.Errorf("key name = %q", cfg.Synthesizer.KeyName)
	}
	key, err := secrets.Open(EnvAnthropicKey)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if key != "sk-ant-test" {
		t.Errorf("key = %q", key)
	}
}

func TestLoadRoleConfig_Errors(t *testing.T) {
	t.Run("invalid provider", func(t *testing.T) {
		clearRoleEnv(t)
		t.Setenv("STRATEGY_PLANNER_PROVIDER", "mystery")
		_, err := LoadRoleConfig(NewSecretStore(), "m", "m")
		if err == nil || !strings.Contains(err.Error(), "invalid provider") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("explicit provider without model", func(t *testing.T) {
		clearRoleEnv(t)
		t.Setenv("STRATEGY_PLANNER_PROVIDER", ProviderOpenAI)
		_, err := LoadRoleConfig(NewSecretStore(), "", "m")
		if err == nil || !strings.Contains(err.Error(), "no model specified") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("langchain without base url", func(t *testing.T) {
		clearRoleEnv(t)
		t.Setenv("STRATEGY_SYNTHESIZER_PROVIDER", ProviderLangChain)
		t.Setenv("STRATEGY_SYNTHESIZER_MODEL", "local")
		_, err := LoadRoleConfig(NewSecretStore(), "m", "m")
		if err == nil || !strings.Contains(err.Error(), "STRATEGY_SYNTHESIZER_BASE_URL") {
			t.Errorf("error = %v", err)
		}
	})
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestCreateChatClient(t *testing.T) {
	secrets := NewSecretStore()
	secrets.Put(EnvOpenAIKey, []byte("sk-test"))
	factory := NewProviderFactory(secrets, nil)

	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr string
	}{
		{name: "ollama", cfg: ProviderConfig{Provider: ProviderOllama, Model: "llama3.1:8b", BaseURL: "http://ollama:11434"}},
		{name: "openai with key", cfg: ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini", KeyName: EnvOpenAIKey}},
		{name: "anthropic missing key", cfg: ProviderConfig{Provider: ProviderAnthropic, Model: "claude-haiku-4-5", KeyName: EnvAnthropicKey}, wantErr: "ANTHROPIC_API_KEY required"},
		{name: "langchain without key", cfg: ProviderConfig{Provider: ProviderLangChain, Model: "local", BaseURL: "http://gateway/v1", KeyName: EnvLangChainKey}},
		{name: "missing model", cfg: ProviderConfig{Provider: ProviderOllama}, wantErr: "model required"},
		{name: "unsupported", cfg: ProviderConfig{Provider: "mystery", Model: "m"}, wantErr: "unsupported provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := factory.CreateChatClient(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateChatClient() error: %v", err)
			}
			if client.Provider() != tt.cfg.Provider {
				t.Errorf("provider = %q, want %q", client.Provider(), tt.cfg.Provider)
			}
			if client.Model() != tt.cfg.Model {
				t.Errorf("model = %q, want %q", client.Model(), tt.cfg.Model)
			}
		})
	}
}

func TestCreateLifecycleManager(t *testing.T) {
	factory := NewProviderFactory(nil, nil)

	m, err := factory.CreateLifecycleManager(ProviderConfig{Provider: ProviderOllama, Model: "llama3.1:8b"})
	if err != nil || !m.IsLocal() {
		t.Errorf("ollama manager = %v, %v", m, err)
	}
	m, err = factory.CreateLifecycleManager(ProviderConfig{Provider: ProviderGemini})
	if err != nil || m.IsLocal() {
		t.Errorf("gemini manager = %v, %v", m, err)
	}
	if _, err := factory.CreateLifecycleManager(ProviderConfig{Provider: "mystery"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

// =============================================================================
// SecretStore Tests
// =============================================================================

func TestSecretStore(t *testing.T) {
	s := NewSecretStore()

	s.Put("empty", nil)
	if s.Has("empty") {
		t.Error("empty value should not be stored")
	}

	s.Put("k", []byte("value"))
	if !s.Has("k") {
		t.Fatal("Has(k) = false")
	}
	got, err := s.Open("k")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if got != "value" {
		t.Errorf("Open() = %q", got)
	}

	if _, err := s.Open("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrSecretNotFound", err)
	}

	t.Setenv("STRATEGY_TEST_SECRET", "")
	if s.PutEnv("STRATEGY_TEST_SECRET") {
		t.Error("PutEnv should report false for unset variable")
	}
}
