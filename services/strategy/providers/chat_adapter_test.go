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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testOpenAIResp = `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"{\"steps\": []}"},"finish_reason":"stop"}]}`

// =============================================================================
// classifyChatError Tests
// =============================================================================

func TestClassifyChatError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "nil client", err: errors.New("anthropic client is nil"), expected: "nil_client"},
		{name: "nil langchain model", err: errors.New("langchain: model is nil"), expected: "nil_client"},
		{name: "context timeout", err: errors.New("context deadline exceeded"), expected: "timeout"},
		{name: "anthropic 401", err: errors.New("anthropic: API returned status 401: bad key"), expected: "auth"},
		{name: "gemini 403", err: errors.New("gemini: API returned status 403"), expected: "auth"},
		{name: "openai 429", err: errors.New("openai: API returned status 429: slow down"), expected: "rate_limit"},
		{name: "ollama 500", err: errors.New("ollama: server returned 500: boom"), expected: "server"},
		{name: "bare 503", err: errors.New("API returned 503"), expected: "server"},
		{name: "unknown error", err: errors.New("some random error"), expected: "unknown"},
		{name: "port number not confused with status code", err: errors.New("connection refused on port 5001"), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyChatError(tt.err)
			if got != tt.expected {
				t.Errorf("classifyChatError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRecordChatMetrics(t *testing.T) {
	// Recording must not panic for any provider label or error shape.
	recordChatMetrics(ProviderAnthropic, 500*time.Millisecond, nil)
	recordChatMetrics(ProviderOllama, time.Second, errors.New("ollama: server returned 502"))
	recordChatMetrics(ProviderLangChain, time.Second, errors.New("some error"))
}

// =============================================================================
// ChatAdapter Tests
// =============================================================================

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

// fakeBackend records the last params it saw.
type fakeBackend struct {
	model    string
	response string
	err      error
	params   llm.GenerationParams
	messages []llm.Message
}

func (f *fakeBackend) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	f.messages = messages
	f.params = params
	return f.response, f.err
}

func (f *fakeBackend) Model() string { return f.model }

func TestChatAdapter_TranslatesOptions(t *testing.T) {
	backend := &fakeBackend{model: "m1", response: "ok"}
	adapter := NewChatAdapter(ProviderOpenAI, backend)

	got, err := adapter.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}},
		ChatOptions{Temperature: 0.1, MaxTokens: 1000, Model: "override"})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "ok" {
		t.Errorf("Chat() = %q, want %q", got, "ok")
	}
	if backend.params.Temperature == nil || *backend.params.Temperature != float32(0.1) {
		t.Errorf("temperature = %v, want 0.1", backend.params.Temperature)
	}
	if backend.params.MaxTokens == nil || *backend.params.MaxTokens != 1000 {
		t.Errorf("max tokens = %v, want 1000", backend.params.MaxTokens)
	}
	if backend.params.ModelOverride != "override" {
		t.Errorf("model override = %q, want %q", backend.params.ModelOverride, "override")
	}
}

func TestChatAdapter_NegativeTemperatureOmitted(t *testing.T) {
	backend := &fakeBackend{model: "m1", response: "ok"}
	adapter := NewChatAdapter(ProviderOllama, backend)

	if _, err := adapter.Chat(context.Background(), nil, ChatOptions{Temperature: -1}); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if backend.params.Temperature != nil {
		t.Errorf("temperature = %v, want nil", *backend.params.Temperature)
	}
	if backend.params.MaxTokens != nil {
		t.Errorf("max tokens = %v, want nil", *backend.params.MaxTokens)
	}
}

func TestChatAdapter_NilBackend(t *testing.T) {
	adapter := NewChatAdapter(ProviderGemini, nil)
	_, err := adapter.Chat(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error for nil backend")
	}
	if classifyChatError(err) != "nil_client" {
		t.Errorf("classifyChatError = %q, want nil_client", classifyChatError(err))
	}
}

func TestChatAdapter_SpanOnSuccess(t *testing.T) {
	exporter := setupTestTracer(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testOpenAIResp))
	}))
	defer server.Close()

	adapter := NewChatAdapter(ProviderOpenAI, llm.NewOpenAIClientWithConfig("sk-test", "gpt-4o-mini", server.URL))
	got, err := adapter.Chat(context.Background(), []llm.Message{{Role: "user", Content: "plan"}}, ChatOptions{Temperature: 0.1})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != `{"steps": []}` {
		t.Errorf("Chat() = %q", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "providers.ChatAdapter.Chat" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("span should not have error status")
	}
}

func TestChatAdapter_SpanOnError(t *testing.T) {
	exporter := setupTestTracer(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	adapter := NewChatAdapter(ProviderOpenAI, llm.NewOpenAIClientWithConfig("sk-test", "gpt-4o-mini", server.URL))
	_, err := adapter.Chat(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if classifyChatError(err) != "rate_limit" {
		t.Errorf("classifyChatError = %q, want rate_limit", classifyChatError(err))
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status.Code)
	}
}

// =============================================================================
// Completer Tests
// =============================================================================

type chatFunc func(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)

func (f chatFunc) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	return f(ctx, messages, opts)
}

func TestCompleter_BuildsMessages(t *testing.T) {
	var seen []llm.Message
	var seenOpts ChatOptions
	c := NewCompleter(chatFunc(func(_ context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
		seen = messages
		seenOpts = opts
		return "answer", nil
	}))

	got, err := c.Complete(context.Background(), "sys", "question", 2000, 0.1)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "answer" {
		t.Errorf("Complete() = %q", got)
	}
	if len(seen) != 2 || seen[0].Role != "system" || seen[1].Role != "user" || seen[1].Content != "question" {
		t.Errorf("messages = %+v", seen)
	}
	if seenOpts.MaxTokens != 2000 || seenOpts.Temperature != 0.1 {
		t.Errorf("opts = %+v", seenOpts)
	}

	_, _ = c.Complete(context.Background(), "", "only user", 0, -1)
	if len(seen) != 1 {
		t.Errorf("empty system prompt should be omitted, got %d messages", len(seen))
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestOllamaLifecycleAdapter_WarmModel(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	defer up.Close()

	adapter := NewOllamaLifecycleAdapter(llm.NewOllamaClient(up.URL, "llama3.1:8b"), nil)
	if err := adapter.WarmModel(context.Background(), "llama3.1:8b"); err != nil {
		t.Fatalf("WarmModel() error: %v", err)
	}
	if !adapter.IsLocal() {
		t.Error("Ollama adapter should be local")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	adapter = NewOllamaLifecycleAdapter(llm.NewOllamaClient(down.URL, "llama3.1:8b"), nil)
	err := adapter.WarmModel(context.Background(), "llama3.1:8b")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("WarmModel() error = %v, want 503", err)
	}
}

func TestCloudLifecycleAdapter(t *testing.T) {
	adapter := NewCloudLifecycleAdapter(ProviderAnthropic, nil)
	if err := adapter.WarmModel(context.Background(), "claude-haiku-4-5"); err != nil {
		t.Errorf("WarmModel() error: %v", err)
	}
	if adapter.IsLocal() {
		t.Error("cloud adapter should not be local")
	}
}
