// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClient_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient()
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "openai:") {
		t.Errorf("error should include 'openai:' prefix, got: %s", err)
	}
}

func TestNewOpenAIClient_DefaultModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")

	client, err := NewOpenAIClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", client.Model(), "gpt-4o-mini")
	}
	if client.baseURL != defaultOpenAIBaseURL {
		t.Errorf("baseURL = %q, want default", client.baseURL)
	}
}

func TestOpenAIClient_Chat_SendsPlanningRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system then user", req.Messages)
		}
		if req.MaxCompletionTokens == nil || *req.MaxCompletionTokens != 1000 {
			t.Errorf("max_completion_tokens = %v, want 1000", req.MaxCompletionTokens)
		}
		if req.Temperature == nil || *req.Temperature != float32(0.1) {
			t.Errorf("temperature = %v, want 0.1", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"steps\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", "gpt-4o-mini", server.URL)
	messages := []Message{
		{Role: "system", Content: "plan"},
		{Role: "user", Content: "Find details for product ABC123"},
	}

	result, err := client.Chat(context.Background(), messages, NewGenerationParams(1000, 0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"steps":[]}` {
		t.Errorf("result = %q", result)
	}
}

func TestOpenAIClient_Chat_UnknownRoleMappedToUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Role != "user" {
			t.Errorf("role = %q, want user", req.Messages[0].Role)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("k", "gpt-4o-mini", server.URL)
	if _, err := client.Chat(context.Background(), []Message{{Role: "tool", Content: "x"}}, GenerationParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAIClient_Chat_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"non-200 is redacted", http.StatusUnauthorized, `bad key sk-abcdefghijklmnopqrstuvwxyz1234`, "[REDACTED:openai_key]"},
		{"api error object", http.StatusOK, `{"error":{"type":"invalid_request","message":"nope"}}`, "invalid_request"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"bad json", http.StatusOK, `not json`, "parsing response JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAIClientWithConfig("k", "m", server.URL)
			_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "openai:") {
				t.Errorf("missing provider prefix: %s", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestOpenAIClient_Chat_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", req.Model)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("k", "gpt-4o-mini", server.URL)
	params := GenerationParams{ModelOverride: "gpt-4o"}
	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewGenerationParams(t *testing.T) {
	p := NewGenerationParams(0, -1)
	if p.Temperature != nil || p.MaxTokens != nil {
		t.Errorf("expected unset params, got %+v", p)
	}
	p = NewGenerationParams(2000, 0)
	if p.Temperature == nil || *p.Temperature != 0 {
		t.Errorf("explicit zero temperature should be kept, got %v", p.Temperature)
	}
	if p.MaxTokens == nil || *p.MaxTokens != 2000 {
		t.Errorf("max tokens = %v, want 2000", p.MaxTokens)
	}
}
