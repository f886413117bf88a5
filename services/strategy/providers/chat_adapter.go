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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the shape shared by every client in services/llm.
type Backend interface {
	Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
	Model() string
}

// ChatAdapter wraps a services/llm client to implement ChatClient.
//
// Description:
//
//	Translates ChatOptions into llm.GenerationParams, wraps the call in an
//	OTel span named "providers.ChatAdapter.Chat" and records the chat
//	metrics under the adapter's provider label.
//
// Thread Safety: ChatAdapter is safe for concurrent use.
type ChatAdapter struct {
	provider string
	backend  Backend
}

// NewChatAdapter creates a ChatAdapter.
//
// Inputs:
//   - provider: Provider label for spans and metrics.
//   - backend: The llm client to wrap. A nil backend fails every call.
//
// Outputs:
//   - *ChatAdapter: The configured adapter.
func NewChatAdapter(provider string, backend Backend) *ChatAdapter {
	return &ChatAdapter{provider: provider, backend: backend}
}

// Provider returns the provider label.
func (a *ChatAdapter) Provider() string { return a.provider }

// Model returns the backend's configured model, or "" without a backend.
func (a *ChatAdapter) Model() string {
	if a.backend == nil {
		return ""
	}
	return a.backend.Model()
}

// Chat implements ChatClient.
func (a *ChatAdapter) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if a.backend == nil {
		return "", fmt.Errorf("%s client is nil", a.provider)
	}

	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "providers.ChatAdapter.Chat",
		trace.WithAttributes(
			attribute.String("provider", a.provider),
			attribute.String("model", a.backend.Model()),
			attribute.Int("message_count", len(messages)),
			attribute.Float64("temperature", opts.Temperature),
		),
	)
	defer span.End()

	params := llm.NewGenerationParams(opts.MaxTokens, opts.Temperature)
	params.ModelOverride = opts.Model

	start := time.Now()
	result, err := a.backend.Chat(ctx, messages, params)
	duration := time.Since(start)

	recordChatMetrics(a.provider, duration, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("response_len", len(result)))
	return result, nil
}
