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
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient adapts a langchaingo model to the Chat signature used by
// the other clients in this package.
//
// Description:
//
//	Intended for OpenAI-compatible gateways (vLLM, LiteLLM, LM Studio) that
//	the raw OpenAI client does not cover well, e.g. servers that reject
//	max_completion_tokens.
//
// Thread Safety: Safe for concurrent use if the wrapped model is.
type LangChainClient struct {
	model     llms.Model
	modelName string
}

// NewLangChainClient builds an OpenAI-compatible langchaingo model.
//
// Inputs:
//
//	baseURL - API root, e.g. http://localhost:8000/v1. Required.
//	model - Model name passed through to the server.
//	apiKey - Optional; many local gateways accept any token.
//
// Outputs:
//
//	*LangChainClient - The client.
//	error - Non-nil if langchaingo rejects the options.
func NewLangChainClient(baseURL, model, apiKey string) (*LangChainClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("langchain: base URL is required")
	}
	opts := []lcopenai.Option{
		lcopenai.WithModel(model),
		lcopenai.WithBaseURL(baseURL),
	}
	if apiKey == "" {
		apiKey = "unused"
	}
	opts = append(opts, lcopenai.WithToken(apiKey))

	m, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: creating OpenAI-compatible model: %w", err)
	}
	return NewLangChainClientFromModel(m, model), nil
}

// NewLangChainClientFromModel wraps an existing langchaingo model. Tests use
// it with langchaingo's fake model.
func NewLangChainClientFromModel(m llms.Model, modelName string) *LangChainClient {
	return &LangChainClient{model: m, modelName: modelName}
}

// Model returns the configured model name.
func (c *LangChainClient) Model() string { return c.modelName }

// Chat converts messages to langchaingo content and calls GenerateContent.
//
// Thread Safety: This method is safe for concurrent use.
func (c *LangChainClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if c.model == nil {
		return "", fmt.Errorf("langchain: model is nil")
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role llms.ChatMessageType
		switch strings.ToLower(msg.Role) {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(msg.Content)},
		})
	}

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	if params.ModelOverride != "" {
		opts = append(opts, llms.WithModel(params.ModelOverride))
	}

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("langchain: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("langchain: returned no choices")
	}

	slog.Debug("Received langchain response",
		slog.String("model", c.modelName),
		slog.String("stop_reason", resp.Choices[0].StopReason),
		slog.Int("response_len", len(resp.Choices[0].Content)),
	)
	return resp.Choices[0].Content, nil
}
