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

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// Completer adapts a ChatClient to the engine's Completer interface.
//
// Each Complete call becomes a two-message exchange: the system prompt
// (omitted when empty) followed by the user text.
type Completer struct {
	client ChatClient
}

// NewCompleter wraps client.
func NewCompleter(client ChatClient) *Completer {
	return &Completer{client: client}
}

// Complete implements engine.Completer.
func (c *Completer) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: user})
	return c.client.Chat(ctx, messages, ChatOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}
