// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers builds LLM chat clients for the strategy engine's two
// roles (Planner and Synthesizer) so each role can use a different backend
// (Ollama, Anthropic, OpenAI, Gemini, or any OpenAI-compatible endpoint
// through langchaingo).
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package providers

import (
	"context"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// ChatClient is the minimal chat interface the engine needs.
//
// Description:
//
//	Planning, repair and synthesis are single-shot completions with no
//	tool calls or streaming, so one method covers every provider.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure.
	Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. A negative value omits it from the
	// request so the provider default applies. Zero is an explicit
	// "most deterministic" setting.
	Temperature float64

	// MaxTokens limits the response length. Zero or less uses the default.
	MaxTokens int

	// Model overrides the adapter's model for this request when non-empty.
	Model string
}

// ModelLifecycleManager checks that a role's backend is ready.
//
// Description:
//
//	Ollama needs the server up and the model pulled. Cloud providers only
//	need a key, which the factory already verified. IsLocal lets callers
//	report whether the model runs on this host.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ModelLifecycleManager interface {
	// WarmModel verifies the backend can serve model.
	WarmModel(ctx context.Context, model string) error

	// IsLocal returns true if the provider runs on local hardware.
	IsLocal() bool
}
