// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

// Completer is the LLM completion capability used by planning, repair
// and synthesis.
type Completer interface {
	// Complete returns the model's text for one system + user exchange.
	// maxTokens <= 0 and temperature < 0 leave the provider defaults.
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	return f(ctx, system, user, maxTokens, temperature)
}

// ToolView is the planner's only window onto the registry.
//
// *registry.Registry satisfies it.
type ToolView interface {
	EnabledTools() map[string]registry.Tool
}

// ToolInvoker executes one tool call.
//
// The result is {"result": ..., "debug_info": ...} or
// {"error": ..., "debug_info": ...}. A non-nil error means the call did
// not complete; the result may still carry debug_info. Errors for keys
// that match no tool should have an UnknownTool() bool method returning
// true.
type ToolInvoker interface {
	Call(ctx context.Context, toolKey, input string) (map[string]any, error)
}

// ToolInvokerFunc adapts a function to ToolInvoker.
type ToolInvokerFunc func(ctx context.Context, toolKey, input string) (map[string]any, error)

// Call implements ToolInvoker.
func (f ToolInvokerFunc) Call(ctx context.Context, toolKey, input string) (map[string]any, error) {
	return f(ctx, toolKey, input)
}

// PromptRenderer renders named prompt templates.
//
// *prompts.Store satisfies it.
type PromptRenderer interface {
	Render(ctx context.Context, name string, vars map[string]string) (string, error)
}

// TurnSink receives a finished strategy. Implementations must not block.
type TurnSink interface {
	RecordTurn(ctx context.Context, s *Strategy)
}
