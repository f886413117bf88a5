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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/prompts"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

// completerCall is one recorded LLM call.
type completerCall struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// scriptedCompleter returns responses in order and records every call.
// An entry with a non-nil err fails that call.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []scripted
	calls     []completerCall
}

type scripted struct {
	text string
	err  error
}

func newScripted(responses ...scripted) *scriptedCompleter {
	return &scriptedCompleter{responses: responses}
}

func ok(text string) scripted     { return scripted{text: text} }
func failing(msg string) scripted { return scripted{err: errors.New(msg)} }

func (c *scriptedCompleter) Complete(_ context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, completerCall{System: system, User: user, MaxTokens: maxTokens, Temperature: temperature})
	if len(c.responses) == 0 {
		return "", errors.New("no scripted response left")
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	return r.text, r.err
}

func (c *scriptedCompleter) Calls() []completerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]completerCall(nil), c.calls...)
}

// staticTools is a ToolView over a fixed catalog. Only callable tools
// are exposed, like the registry does.
type staticTools map[string]registry.Tool

func (s staticTools) EnabledTools() map[string]registry.Tool {
	out := make(map[string]registry.Tool)
	for k, t := range s {
		if t.Callable() {
			out[k] = t
		}
	}
	return out
}

func callable(key, desc string) registry.Tool {
	return registry.Tool{Key: key, DisplayName: key, Description: desc, ServerName: "srv", Enabled: true, Available: true}
}

// invokerCall is one recorded tool call.
type invokerCall struct {
	Tool  string
	Input string
}

// recordingInvoker answers from a per-tool function and records calls.
type recordingInvoker struct {
	mu      sync.Mutex
	calls   []invokerCall
	respond func(tool, input string) (map[string]any, error)
}

func (r *recordingInvoker) Call(_ context.Context, tool, input string) (map[string]any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, invokerCall{Tool: tool, Input: input})
	r.mu.Unlock()
	return r.respond(tool, input)
}

func (r *recordingInvoker) Calls() []invokerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invokerCall(nil), r.calls...)
}

func newPromptStore(t *testing.T) *prompts.Store {
	t.Helper()
	s, err := prompts.NewStore()
	require.NoError(t, err)
	return s
}
