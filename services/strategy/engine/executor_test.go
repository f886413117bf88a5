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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannedStrategy(tools ...string) *Strategy {
	s := NewStrategy()
	for i, t := range tools {
		s.Steps = append(s.Steps, &Step{Index: i + 1, ToolKey: t, Rationale: "because"})
	}
	return s
}

func TestExecutor_OrderAndInputThreading(t *testing.T) {
	inv := &recordingInvoker{respond: func(tool, input string) (map[string]any, error) {
		return map[string]any{
			"result":     map[string]any{"from": tool, "html": "<b>&</b>"},
			"debug_info": map[string]any{"sql": "select 1"},
		}, nil
	}}
	s := plannedStrategy("a", "b", "c")

	NewExecutor(DefaultConfig()).Run(context.Background(), s, "user question", inv)

	calls := inv.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{calls[0].Tool, calls[1].Tool, calls[2].Tool})

	assert.Equal(t, "user question", s.Steps[0].Input)
	assert.Equal(t, `{"result":{"from":"a","html":"<b>&</b>"}}`, s.Steps[1].Input)
	assert.Equal(t, `{"result":{"from":"b","html":"<b>&</b>"}}`, s.Steps[2].Input)
	for i, st := range s.Steps {
		assert.Equal(t, calls[i].Input, st.Input)
		assert.NotContains(t, st.Input, "debug_info")
		assert.Equal(t, map[string]any{"sql": "select 1"}, st.Trace)
		assert.Contains(t, st.Output, "debug_info", "output keeps the full tool result")
	}
	assert.True(t, s.Executed())
}

func TestExecutor_StepFailureIsNonFatal(t *testing.T) {
	inv := &recordingInvoker{respond: func(tool, input string) (map[string]any, error) {
		switch tool {
		case "broken":
			return nil, errors.New("Tool 'broken' is not available")
		case "soft_error":
			return map[string]any{"error": "no such customer", "debug_info": "trace-1"}, nil
		}
		return map[string]any{"result": "ok:" + input}, nil
	}}
	s := plannedStrategy("broken", "next", "soft_error", "last")

	require.NotPanics(t, func() {
		NewExecutor(DefaultConfig()).Run(context.Background(), s, "msg", inv)
	})

	require.Len(t, inv.Calls(), 4)
	assert.Equal(t, map[string]any{"error": "Tool 'broken' is not available"}, s.Steps[0].Output)
	assert.True(t, s.Steps[0].Failed())
	assert.Equal(t, `{"error":"Tool 'broken' is not available"}`, s.Steps[1].Input)

	assert.True(t, s.Steps[2].Failed())
	assert.Equal(t, "trace-1", s.Steps[2].Trace)
	assert.Equal(t, `{"error":"no such customer"}`, s.Steps[3].Input)
	assert.True(t, s.Executed())
}

type unresolvedKeyErr struct{ key string }

func (e unresolvedKeyErr) Error() string     { return "Tool '" + e.key + "' not found" }
func (e unresolvedKeyErr) UnknownTool() bool { return true }

func TestStepToolLabel_BoundsInventedKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
		err  error
		want string
	}{
		{"success", "get_order", nil, "get_order"},
		{"resolved tool failed", "get_order", errors.New("MCP server error: 500"), "get_order"},
		{"invented key", "fetch_everything_v9", unresolvedKeyErr{"fetch_everything_v9"}, unknownToolLabel},
		{"wrapped invented key", "x_1783", fmt.Errorf("call: %w", unresolvedKeyErr{"x_1783"}), unknownToolLabel},
		{"no invoker", "get_order", errNoInvoker, unknownToolLabel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stepToolLabel(tc.key, tc.err))
		})
	}
}

func TestExecutor_InventedKeyStillRecordsFailure(t *testing.T) {
	inv := ToolInvokerFunc(func(_ context.Context, key, _ string) (map[string]any, error) {
		return nil, unresolvedKeyErr{key}
	})
	s := plannedStrategy("made_up_tool")

	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", inv)

	assert.True(t, s.Steps[0].Failed())
	assert.Equal(t, "Tool 'made_up_tool' not found", s.Steps[0].Output["error"])
}

func TestExecutor_ErrorKeepsDebugInfo(t *testing.T) {
	inv := ToolInvokerFunc(func(context.Context, string, string) (map[string]any, error) {
		return map[string]any{"debug_info": "upstream 500"}, errors.New("MCP server error: 500 - boom")
	})
	s := plannedStrategy("a")
	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", inv)

	assert.Equal(t, "MCP server error: 500 - boom", s.Steps[0].Output["error"])
	assert.Equal(t, "upstream 500", s.Steps[0].Trace)
}

func TestExecutor_Timeout(t *testing.T) {
	inv := ToolInvokerFunc(func(ctx context.Context, tool, _ string) (map[string]any, error) {
		if tool == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		return map[string]any{"result": tool}, nil
	})
	cfg := DefaultConfig()
	cfg.ToolTimeout = 20 * time.Millisecond
	s := plannedStrategy("slow", "fast")

	NewExecutor(cfg).Run(context.Background(), s, "m", inv)

	require.True(t, s.Steps[0].Failed())
	assert.Contains(t, s.Steps[0].Output["error"], "timed out")
	assert.Equal(t, map[string]any{"result": "fast"}, s.Steps[1].Output)
}

func TestExecutor_PanicAndNilResult(t *testing.T) {
	inv := ToolInvokerFunc(func(_ context.Context, tool, _ string) (map[string]any, error) {
		if tool == "panics" {
			panic("nil map write")
		}
		return nil, nil
	})
	s := plannedStrategy("panics", "empty")
	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", inv)

	assert.Contains(t, s.Steps[0].Output["error"], "tool call panicked")
	assert.Equal(t, map[string]any{"result": nil}, s.Steps[1].Output)
}

func TestExecutor_NilInvoker(t *testing.T) {
	s := plannedStrategy("a")
	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", nil)
	assert.Equal(t, "no tool invoker configured", s.Steps[0].Output["error"])
}

func TestExecutor_ParseFailedRunsNoTools(t *testing.T) {
	inv := &recordingInvoker{respond: func(string, string) (map[string]any, error) {
		t.Error("no tool may run for a failed plan")
		return nil, nil
	}}
	s := NewStrategy()
	s.ParseFailed = true
	s.ParseErrorMessage = "repair plan: not a JSON object"
	s.RawUnparsedResponse = "prose"
	s.Steps = []*Step{{Index: 1, ToolKey: MarkerToolKey}}

	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", inv)

	assert.Empty(t, inv.Calls())
	out := s.Steps[0].Output
	assert.Equal(t, "Strategy JSON parse failed", out["error"])
	assert.Equal(t, "repair plan: not a JSON object", out["parse_error_message"])
	assert.Equal(t, "prose", out["raw_llm_response"])
	assert.NotEmpty(t, out["suggestion"])
	assert.Equal(t, "m", s.Steps[0].Input)
	assert.Equal(t, true, s.Steps[0].Trace.(map[string]any)["parse_error"])
}

func TestExecutor_NeverOverwritesOutput(t *testing.T) {
	inv := &recordingInvoker{respond: func(tool, input string) (map[string]any, error) {
		return map[string]any{"result": "new"}, nil
	}}
	s := plannedStrategy("done", "todo")
	s.Steps[0].Output = map[string]any{"result": "old", "debug_info": "x"}

	NewExecutor(DefaultConfig()).Run(context.Background(), s, "m", inv)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "todo", calls[0].Tool)
	assert.Equal(t, `{"result":"old"}`, calls[0].Input)
	assert.Equal(t, "old", s.Steps[0].Output["result"])
}

func TestExecutor_ObserverEvents(t *testing.T) {
	inv := ToolInvokerFunc(func(context.Context, string, string) (map[string]any, error) {
		return map[string]any{"result": 1}, nil
	})
	var events []Event
	obs := ObserverFunc(func(e Event) { events = append(events, e) })

	s := plannedStrategy("a", "b")
	NewExecutor(DefaultConfig()).RunObserved(context.Background(), s, "m", inv, obs)

	require.Len(t, events, 4)
	assert.Equal(t, EventStepStarted, events[0].Type)
	assert.Nil(t, events[0].Step.Output)
	assert.Equal(t, EventStepCompleted, events[1].Type)
	assert.NotNil(t, events[1].Step.Output)
	assert.Equal(t, "b", events[3].Step.ToolKey)
}

func TestNextInput(t *testing.T) {
	assert.Equal(t, `{"result":"a<b"}`, NextInput(map[string]any{"result": "a<b", "debug_info": 1}))
	assert.Equal(t, `{"result":null}`, NextInput(map[string]any{"result": nil}))
	assert.Contains(t, NextInput(map[string]any{"result": make(chan int)}), "unserializable tool output")
}
