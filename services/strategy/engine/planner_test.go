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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

const productPlan = `{"steps":[{"step":1,"tool":"get_product_details","reason":"user asked for product details"}]}`

func TestPlanner_ParsesPlanAndRecordsMetadata(t *testing.T) {
	llm := newScripted(ok(productPlan))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())

	tools := staticTools{"get_product_details": callable("get_product_details", "Look up a product by id")}
	s := p.Plan(context.Background(), "Find details for product ABC123", tools)

	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.ParseFailed)
	assert.False(t, s.RepairAttempted)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, 1, s.Steps[0].Index)
	assert.Equal(t, "get_product_details", s.Steps[0].ToolKey)
	assert.Equal(t, "user asked for product details", s.Steps[0].Rationale)
	assert.Nil(t, s.Steps[0].Output)

	assert.Equal(t, productPlan, s.PlanRawResponse)
	assert.Contains(t, s.PlanPrompt, "- get_product_details: Look up a product by id")

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Find details for product ABC123", calls[0].User)
	assert.Equal(t, s.PlanPrompt, calls[0].System)
	assert.Equal(t, 1000, calls[0].MaxTokens)
	assert.InDelta(t, 0.1, calls[0].Temperature, 1e-9)
}

func TestPlanner_EmptyPlanIsValid(t *testing.T) {
	p := NewPlanner(newScripted(ok(`{"steps": []}`)), newPromptStore(t), DefaultConfig())
	s := p.Plan(context.Background(), "hello", staticTools{})

	assert.False(t, s.ParseFailed)
	assert.Empty(t, s.Steps)
	assert.True(t, s.Executed(), "zero steps is vacuously executed")
}

func TestPlanner_NoToolsStatedExplicitly(t *testing.T) {
	llm := newScripted(ok(`{"steps": []}`))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())
	p.Plan(context.Background(), "hello", nil)

	assert.Contains(t, llm.Calls()[0].System, NoToolsBlock)
}

func TestPlanner_DisabledOrUnavailableToolsNeverListed(t *testing.T) {
	llm := newScripted(ok(`{"steps": []}`))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())

	disabled := callable("disabled_tool", "should not appear")
	disabled.Enabled = false
	down := callable("down_tool", "should not appear either")
	down.Available = false

	p.Plan(context.Background(), "q", staticTools{
		"ok_tool":       callable("ok_tool", "listed"),
		"disabled_tool": disabled,
		"down_tool":     down,
	})

	system := llm.Calls()[0].System
	assert.Contains(t, system, "- ok_tool: listed")
	assert.NotContains(t, system, "disabled_tool")
	assert.NotContains(t, system, "down_tool")
}

func TestBuildToolBlock(t *testing.T) {
	noRemarks := callable("b", "")
	noRemarks.DisplayName = "Bee"
	withRemarks := callable("a", "first")
	withRemarks.Remarks = "slow"
	off := callable("c", "hidden")
	off.Enabled = false

	block := BuildToolBlock(map[string]registry.Tool{"b": noRemarks, "a": withRemarks, "c": off})
	assert.Equal(t, "- a: first (slow)\n- b: Bee", block)

	assert.Equal(t, NoToolsBlock, BuildToolBlock(nil))
	assert.Equal(t, NoToolsBlock, BuildToolBlock(map[string]registry.Tool{"c": off}))
}

func TestPlanner_RepairSucceeds(t *testing.T) {
	llm := newScripted(
		ok("Sure! I would use the product tool."),
		ok("```json\n"+productPlan+"\n```"),
	)
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())
	s := p.Plan(context.Background(), "Find details for product ABC123", nil)

	assert.False(t, s.ParseFailed)
	assert.True(t, s.RepairAttempted)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "get_product_details", s.Steps[0].ToolKey)
	assert.Equal(t, "Sure! I would use the product tool.", s.PlanRawResponse)

	calls := llm.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].System, "Sure! I would use the product tool.")
	assert.Contains(t, calls[1].System, "not a JSON object")
}

func TestPlanner_RepairFailureIsContained(t *testing.T) {
	llm := newScripted(ok("prose, not json"), ok("still prose"), ok("never used"))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())

	var s *Strategy
	require.NotPanics(t, func() {
		s = p.Plan(context.Background(), "q", nil)
	})

	assert.True(t, s.ParseFailed)
	assert.True(t, s.RepairAttempted)
	assert.Len(t, llm.Calls(), 2, "exactly one repair round")
	require.Len(t, s.Steps, 1)
	assert.Equal(t, MarkerToolKey, s.Steps[0].ToolKey)
	assert.Contains(t, s.ParseErrorMessage, "repair plan")
	assert.Equal(t, "prose, not json", s.RawUnparsedResponse)
	assert.Equal(t, "still prose", s.RepairRawResponse)
}

func TestPlanner_LLMErrorSkipsRepair(t *testing.T) {
	llm := newScripted(failing("connection refused"))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())
	s := p.Plan(context.Background(), "q", nil)

	assert.True(t, s.ParseFailed)
	assert.False(t, s.RepairAttempted)
	assert.Len(t, llm.Calls(), 1)
	assert.True(t, IsLLMSentinel(s.PlanRawResponse))
	assert.Equal(t, "ERROR: connection refused", s.PlanRawResponse)
	assert.Contains(t, s.ParseErrorMessage, "planning LLM call failed")
	assert.NotEmpty(t, s.PlanPrompt, "prompt is recorded even on failure")
}

func TestPlanner_RepairLLMError(t *testing.T) {
	llm := newScripted(ok("not json"), failing("rate limited"))
	p := NewPlanner(llm, newPromptStore(t), DefaultConfig())
	s := p.Plan(context.Background(), "q", nil)

	assert.True(t, s.ParseFailed)
	assert.Equal(t, "ERROR: rate limited", s.RepairRawResponse)
	assert.Contains(t, s.ParseErrorMessage, "repair LLM call failed")
}

func TestPlanner_LLMTimeout(t *testing.T) {
	slow := CompleterFunc(func(ctx context.Context, _, _ string, _ int, _ float64) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.LLMTimeout = 20 * time.Millisecond

	s := NewPlanner(slow, newPromptStore(t), cfg).Plan(context.Background(), "q", nil)
	assert.True(t, s.ParseFailed)
	assert.Contains(t, s.PlanRawResponse, "deadline exceeded")
}

func TestPlanner_PanickingCompleter(t *testing.T) {
	boom := CompleterFunc(func(context.Context, string, string, int, float64) (string, error) {
		panic("driver bug")
	})
	var s *Strategy
	require.NotPanics(t, func() {
		s = NewPlanner(boom, newPromptStore(t), DefaultConfig()).Plan(context.Background(), "q", nil)
	})
	assert.True(t, s.ParseFailed)
	assert.Contains(t, s.PlanRawResponse, "driver bug")
}

func TestPlanner_NilPromptsUsesFallback(t *testing.T) {
	llm := newScripted(ok(`{"steps": []}`))
	s := NewPlanner(llm, nil, DefaultConfig()).Plan(context.Background(), "q", nil)

	assert.False(t, s.ParseFailed)
	assert.Contains(t, s.PlanPrompt, NoToolsBlock)
}
