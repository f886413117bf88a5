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
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/prompts"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

// NoToolsBlock replaces the tool list when nothing is callable.
const NoToolsBlock = `(No tools are available. Return {"steps": []}.)`

// fallbackPlanningPrompt is used only if the prompt store cannot render.
const fallbackPlanningPrompt = `Select the tools needed to answer the user. Respond with JSON only: {"steps": [{"step": 1, "tool": "<tool_key>", "reason": "<why>"}]}. Use {"steps": []} if no tool is needed.

Available tools:
`

// Planner turns a user message into a Strategy with one LLM call and at
// most one repair call.
//
// Thread Safety: Safe for concurrent use; it holds no per-turn state.
type Planner struct {
	llm     Completer
	prompts PromptRenderer
	cfg     Config
	logger  *slog.Logger
}

// NewPlanner creates a planner.
//
// Inputs:
//
//	llm     - Completer for planning and repair.
//	prompts - Renders PlanningSystem and PlanRepair.
//	cfg     - Token budget, temperature and LLM timeout.
func NewPlanner(llm Completer, prompts PromptRenderer, cfg Config, opts ...Option) *Planner {
	o := buildOptions(opts)
	return &Planner{llm: llm, prompts: prompts, cfg: cfg.withDefaults(), logger: o.logger}
}

// Plan builds a new Strategy for userMessage.
//
// Description:
//
//	Never returns nil and never panics on collaborator failure. Failures
//	are recorded on the Strategy: ParseFailed with a single marker step.
func (p *Planner) Plan(ctx context.Context, userMessage string, tools ToolView) *Strategy {
	s := NewStrategy()
	p.PlanInto(ctx, s, userMessage, tools)
	return s
}

// PlanInto fills the planning fields of s.
//
// Description:
//
//	 1. Renders the planning prompt with the callable tools sorted by key.
//	 2. Calls the LLM and records prompt, raw response and latency.
//	 3. Parses the plan. On failure issues exactly one repair call and
//	    parses again.
//	 4. If both fail, sets ParseFailed and a single marker step.
//
//	An LLM transport failure on the first call skips the repair call,
//	since there is no text to repair.
//
// Inputs:
//
//	ctx         - Parent context; each LLM call gets its own timeout.
//	s           - Strategy to fill. Steps is replaced.
//	userMessage - The literal user text, sent as the user prompt.
//	tools       - Source of the callable tool snapshot. May be nil.
func (p *Planner) PlanInto(ctx context.Context, s *Strategy, userMessage string, tools ToolView) {
	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Planner.Plan")
	defer span.End()

	var snapshot map[string]registry.Tool
	if tools != nil {
		snapshot = tools.EnabledTools()
	}
	block := BuildToolBlock(snapshot)
	span.SetAttributes(
		attribute.String("strategy.id", s.ID),
		attribute.Int("tools.callable", len(snapshot)),
	)

	system, err := render(ctx, p.prompts, prompts.PlanningSystem, map[string]string{"tool_block": block})
	if err != nil {
		p.logger.Warn("Planning prompt render failed, using fallback",
			slog.String("error", err.Error()),
		)
		system = fallbackPlanningPrompt + block
	}
	s.PlanPrompt = system

	first := complete(ctx, p.llm, p.cfg.LLMTimeout, system, userMessage, p.cfg.PlanMaxTokens, p.cfg.PlanTemperature)
	s.PlanLatencyMs = first.latency.Milliseconds()

	if first.err != nil {
		s.PlanRawResponse = llmSentinel(first.err)
		p.fail(s, fmt.Sprintf("planning LLM call failed: %s", llm.SafeLogString(first.err.Error())), s.PlanRawResponse)
		planDuration.WithLabelValues("llm_error").Observe(first.latency.Seconds())
		span.RecordError(first.err)
		span.SetStatus(codes.Error, "planning LLM call failed")
		return
	}
	s.PlanRawResponse = first.text

	steps, perr := ParsePlan(first.text)
	if perr == nil {
		s.Steps = steps
		planDuration.WithLabelValues("ok").Observe(first.latency.Seconds())
		span.SetAttributes(attribute.Int("plan.steps", len(steps)))
		p.logger.Debug("Plan parsed",
			slog.String("strategy_id", s.ID),
			slog.Int("steps", len(steps)),
			slog.Int64("latency_ms", s.PlanLatencyMs),
		)
		return
	}

	initialErr := &PlanParseError{Stage: StageInitial, Reason: perr.Error()}
	parseFailures.WithLabelValues(StageInitial).Inc()
	p.logger.Warn("Plan did not parse, attempting repair",
		slog.String("strategy_id", s.ID),
		slog.String("error", initialErr.Error()),
		slog.String("response", llm.Truncate(llm.SafeLogString(first.text), 300)),
	)

	steps, repairErr := p.repair(ctx, s, userMessage, first.text, initialErr)
	total := time.Duration(s.PlanLatencyMs+s.RepairLatencyMs) * time.Millisecond
	if repairErr != nil {
		p.fail(s, repairErr.Error(), first.text)
		planDuration.WithLabelValues("parse_failed").Observe(total.Seconds())
		span.RecordError(repairErr)
		span.SetStatus(codes.Error, "plan parse failed after repair")
		return
	}

	s.Steps = steps
	planDuration.WithLabelValues("repaired").Observe(total.Seconds())
	span.SetAttributes(
		attribute.Int("plan.steps", len(steps)),
		attribute.Bool("plan.repaired", true),
	)
	p.logger.Info("Plan repaired",
		slog.String("strategy_id", s.ID),
		slog.Int("steps", len(steps)),
	)
}

// repair issues the single repair call and parses its answer.
func (p *Planner) repair(ctx context.Context, s *Strategy, userMessage, badText string, cause *PlanParseError) ([]*Step, error) {
	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Planner.repair")
	defer span.End()

	s.RepairAttempted = true

	system, err := render(ctx, p.prompts, prompts.PlanRepair, map[string]string{
		"error":        cause.Reason,
		"raw_response": badText,
	})
	if err != nil {
		return nil, fmt.Errorf("%s; repair prompt unavailable: %v", cause.Error(), err)
	}

	res := complete(ctx, p.llm, p.cfg.LLMTimeout, system, userMessage, p.cfg.PlanMaxTokens, p.cfg.PlanTemperature)
	s.RepairLatencyMs = res.latency.Milliseconds()
	if res.err != nil {
		s.RepairRawResponse = llmSentinel(res.err)
		span.RecordError(res.err)
		return nil, fmt.Errorf("%s; repair LLM call failed: %s", cause.Error(), llm.SafeLogString(res.err.Error()))
	}
	s.RepairRawResponse = res.text

	steps, perr := ParsePlan(res.text)
	if perr != nil {
		parseFailures.WithLabelValues(StageRepair).Inc()
		return nil, &PlanParseError{Stage: StageRepair, Reason: perr.Error()}
	}
	return steps, nil
}

// fail records a permanent parse failure with its marker step.
func (p *Planner) fail(s *Strategy, message, raw string) {
	s.ParseFailed = true
	s.ParseErrorMessage = message
	s.RawUnparsedResponse = raw
	s.Steps = []*Step{{
		Index:     1,
		ToolKey:   MarkerToolKey,
		Rationale: "plan could not be parsed",
	}}
	p.logger.Warn("Planning failed, answering directly",
		slog.String("strategy_id", s.ID),
		slog.String("error", message),
	)
}

// BuildToolBlock lists callable tools sorted by key, one per line, as
// "- key: description". Remarks are appended in parentheses. An empty
// map yields NoToolsBlock.
func BuildToolBlock(tools map[string]registry.Tool) string {
	if len(tools) == 0 {
		return NoToolsBlock
	}

	keys := make([]string, 0, len(tools))
	for k, t := range tools {
		if t.Callable() {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return NoToolsBlock
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		t := tools[k]
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			desc = t.DisplayName
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(desc)
		if r := strings.TrimSpace(t.Remarks); r != "" {
			b.WriteString(" (")
			b.WriteString(r)
			b.WriteString(")")
		}
	}
	return b.String()
}

// parseFailurePayload is the marker step output for a failed plan.
func parseFailurePayload(s *Strategy, advice string) map[string]any {
	return map[string]any{
		"error":               "Strategy JSON parse failed",
		"parse_error_message": s.ParseErrorMessage,
		"raw_llm_response":    s.RawUnparsedResponse,
		"suggestion":          advice,
	}
}

// isTimeout reports whether err came from a deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
