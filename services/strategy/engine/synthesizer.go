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
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/prompts"
)

// fallbackDirectPrompt is used only if the prompt store cannot render.
const fallbackDirectPrompt = "You are a helpful assistant. Answer the user's question directly and concisely."

// Synthesizer composes the final answer with exactly one LLM call.
//
// Thread Safety: Safe for concurrent use.
type Synthesizer struct {
	llm     Completer
	prompts PromptRenderer
	cfg     Config
	logger  *slog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(llm Completer, prompts PromptRenderer, cfg Config, opts ...Option) *Synthesizer {
	o := buildOptions(opts)
	return &Synthesizer{llm: llm, prompts: prompts, cfg: cfg.withDefaults(), logger: o.logger}
}

// ChoosePath returns the synthesis path for s.
//
// Direct when the plan failed to parse, has no steps, or no step ran.
func ChoosePath(s *Strategy) SynthesisPath {
	if s.ParseFailed || len(s.Steps) == 0 || len(s.ExecutedSteps()) == 0 {
		return PathDirect
	}
	return PathToolResults
}

// Answer writes the synthesis fields of s and returns the user-facing text.
//
// Description:
//
//	The direct path sends the direct-answer prompt and the user message.
//	The tool-result path renders a summary of the executed steps into
//	the tool-results prompt. Both prompts receive s.ConversationContext. On LLM failure FinalResponse holds the
//	"ERROR: ..." sentinel and the configured apology is returned.
//
// Outputs:
//
//	string - The answer, or the apology. Never empty.
func (y *Synthesizer) Answer(ctx context.Context, userMessage string, s *Strategy) string {
	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Synthesizer.Answer")
	defer span.End()

	path := ChoosePath(s)
	s.SynthesisPath = path
	span.SetAttributes(
		attribute.String("strategy.id", s.ID),
		attribute.String("synthesis.path", string(path)),
	)

	var system string
	var err error
	if path == PathDirect {
		system, err = render(ctx, y.prompts, prompts.SynthesisDirect, map[string]string{
			"user_message":         userMessage,
			"conversation_context": s.ConversationContext,
		})
		if err != nil {
			system = withContext(fallbackDirectPrompt, s.ConversationContext)
		}
	} else {
		executed := s.ExecutedSteps()
		vars := map[string]string{
			"user_message": userMessage,
			"tool_summary": BuildToolSummary(s),
			"total_ms":     strconv.FormatInt(s.PlanLatencyMs+s.RepairLatencyMs+s.ExecutionMs, 10),
			"step_count":   strconv.Itoa(len(executed)),

			"conversation_context": s.ConversationContext,
		}
		system, err = render(ctx, y.prompts, prompts.SynthesisToolResults, vars)
		if err != nil {
			system = withContext(fallbackDirectPrompt, s.ConversationContext) + "\n\nTool results:\n" + vars["tool_summary"]
		}
	}
	if err != nil {
		y.logger.Warn("Synthesis prompt render failed, using fallback",
			slog.String("path", string(path)),
			slog.String("error", err.Error()),
		)
	}
	s.FinalPrompt = system

	res := complete(ctx, y.llm, y.cfg.LLMTimeout, system, userMessage, y.cfg.SynthMaxTokens, y.cfg.SynthTemperature)
	s.FinalLatencyMs = res.latency.Milliseconds()
	synthesisDuration.WithLabelValues(string(path)).Observe(res.latency.Seconds())

	if res.err == nil && strings.TrimSpace(res.text) == "" {
		res.err = fmt.Errorf("synthesis LLM returned an empty response")
	}
	if res.err != nil {
		s.FinalResponse = llmSentinel(res.err)
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "synthesis LLM call failed")
		y.logger.Error("Synthesis failed, returning apology",
			slog.String("strategy_id", s.ID),
			slog.String("path", string(path)),
			slog.String("error", llm.SafeLogString(res.err.Error())),
		)
		return y.cfg.ApologyMessage
	}

	s.FinalResponse = res.text
	return res.text
}

// withContext appends the conversation block to a fallback prompt.
func withContext(prompt, conversation string) string {
	if conversation == "" {
		return prompt
	}
	return prompt + "\n\n" + conversation
}

// BuildToolSummary renders the executed steps for the tool-results prompt.
//
// Each step becomes:
//
//	【Step N: tool】
//	Reason: ...
//	Result:
//	{ indented JSON output without debug_info }
//
// Blocks are separated by a blank line.
func BuildToolSummary(s *Strategy) string {
	var b strings.Builder
	for _, st := range s.ExecutedSteps() {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "【Step %d: %s】\n", st.Index, st.ToolKey)
		fmt.Fprintf(&b, "Reason: %s\n", st.Rationale)
		b.WriteString("Result:\n")
		b.WriteString(marshalIndent(withoutDebug(st.Output)))
	}
	return b.String()
}
