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
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Orchestrator runs one turn: plan, execute, answer.
//
// Thread Safety: Safe for concurrent use. Each call owns its Strategy;
// the ToolView is the only state shared between turns.
type Orchestrator struct {
	planner     *Planner
	executor    *Executor
	synthesizer *Synthesizer
	tools       ToolView
	invoker     ToolInvoker
	sink        TurnSink
	apology     string
	logger      *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTurnSink records every finished turn.
func WithTurnSink(sink TurnSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithApology overrides the text returned when a turn panics.
func WithApology(msg string) OrchestratorOption {
	return func(o *Orchestrator) {
		if msg != "" {
			o.apology = msg
		}
	}
}

// TurnOption configures a single call to ProcessObserved.
type TurnOption func(*Strategy)

// WithConversationContext attaches prior turns of the conversation. The
// synthesizer renders the text into both answer prompts.
func WithConversationContext(text string) TurnOption {
	return func(s *Strategy) { s.ConversationContext = text }
}

// NewOrchestrator wires the three stages with their collaborators.
func NewOrchestrator(planner *Planner, executor *Executor, synthesizer *Synthesizer, tools ToolView, invoker ToolInvoker, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		planner:     planner,
		executor:    executor,
		synthesizer: synthesizer,
		tools:       tools,
		invoker:     invoker,
		apology:     DefaultApology,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one turn. See ProcessObserved.
func (o *Orchestrator) Process(ctx context.Context, userMessage string) (*Strategy, string) {
	return o.ProcessObserved(ctx, userMessage, nil)
}

// ProcessObserved runs one turn and reports progress to obs.
//
// Description:
//
//	Planner -> Executor -> Synthesizer. A panic anywhere in the turn is
//	recovered: the caller gets the apology and the Strategy as built so
//	far. The Strategy is never nil.
//
// Inputs:
//
//	ctx         - Parent context for every LLM and tool call.
//	userMessage - The user's text.
//	obs         - Optional observer; may be nil.
//	opts        - Per-turn settings such as conversation context.
//
// Outputs:
//
//	*Strategy - Fully populated on success, partial after a panic.
//	string    - Answer text or apology.
func (o *Orchestrator) ProcessObserved(ctx context.Context, userMessage string, obs Observer, opts ...TurnOption) (s *Strategy, answer string) {
	s = NewStrategy()
	for _, opt := range opts {
		opt(s)
	}
	start := time.Now()

	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Orchestrator.Process")
	span.SetAttributes(attribute.String("strategy.id", s.ID))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("turn panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.Error("Turn failed, returning apology",
				slog.String("strategy_id", s.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			answer = o.apology
		}

		recordTurnMetrics(ctx, s, time.Since(start).Seconds())
		if o.sink != nil {
			o.sink.RecordTurn(ctx, s)
		}
		span.SetAttributes(
			attribute.Bool("plan.parse_failed", s.ParseFailed),
			attribute.String("synthesis.path", string(s.SynthesisPath)),
		)
		span.End()
	}()

	o.planner.PlanInto(ctx, s, userMessage, o.tools)
	emit(obs, Event{
		Type:        EventPlanned,
		StrategyID:  s.ID,
		Steps:       stepCopies(s.Steps),
		ParseFailed: s.ParseFailed,
	})

	o.executor.RunObserved(ctx, s, userMessage, o.invoker, obs)

	answer = o.synthesizer.Answer(ctx, userMessage, s)
	emit(obs, Event{
		Type:       EventAnswered,
		StrategyID: s.ID,
		Answer:     answer,
		Path:       string(s.SynthesisPath),
	})

	o.logger.Info("Turn completed",
		slog.String("strategy_id", s.ID),
		slog.Int("steps", len(s.Steps)),
		slog.Bool("parse_failed", s.ParseFailed),
		slog.String("path", string(s.SynthesisPath)),
		slog.Int64("total_ms", time.Since(start).Milliseconds()),
	)
	return s, answer
}
