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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// debugInfoKey is stripped from outputs before they feed the next step.
const debugInfoKey = "debug_info"

// unknownToolLabel replaces tool keys the invoker could not resolve in
// metric labels. Planned keys come from the model and are unbounded.
const unknownToolLabel = "unknown"

var errNoInvoker = errors.New("no tool invoker configured")

// Executor walks a Strategy's steps in order and fills their outputs.
//
// Thread Safety: Safe for concurrent use across different Strategies.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an executor. cfg.ToolTimeout bounds every call.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	o := buildOptions(opts)
	return &Executor{cfg: cfg.withDefaults(), logger: o.logger}
}

// Run executes s in place. See RunObserved.
func (e *Executor) Run(ctx context.Context, s *Strategy, userMessage string, invoker ToolInvoker) {
	e.RunObserved(ctx, s, userMessage, invoker, nil)
}

// RunObserved executes s in place and reports step progress to obs.
//
// Description:
//
//	If s.ParseFailed, only the marker step's output is filled; no tools
//	run. Otherwise steps run strictly in slice order. Step 1 receives
//	userMessage. Each later step receives the JSON of the previous
//	output with debug_info removed. A failing step records an
//	{"error": ...} output and the walk continues with that payload.
//	Steps that already have output are skipped but still feed the chain.
//
// Inputs:
//
//	ctx         - Parent context; each tool call gets its own timeout.
//	s           - Strategy to fill. Exclusive access for the duration.
//	userMessage - Input of the first step.
//	invoker     - Tool transport. Nil makes every step an error output.
//	obs         - Optional progress observer.
func (e *Executor) RunObserved(ctx context.Context, s *Strategy, userMessage string, invoker ToolInvoker, obs Observer) {
	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Executor.Run",
		trace.WithAttributes(
			attribute.String("strategy.id", s.ID),
			attribute.Int("plan.steps", len(s.Steps)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() { s.ExecutionMs = time.Since(start).Milliseconds() }()

	if s.ParseFailed {
		for _, st := range s.Steps {
			if st.ToolKey == MarkerToolKey && st.Output == nil {
				st.Input = userMessage
				st.Output = parseFailurePayload(s, e.cfg.ParseFailureAdvice)
				st.Trace = map[string]any{
					"parse_error":   true,
					"error_message": s.ParseErrorMessage,
					"raw_response":  s.RawUnparsedResponse,
				}
			}
		}
		span.SetAttributes(attribute.Bool("plan.parse_failed", true))
		return
	}

	current := userMessage
	failures := 0
	for _, st := range s.Steps {
		if st.Executed() {
			current = NextInput(st.Output)
			continue
		}

		emit(obs, Event{Type: EventStepStarted, StrategyID: s.ID, Step: stepCopy(st)})

		out, elapsed, callErr := e.callTool(ctx, invoker, st.ToolKey, current)
		st.Input = current
		st.Output = out
		st.DurationMs = elapsed.Milliseconds()
		st.Trace = out[debugInfoKey]

		status := "ok"
		if st.Failed() {
			status = "error"
			failures++
			e.logger.Warn("Tool step failed, continuing",
				slog.String("strategy_id", s.ID),
				slog.Int("step", st.Index),
				slog.String("tool", st.ToolKey),
				slog.String("error", llm.SafeLogString(fmt.Sprint(out["error"]))),
			)
		}
		stepDuration.WithLabelValues(stepToolLabel(st.ToolKey, callErr), status).Observe(elapsed.Seconds())

		current = NextInput(out)
		emit(obs, Event{Type: EventStepCompleted, StrategyID: s.ID, Step: stepCopy(st)})
	}

	span.SetAttributes(attribute.Int("steps.failed", failures))
	e.logger.Debug("Strategy executed",
		slog.String("strategy_id", s.ID),
		slog.Int("steps", len(s.Steps)),
		slog.Int("failed", failures),
		slog.Duration("took", time.Since(start)),
	)
}

type toolResult struct {
	out map[string]any
	err error
}

// callTool runs one tool call under the tool timeout. It always returns a
// non-nil output map; the error is the invoker's, for classification only.
func (e *Executor) callTool(ctx context.Context, invoker ToolInvoker, toolKey, input string) (map[string]any, time.Duration, error) {
	start := time.Now()
	if invoker == nil {
		return map[string]any{"error": errNoInvoker.Error()}, time.Since(start), errNoInvoker
	}

	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "engine.Executor.callTool",
		trace.WithAttributes(attribute.String("tool", toolKey)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	done := make(chan toolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Tool invoker panicked",
					slog.String("tool", toolKey),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- toolResult{err: fmt.Errorf("tool call panicked: %v", r)}
			}
		}()
		out, err := invoker.Call(ctx, toolKey, input)
		done <- toolResult{out: out, err: err}
	}()

	var res toolResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = toolResult{err: fmt.Errorf("tool %s timed out after %s: %w", toolKey, e.cfg.ToolTimeout, ctx.Err())}
	}
	elapsed := time.Since(start)

	if res.err != nil {
		span.RecordError(res.err)
		span.SetAttributes(attribute.Bool("tool.timeout", isTimeout(res.err)))
		out := map[string]any{"error": res.err.Error()}
		if dbg, ok := res.out[debugInfoKey]; ok {
			out[debugInfoKey] = dbg
		}
		return out, elapsed, res.err
	}
	if res.out == nil {
		return map[string]any{"result": nil}, elapsed, nil
	}

	out := make(map[string]any, len(res.out))
	for k, v := range res.out {
		out[k] = v
	}
	return out, elapsed, nil
}

// stepToolLabel returns toolKey, or unknownToolLabel when the call never
// reached a resolved tool.
func stepToolLabel(toolKey string, err error) string {
	if err == nil {
		return toolKey
	}
	if errors.Is(err, errNoInvoker) {
		return unknownToolLabel
	}
	var u interface{ UnknownTool() bool }
	if errors.As(err, &u) && u.UnknownTool() {
		return unknownToolLabel
	}
	return toolKey
}

// NextInput serializes out for the next step with debug_info removed.
//
// HTML characters are not escaped. If out cannot be serialized the
// result is an {"error": ...} JSON document.
func NextInput(out map[string]any) string {
	data, err := marshalCompact(withoutDebug(out))
	if err != nil {
		fallback, _ := marshalCompact(map[string]any{"error": "unserializable tool output: " + err.Error()})
		return fallback
	}
	return data
}

func withoutDebug(out map[string]any) map[string]any {
	if _, ok := out[debugInfoKey]; !ok {
		return out
	}
	clean := make(map[string]any, len(out))
	for k, v := range out {
		if k != debugInfoKey {
			clean[k] = v
		}
	}
	return clean
}

func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func marshalIndent(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func stepCopy(st *Step) *Step {
	c := *st
	return &c
}
