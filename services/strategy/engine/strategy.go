// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine plans, executes and answers one user turn.
//
// A turn flows Planner -> Executor -> Synthesizer, coordinated by the
// Orchestrator. The three stages share one *Strategy and fill it in place.
//
// Ownership:
//
//	The Orchestrator owns a Strategy for the duration of one turn. Each
//	stage receives exclusive mutable access while it runs; no two stages
//	touch it concurrently and it is never reused across turns.
//
// Failure policy:
//
//	Plan, Run and Answer never return errors and never panic on
//	collaborator failures. Every failure is recorded as data on the
//	Strategy, and the user gets an apology instead of raw error text.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// MarkerToolKey is the ToolKey of the synthetic step recorded when a plan
// could not be parsed. The executor never invokes it.
const MarkerToolKey = "error"

// SynthesisPath names which synthesis prompt answered a turn.
type SynthesisPath string

const (
	// PathNone means synthesis has not run yet.
	PathNone SynthesisPath = ""

	// PathDirect answers without tool context.
	PathDirect SynthesisPath = "direct"

	// PathToolResults answers from the executed steps.
	PathToolResults SynthesisPath = "tool_results"
)

// Step is one planned, then executed, tool call.
//
// Output is nil exactly until the Executor processes the step and is
// never overwritten afterwards.
type Step struct {
	// Index is the step number as emitted by the planner. Used only for
	// identification; execution follows slice order.
	Index int `json:"step"`

	// ToolKey references a registry tool.
	ToolKey string `json:"tool"`

	// Rationale is the planner's stated reason. Not authoritative.
	Rationale string `json:"reason"`

	// Input is the text sent to the tool.
	Input string `json:"input,omitempty"`

	// Output is the tool result or an {"error": ...} payload.
	Output map[string]any `json:"output"`

	// DurationMs is the wall time of the tool call.
	DurationMs int64 `json:"duration_ms"`

	// Trace is the tool's opaque debug_info payload.
	Trace any `json:"trace,omitempty"`
}

// Executed reports whether the executor has filled Output.
func (s *Step) Executed() bool {
	return s.Output != nil
}

// Failed reports whether Output is an error payload.
func (s *Step) Failed() bool {
	if s.Output == nil {
		return false
	}
	_, ok := s.Output["error"]
	return ok
}

// Strategy is the unit of work for one user turn.
type Strategy struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Steps     []*Step   `json:"steps"`

	// Planning.
	PlanPrompt        string `json:"plan_prompt"`
	PlanRawResponse   string `json:"plan_raw_response"`
	PlanLatencyMs     int64  `json:"plan_latency_ms"`
	RepairAttempted   bool   `json:"repair_attempted"`
	RepairRawResponse string `json:"repair_raw_response,omitempty"`
	RepairLatencyMs   int64  `json:"repair_latency_ms,omitempty"`

	// Parse failure. When ParseFailed is set Steps holds a single marker
	// step and synthesis takes the direct path.
	ParseFailed         bool   `json:"parse_failed"`
	ParseErrorMessage   string `json:"parse_error_message,omitempty"`
	RawUnparsedResponse string `json:"raw_unparsed_response,omitempty"`

	// Execution.
	ExecutionMs int64 `json:"execution_ms"`

	// Synthesis. ConversationContext holds earlier turns of the same
	// conversation, already formatted for the answer prompts.
	ConversationContext string        `json:"conversation_context,omitempty"`
	FinalPrompt         string        `json:"final_prompt"`
	FinalResponse       string        `json:"final_response"`
	FinalLatencyMs      int64         `json:"final_latency_ms"`
	SynthesisPath       SynthesisPath `json:"synthesis_path"`
}

// NewStrategy creates an empty strategy with a fresh ID.
func NewStrategy() *Strategy {
	return &Strategy{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Steps:     []*Step{},
	}
}

// Executed reports whether every step has output. Vacuously true for an
// empty plan.
func (s *Strategy) Executed() bool {
	for _, st := range s.Steps {
		if !st.Executed() {
			return false
		}
	}
	return true
}

// ExecutedSteps returns the steps that have output, in order.
func (s *Strategy) ExecutedSteps() []*Step {
	out := make([]*Step, 0, len(s.Steps))
	for _, st := range s.Steps {
		if st.Executed() {
			out = append(out, st)
		}
	}
	return out
}

// ToolKeys returns the planned tool keys in order.
func (s *Strategy) ToolKeys() []string {
	keys := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		keys[i] = st.ToolKey
	}
	return keys
}

// TotalLatencyMs is planning, repair, execution and synthesis time combined.
func (s *Strategy) TotalLatencyMs() int64 {
	return s.PlanLatencyMs + s.RepairLatencyMs + s.ExecutionMs + s.FinalLatencyMs
}
