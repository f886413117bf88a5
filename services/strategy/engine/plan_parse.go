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
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParsePlan decodes LLM output against the plan contract
// {"steps":[{"step":<int>,"tool":"<key>","reason":"<text>"}]}.
//
// # Description
//
// Tolerates markdown code fences and prose around one JSON object. The
// top level must be an object with a "steps" array; every element needs
// an integer "step" and a non-empty string "tool". "reason" is optional.
// Steps are returned in array order with no dedup or reorder. An empty
// array is a valid plan.
//
// # Outputs
//
//   - []*Step: Planned steps, never nil on success.
//   - error: Describes the first contract violation.
func ParsePlan(raw string) ([]*Step, error) {
	candidates := planCandidates(raw)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	var firstErr error
	for _, c := range candidates {
		steps, err := decodePlan(c)
		if err == nil {
			return steps, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// planCandidates returns the texts worth decoding, most specific first:
// the fence-stripped response, its outermost {...} span, then the
// outermost span of the untouched response.
func planCandidates(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	text := stripCodeFence(trimmed)
	if text == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool, 3)
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	add(text)
	add(objectSpan(text))
	add(objectSpan(trimmed))
	return out
}

func objectSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// stripCodeFence removes a surrounding ```json ... ``` block, or extracts
// the first fenced block when prose surrounds it.
func stripCodeFence(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	body := s[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		lang := strings.TrimSpace(body[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func decodePlan(text string) ([]*Step, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("not a JSON object: %v", err)
	}

	rawSteps, ok := top["steps"]
	if !ok {
		return nil, fmt.Errorf(`missing required key "steps"`)
	}
	rawSteps = bytes.TrimSpace(rawSteps)
	if len(rawSteps) == 0 || rawSteps[0] != '[' {
		return nil, fmt.Errorf(`"steps" must be an array`)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawSteps, &items); err != nil {
		return nil, fmt.Errorf(`decode "steps": %v`, err)
	}

	steps := make([]*Step, 0, len(items))
	for i, item := range items {
		st, err := decodeStep(item)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %v", i, err)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func decodeStep(item json.RawMessage) (*Step, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, fmt.Errorf("not an object")
	}

	rawIndex, ok := fields["step"]
	if !ok {
		return nil, fmt.Errorf(`missing required key "step"`)
	}
	var num float64
	if err := json.Unmarshal(rawIndex, &num); err != nil || num != math.Trunc(num) || math.Abs(num) > math.MaxInt32 {
		return nil, fmt.Errorf(`"step" must be an integer`)
	}

	rawTool, ok := fields["tool"]
	if !ok {
		return nil, fmt.Errorf(`missing required key "tool"`)
	}
	var tool string
	if err := json.Unmarshal(rawTool, &tool); err != nil {
		return nil, fmt.Errorf(`"tool" must be a string`)
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, fmt.Errorf(`"tool" is empty`)
	}

	var reason string
	if rawReason, ok := fields["reason"]; ok && string(bytes.TrimSpace(rawReason)) != "null" {
		if err := json.Unmarshal(rawReason, &reason); err != nil {
			return nil, fmt.Errorf(`"reason" must be a string`)
		}
	}

	return &Step{Index: int(num), ToolKey: tool, Rationale: reason}, nil
}
