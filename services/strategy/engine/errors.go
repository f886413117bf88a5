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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// ErrPlanParse marks LLM output that does not match the plan contract.
var ErrPlanParse = errors.New("plan does not match the plan JSON contract")

// Parse stages.
const (
	StageInitial = "initial"
	StageRepair  = "repair"
)

// PlanParseError describes why one plan text was rejected.
type PlanParseError struct {
	// Stage is StageInitial or StageRepair.
	Stage string

	// Reason is the human-readable cause.
	Reason string
}

// Error implements error.
func (e *PlanParseError) Error() string {
	return fmt.Sprintf("%s plan: %s", e.Stage, e.Reason)
}

// Unwrap lets errors.Is match ErrPlanParse.
func (e *PlanParseError) Unwrap() error {
	return ErrPlanParse
}

// sentinelPrefix marks LLM failures stored in Strategy text fields.
const sentinelPrefix = "ERROR: "

// llmSentinel converts an LLM error to the text recorded on the Strategy.
func llmSentinel(err error) string {
	return sentinelPrefix + llm.SafeLogString(err.Error())
}

// IsLLMSentinel reports whether a Strategy text field holds an LLM failure.
func IsLLMSentinel(s string) bool {
	return strings.HasPrefix(s, sentinelPrefix)
}
