// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the raw-HTTP chat clients used by the strategy engine's
// planning and synthesis roles, plus log redaction helpers shared by every
// component that prints provider or tool error text.
package llm

// Message is a single chat turn sent to a provider.
//
// Role is one of "system", "user" or "assistant". Clients map unknown roles
// to "user".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries optional sampling settings for one request.
//
// Description:
//
//	Pointer fields distinguish "unset, use the provider default" from an
//	explicit zero. ModelOverride replaces the client's configured model for
//	a single call.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string
}

// NewGenerationParams builds params from the engine's completion settings.
//
// A negative temperature or a non-positive maxTokens leaves the field unset.
func NewGenerationParams(maxTokens int, temperature float64) GenerationParams {
	params := GenerationParams{}
	if temperature >= 0 {
		t := float32(temperature)
		params.Temperature = &t
	}
	if maxTokens > 0 {
		m := maxTokens
		params.MaxTokens = &m
	}
	return params
}
