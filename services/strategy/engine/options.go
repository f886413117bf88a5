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
	"log/slog"
	"time"
)

// DefaultApology is returned to the user when a turn cannot be answered.
const DefaultApology = "Sorry, an error occurred while generating the answer. Please try again."

// Config holds the engine's tuning knobs.
type Config struct {
	PlanMaxTokens      int
	PlanTemperature    float64
	SynthMaxTokens     int
	SynthTemperature   float64
	LLMTimeout         time.Duration
	ToolTimeout        time.Duration
	ApologyMessage     string
	ParseFailureAdvice string
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PlanMaxTokens:      1000,
		PlanTemperature:    0.1,
		SynthMaxTokens:     2000,
		SynthTemperature:   0.1,
		LLMTimeout:         60 * time.Second,
		ToolTimeout:        30 * time.Second,
		ApologyMessage:     DefaultApology,
		ParseFailureAdvice: "The planning model returned an unreadable plan. Try rephrasing the question or check the planning prompt.",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PlanMaxTokens <= 0 {
		c.PlanMaxTokens = d.PlanMaxTokens
	}
	if c.SynthMaxTokens <= 0 {
		c.SynthMaxTokens = d.SynthMaxTokens
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	if c.ApologyMessage == "" {
		c.ApologyMessage = d.ApologyMessage
	}
	if c.ParseFailureAdvice == "" {
		c.ParseFailureAdvice = d.ParseFailureAdvice
	}
	return c
}

// Option configures engine components.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
