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
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const engineTracerName = "strategy.engine"

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strategy",
		Subsystem: "engine",
		Name:      "turns_total",
		Help:      "Completed turns by synthesis path and parse outcome",
	}, []string{"path", "parse_failed"})

	planDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strategy",
		Subsystem: "engine",
		Name:      "plan_duration_seconds",
		Help:      "Planning LLM call latency including repair",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"outcome"})

	parseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strategy",
		Subsystem: "engine",
		Name:      "plan_parse_failures_total",
		Help:      "Plan texts rejected by the plan contract, by stage",
	}, []string{"stage"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strategy",
		Subsystem: "engine",
		Name:      "step_duration_seconds",
		Help:      "Tool call latency per step",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool", "status"})

	synthesisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strategy",
		Subsystem: "engine",
		Name:      "synthesis_duration_seconds",
		Help:      "Synthesis LLM call latency by path",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"path"})
)

var (
	otelOnce          sync.Once
	turnCounter       metric.Int64Counter
	turnDurationHisto metric.Float64Histogram
)

func initOtelMetrics() {
	otelOnce.Do(func() {
		m := otel.Meter(engineTracerName)
		var err error
		turnCounter, err = m.Int64Counter(
			"strategy_turns",
			metric.WithDescription("Count of orchestrated turns."),
			metric.WithUnit("1"),
		)
		if err != nil {
			turnCounter = nil
		}
		turnDurationHisto, err = m.Float64Histogram(
			"strategy_turn_duration_seconds",
			metric.WithDescription("End-to-end turn duration in seconds."),
			metric.WithUnit("s"),
		)
		if err != nil {
			turnDurationHisto = nil
		}
	})
}

// recordTurnMetrics records one finished turn in both metric systems.
func recordTurnMetrics(ctx context.Context, s *Strategy, seconds float64) {
	path := string(s.SynthesisPath)
	if path == "" {
		path = "none"
	}
	failed := strconv.FormatBool(s.ParseFailed)
	turnsTotal.WithLabelValues(path, failed).Inc()

	initOtelMetrics()
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("parse_failed", s.ParseFailed),
	)
	if turnCounter != nil {
		turnCounter.Add(ctx, 1, attrs)
	}
	if turnDurationHisto != nil {
		turnDurationHisto.Record(ctx, seconds, attrs)
	}
}
