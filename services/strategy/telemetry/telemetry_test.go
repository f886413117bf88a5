// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestSetup_StdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	p, err := Setup(ctx, Config{
		ServiceName:   "strategyd-test",
		TraceExporter: ExporterStdout,
		MetricReader:  MetricsPrometheus,
		Registerer:    prometheus.NewRegistry(),
		Writer:        &buf,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := otel.Tracer("telemetry_test").Start(ctx, "telemetry.Test")
	span.End()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "telemetry.Test") {
		t.Errorf("stdout exporter output missing span name: %s", buf.String())
	}
}

func TestSetup_StdoutMetrics(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{
		TraceExporter:  ExporterNone,
		MetricReader:   MetricsStdout,
		MetricInterval: time.Hour,
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Config{TraceExporter: "zipkin"}); err == nil {
		t.Error("expected error for unknown trace exporter")
	}
	if _, err := Setup(context.Background(), Config{MetricReader: "statsd"}); err == nil {
		t.Error("expected error for unknown metric reader")
	}
	if _, err := Setup(context.Background(), Config{TraceExporter: ExporterOTLP}); err == nil {
		t.Error("expected error for otlp without endpoint")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("STRATEGY_TRACE_EXPORTER", "")
	t.Setenv("STRATEGY_METRIC_READER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := ConfigFromEnv("strategyd")
	if cfg.TraceExporter != ExporterOTLP {
		t.Errorf("TraceExporter = %q, want otlp", cfg.TraceExporter)
	}
	if cfg.MetricReader != MetricsPrometheus {
		t.Errorf("MetricReader = %q, want prometheus", cfg.MetricReader)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := ConfigFromEnv("strategyd").TraceExporter; got != ExporterNone {
		t.Errorf("TraceExporter = %q, want none", got)
	}
}

func TestTurnPoint(t *testing.T) {
	s := engine.NewStrategy()
	s.PlanLatencyMs = 10
	s.ExecutionMs = 20
	s.FinalLatencyMs = 30
	s.SynthesisPath = engine.PathToolResults
	s.Steps = []*engine.Step{
		{Index: 1, ToolKey: "a", Output: map[string]any{"ok": true}},
		{Index: 2, ToolKey: "b", Output: map[string]any{"error": "boom"}},
	}

	ts := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	p := TurnPoint(s, ts)

	if p.Name() != TurnMeasurement {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v", p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["synthesis_path"] != "tool_results" || tags["parse_failed"] != "false" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["total_ms"] != int64(60) {
		t.Errorf("total_ms = %v (%T)", fields["total_ms"], fields["total_ms"])
	}
	if fields["failed_steps"] != int64(1) {
		t.Errorf("failed_steps = %v (%T)", fields["failed_steps"], fields["failed_steps"])
	}
}

func TestTurnRecorder_NonBlocking(t *testing.T) {
	// Unreachable server: RecordTurn must still return immediately.
	r := NewTurnRecorder(InfluxConfig{URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"}, nil)
	done := make(chan struct{})
	go func() {
		r.RecordTurn(context.Background(), engine.NewStrategy())
		r.RecordTurn(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordTurn blocked")
	}
}
