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
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TurnMeasurement is the InfluxDB measurement name for finished turns.
const TurnMeasurement = "strategy_turn"

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxConfigFromEnv reads STRATEGY_INFLUX_URL, _TOKEN, _ORG and _BUCKET.
// ok is false when the URL is unset.
func InfluxConfigFromEnv() (cfg InfluxConfig, ok bool) {
	cfg = InfluxConfig{
		URL:    os.Getenv("STRATEGY_INFLUX_URL"),
		Token:  os.Getenv("STRATEGY_INFLUX_TOKEN"),
		Org:    os.Getenv("STRATEGY_INFLUX_ORG"),
		Bucket: os.Getenv("STRATEGY_INFLUX_BUCKET"),
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "strategy"
	}
	return cfg, cfg.URL != ""
}

// TurnRecorder writes one point per finished turn to InfluxDB.
//
// Description:
//
//	Implements engine.TurnSink with the client's asynchronous write API,
//	so RecordTurn never waits on the network. Write errors are drained
//	and logged.
//
// Thread Safety: Safe for concurrent use.
type TurnRecorder struct {
	client influxdb2.Client
	writer api.WriteAPI
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// NewTurnRecorder connects a recorder. The client is lazy; no request is
// made until the first flush.
func NewTurnRecorder(cfg InfluxConfig, logger *slog.Logger) *TurnRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(5000))
	r := &TurnRecorder{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drainErrors(r.writer.Errors())
	return r
}

func (r *TurnRecorder) drainErrors(errs <-chan error) {
	for {
		select {
		case <-r.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.Warn("influx turn write failed",
				slog.String("error", llm.SafeLogString(err.Error())),
			)
		}
	}
}

// RecordTurn implements engine.TurnSink.
func (r *TurnRecorder) RecordTurn(_ context.Context, s *engine.Strategy) {
	if s == nil {
		return
	}
	r.writer.WritePoint(TurnPoint(s, time.Now()))
}

// Close flushes pending points and closes the client.
func (r *TurnRecorder) Close() {
	r.once.Do(func() {
		r.writer.Flush()
		close(r.done)
		r.client.Close()
	})
}

// TurnPoint converts a finished strategy into an InfluxDB point.
func TurnPoint(s *engine.Strategy, ts time.Time) *write.Point {
	path := string(s.SynthesisPath)
	if path == "" {
		path = "none"
	}
	tags := map[string]string{
		"synthesis_path": path,
		"parse_failed":   strconv.FormatBool(s.ParseFailed),
	}

	failed := 0
	for _, st := range s.Steps {
		if st.Failed() {
			failed++
		}
	}
	fields := map[string]any{
		"strategy_id":      s.ID,
		"steps":            len(s.Steps),
		"failed_steps":     failed,
		"plan_ms":          s.PlanLatencyMs,
		"repair_ms":        s.RepairLatencyMs,
		"execution_ms":     s.ExecutionMs,
		"synthesis_ms":     s.FinalLatencyMs,
		"total_ms":         s.TotalLatencyMs(),
		"repair_attempted": s.RepairAttempted,
	}
	return influxdb2.NewPoint(TurnMeasurement, tags, fields, ts)
}
