// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide OpenTelemetry tracer and
// meter providers and the optional InfluxDB turn sink.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// Trace exporter names accepted by Config.TraceExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Metric reader names accepted by Config.MetricReader.
const (
	MetricsPrometheus = "prometheus"
	MetricsStdout     = "stdout"
	MetricsNone       = "none"
)

// Config selects exporters.
type Config struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string

	// ServiceVersion is recorded as service.version when non-empty.
	ServiceVersion string

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string

	// OTLPEndpoint is the collector's host:port for the otlp exporter.
	OTLPEndpoint string

	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool

	// MetricReader is "prometheus", "stdout" or "none".
	MetricReader string

	// MetricInterval is the stdout metric export period.
	MetricInterval time.Duration

	// Registerer receives the OTel Prometheus collector. Nil uses
	// prometheus.DefaultRegisterer so /metrics serves promauto and OTel
	// instruments together.
	Registerer prometheus.Registerer

	// Writer receives stdout exporter output. Nil uses os.Stdout.
	Writer io.Writer
}

// ConfigFromEnv builds a Config from OTEL_EXPORTER_OTLP_ENDPOINT,
// STRATEGY_TRACE_EXPORTER and STRATEGY_METRIC_READER.
//
// An OTLP endpoint alone selects the otlp exporter.
func ConfigFromEnv(serviceName string) Config {
	cfg := Config{
		ServiceName:   serviceName,
		TraceExporter: os.Getenv("STRATEGY_TRACE_EXPORTER"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:  os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false",
		MetricReader:  os.Getenv("STRATEGY_METRIC_READER"),
	}
	if cfg.TraceExporter == "" {
		if cfg.OTLPEndpoint != "" {
			cfg.TraceExporter = ExporterOTLP
		} else {
			cfg.TraceExporter = ExporterNone
		}
	}
	if cfg.MetricReader == "" {
		cfg.MetricReader = MetricsPrometheus
	}
	return cfg
}

// Providers holds the installed SDK providers.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Setup builds the providers described by cfg and installs them as the
// global OTel providers along with the W3C trace-context propagator.
//
// Description:
//
//	A tracer provider is always installed so spans carry valid IDs for log
//	correlation; with exporter "none" it samples nothing out of process.
//
// Outputs:
//
//	*Providers - Installed providers. Call Shutdown on exit.
//	error - Non-nil if an exporter could not be created.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "strategyd"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res := resource.NewSchemaless(attrs...)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	mp, err := newMeterProvider(cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("telemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_reader", cfg.MetricReader),
	)
	return &Providers{Tracer: tp, Meter: mp}, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch cfg.TraceExporter {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, fmt.Errorf("otlp trace exporter requires OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		clientOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (valid: none, stdout, otlp)", cfg.TraceExporter)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch cfg.MetricReader {
	case "", MetricsNone:
	case MetricsPrometheus:
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exp, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	case MetricsStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	default:
		return nil, fmt.Errorf("unknown metric reader %q (valid: prometheus, stdout, none)", cfg.MetricReader)
	}

	return sdkmetric.NewMeterProvider(opts...), nil
}
