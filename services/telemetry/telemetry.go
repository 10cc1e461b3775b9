// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires process-wide logging and tracing for the
// investigate binaries.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config.TraceExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config controls logging and tracing.
type Config struct {
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`

	// OTLPEndpoint is host:port of an OTLP/gRPC collector.
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns text logs at info and no trace export.
func DefaultConfig(serviceName string) Config {
	return Config{
		LogFormat:     "text",
		LogLevel:      "info",
		TraceExporter: ExporterNone,
		ServiceName:   serviceName,
	}
}

// ApplyEnv overrides cfg from LOG_FORMAT, LOG_LEVEL, OTEL_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT when they are set.
func (cfg *Config) ApplyEnv() {
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER"); v != "" {
		cfg.TraceExporter = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
}

// NewLogger builds a slog.Logger writing to w.
//
// Unknown levels fall back to info; unknown formats fall back to text.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	if cfg.ServiceName != "" {
		logger = logger.With(slog.String("service", cfg.ServiceName))
	}
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// SetupTracing installs the global tracer provider and W3C propagator.
//
// # Description
//
// The propagator is always installed so incoming traceparent headers are
// honoured even when no exporter is configured. With ExporterNone the
// global provider is left as the otel no-op.
//
// # Inputs
//
//   - ctx: Used to construct the OTLP exporter.
//   - cfg: Exporter selection.
//
// # Outputs
//
//   - ShutdownFunc: Never nil. Call on exit to flush spans.
//   - error: Non-nil for an unknown exporter or exporter construction failure.
func SetupTracing(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context) error { return nil }

	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return noop, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		exporter = exp
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return noop, fmt.Errorf("telemetry: otlp exporter requires an endpoint")
		}
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return noop, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		exporter = exp
	default:
		return noop, fmt.Errorf("telemetry: unknown trace exporter %q", cfg.TraceExporter)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "aleutian-investigate"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
