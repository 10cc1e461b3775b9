// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func spansByName(rec *tracetest.SpanRecorder) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range rec.Ended() {
		out[s.Name()] = s
	}
	return out
}

func TestTracing_PhaseSpansAreChildrenOfRun(t *testing.T) {
	rec := recordSpans(t)
	o, _ := newTestOrchestrator(&mockAgentAPI{}, Config{})

	_, err := o.Run(context.Background(), Request{Query: "calls from 9876543210", ConversationID: "trace-ok"})
	require.NoError(t, err)

	spans := spansByName(rec)
	run, ok := spans["pipeline.Orchestrator.Run"]
	require.True(t, ok)
	for _, name := range []string{
		"pipeline.Refiner.Refine",
		"pipeline.Translator.Translate",
		"pipeline.Executor.Execute",
		"pipeline.Consolidator.Consolidate",
	} {
		s, ok := spans[name]
		require.True(t, ok, name)
		assert.Equal(t, run.SpanContext().TraceID(), s.SpanContext().TraceID(), name)
		assert.Equal(t, codes.Unset, s.Status().Code, name)
	}
}

func TestTracing_FailedPhaseMarksSpans(t *testing.T) {
	rec := recordSpans(t)
	api := &mockAgentAPI{
		ConsolidateFunc: func(ctx context.Context, req agents.ConsolidationRequest) (*agents.ConsolidationResponse, error) {
			return nil, errors.New("model overloaded")
		},
	}
	o, _ := newTestOrchestrator(api, Config{})

	_, err := o.Run(context.Background(), Request{Query: "calls from 9876543210", ConversationID: "trace-fail"})
	require.Error(t, err)

	spans := spansByName(rec)
	require.Contains(t, spans, "pipeline.Consolidator.Consolidate")
	assert.Equal(t, codes.Error, spans["pipeline.Consolidator.Consolidate"].Status().Code)
	require.Contains(t, spans, "pipeline.Orchestrator.Run")
	run := spans["pipeline.Orchestrator.Run"]
	assert.Equal(t, codes.Error, run.Status().Code)
	assert.Equal(t, string(PhaseConsolidation), run.Status().Description)
}
