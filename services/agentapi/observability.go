// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "investigate.agentapi"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

var (
	// agentDuration measures each agent invocation.
	//
	// Labels:
	//   - agent: converser, sql_translate, cypher_translate, execute_sql,
	//     execute_cypher, consolidate
	//   - status: "success", "invalid_output", "error"
	agentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "investigate",
			Subsystem: "agentapi",
			Name:      "agent_duration_seconds",
			Help:      "Duration of agent invocations in seconds.",
			Buckets:   []float64{0.05, 0.25, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent", "status"},
	)

	// converserDecisions counts refinement outcomes by status.
	converserDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "agentapi",
			Name:      "converser_decisions_total",
			Help:      "Converser decisions by status.",
		},
		[]string{"status"},
	)

	executedQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "agentapi",
			Name:      "executed_queries_total",
			Help:      "Executed queries by backend and result.",
		},
		[]string{"execution_type", "result"},
	)
)

func observeAgent(agent string, err error, start time.Time) {
	agentDuration.WithLabelValues(agent, statusLabel(err)).Observe(time.Since(start).Seconds())
}
