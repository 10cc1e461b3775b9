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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "investigate.pipeline"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

var (
	// phaseDuration measures each phase.
	//
	// Labels:
	//   - phase: converser, translation, execution, consolidation
	//   - status: "success", "error", "rejected", "clarification"
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "investigate",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of investigation phases in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase", "status"},
	)

	// runsTotal counts runs by outcome.
	//
	// Labels:
	//   - outcome: completed, awaiting_clarification, rejected, failed,
	//     busy, closed
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total investigation runs by outcome.",
		},
		[]string{"outcome"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "investigate",
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Number of investigation runs in progress.",
		},
	)
)

func observePhase(phase Phase, status string, start time.Time) {
	phaseDuration.WithLabelValues(string(phase), status).Observe(time.Since(start).Seconds())
}
