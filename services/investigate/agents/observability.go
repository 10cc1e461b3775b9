// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "investigate.agents"

var (
	// callDuration measures agent endpoint round trips.
	//
	// Labels:
	//   - operation: refine, translate_sql, translate_cypher, execute_sql,
	//     execute_cypher, consolidate, health
	//   - status: "success" or "error"
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "investigate",
			Subsystem: "agents",
			Name:      "call_duration_seconds",
			Help:      "Duration of agent endpoint calls in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "agents",
			Name:      "calls_total",
			Help:      "Total number of agent endpoint calls.",
		},
		[]string{"operation", "status"},
	)

	// errorsTotal counts failures by type.
	//
	// Labels:
	//   - error_type: "timeout", "canceled", "client_status", "server_status",
	//     "decode", "transport"
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "agents",
			Name:      "errors_total",
			Help:      "Total agent endpoint errors by type.",
		},
		[]string{"operation", "error_type"},
	)

	activeCalls = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "investigate",
			Subsystem: "agents",
			Name:      "active_calls",
			Help:      "Number of in-flight agent endpoint calls.",
		},
		[]string{"operation"},
	)
)

// classifyError maps a call error to a bounded label value.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 500 {
			return "server_status"
		}
		return "client_status"
	}
	if isDecodeError(err) {
		return "decode"
	}
	return "transport"
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func recordCall(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		errorsTotal.WithLabelValues(op, classifyError(err)).Inc()
	}
	callDuration.WithLabelValues(op, status).Observe(duration.Seconds())
	callsTotal.WithLabelValues(op, status).Inc()
}
