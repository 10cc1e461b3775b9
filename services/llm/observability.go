// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "investigate.llm"

var (
	// llmCallDuration measures the duration of chat-completion calls.
	//
	// Labels:
	//   - model: model name sent on the wire
	//   - status: "success" or "error"
	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "investigate",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM chat-completion calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of LLM chat-completion calls.",
		},
		[]string{"model", "status"},
	)

	// llmErrorsTotal counts failures by type.
	//
	// Labels:
	//   - error_type: "timeout", "auth", "rate_limit", "server", "empty_response", "unknown"
	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total LLM errors by type.",
		},
		[]string{"model", "error_type"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "investigate",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens reported by the provider.",
		},
		[]string{"model", "direction"},
	)
)

// classifyError maps an error to a label-safe error type string.
//
// Description:
//
//	Keeps Prometheus label cardinality bounded by bucketing raw error
//	messages into a fixed set of types.
//
// Outputs:
//
//	string - One of "timeout", "auth", "rate_limit", "server",
//	         "empty_response", "unknown". Empty for a nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var empty *EmptyResponseError
	if errors.As(err, &empty) {
		return "empty_response"
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case strings.Contains(msg, "status 5"):
		return "server"
	default:
		return "unknown"
	}
}

func recordCall(model string, duration time.Duration, promptTokens, completionTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
		llmErrorsTotal.WithLabelValues(model, classifyError(err)).Inc()
	}
	llmCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	llmCallsTotal.WithLabelValues(model, status).Inc()

	if err == nil {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(promptTokens))
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(completionTokens))
	}
}
