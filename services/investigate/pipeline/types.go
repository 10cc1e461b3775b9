// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs an investigation: query refinement with a
// clarification loop, parallel translation into structured and graph
// queries, parallel execution, and consolidation.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// RefinementAPI is the converser endpoint.
type RefinementAPI interface {
	Refine(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error)
}

// TranslationAPI is the pair of translation endpoints.
type TranslationAPI interface {
	TranslateSQL(ctx context.Context, req agents.TranslationRequest) (*agents.SQLTranslation, error)
	TranslateCypher(ctx context.Context, req agents.TranslationRequest) (*agents.CypherTranslation, error)
}

// ExecutionAPI is the pair of execution endpoints.
type ExecutionAPI interface {
	ExecuteSQL(ctx context.Context, queries agents.SQLTranslation) (*agents.ExecutionResult, error)
	ExecuteCypher(ctx context.Context, queries agents.CypherTranslation) (*agents.ExecutionResult, error)
}

// ConsolidationAPI is the consolidation endpoint.
type ConsolidationAPI interface {
	Consolidate(ctx context.Context, req agents.ConsolidationRequest) (*agents.ConsolidationResponse, error)
}

// AgentAPI is every endpoint the pipeline calls. *agents.Client implements it.
type AgentAPI interface {
	RefinementAPI
	TranslationAPI
	ExecutionAPI
	ConsolidationAPI
}

// ResultArchive persists completed results.
type ResultArchive interface {
	Save(ctx context.Context, result *Result) error
}

// Query is one generated query with its purpose.
type Query struct {
	Purpose string `json:"purpose"`
	Text    string `json:"query"`
	Detail  string `json:"detail,omitempty"`
}

// ExecutionSummary holds the counts produced by the execution phase.
type ExecutionSummary struct {
	StructuredQueries  int `json:"structured_queries"`
	GraphQueries       int `json:"graph_queries"`
	FailedQueries      int `json:"failed_queries"`
	TotalRows          int `json:"total_rows"`
	TotalNodes         int `json:"total_nodes"`
	TotalRelationships int `json:"total_relationships"`
}

// Confidence is the consolidation's confidence level.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence normalizes s case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, nil
	default:
		return "", fmt.Errorf("invalid confidence level %q", s)
	}
}

// DataQuality describes how complete and reliable a consolidation is.
type DataQuality struct {
	CoveragePercentage float64    `json:"coverage_percentage"`
	Confidence         Confidence `json:"confidence_level"`
	MissingElements    []string   `json:"missing_elements"`
	ReliabilityNotes   string     `json:"reliability_notes,omitempty"`
}

// ConsolidatedContext is the merged narrative of an investigation.
type ConsolidatedContext struct {
	QueryContext    string                   `json:"query_context"`
	KeyInsights     []string                 `json:"key_insights"`
	DataQuality     DataQuality              `json:"data_quality"`
	Details         *agents.ConsolidatedData `json:"details,omitempty"`
	Recommendations *agents.Recommendations  `json:"recommendations,omitempty"`
}

// Result is a completed investigation.
type Result struct {
	ConversationID     string              `json:"conversation_id"`
	RefinedQuery       string              `json:"refined_query"`
	StructuredQueries  []Query             `json:"structured_queries"`
	GraphQueries       []Query             `json:"graph_queries"`
	AnalysisFocus      string              `json:"analysis_focus,omitempty"`
	InvestigationAngle string              `json:"investigation_angle,omitempty"`
	ExecutionSummary   ExecutionSummary    `json:"execution_summary"`
	Consolidated       ConsolidatedContext `json:"consolidated_context"`
	CompletedAt        time.Time           `json:"completed_at"`
}

// OutcomeState is how a run ended when it did not fail.
type OutcomeState string

const (
	StateCompleted             OutcomeState = "completed"
	StateAwaitingClarification OutcomeState = "awaiting_clarification"
	StateRejected              OutcomeState = "rejected"
)

// Outcome is the result of Orchestrator.Run.
//
// Fields:
//   - Message: Converser message for clarifications, decline text for rejections.
//   - Followups: Questions for the user when awaiting clarification.
//   - Closed: The conversation cannot continue; start a new one.
//   - Result: Set when State is StateCompleted.
type Outcome struct {
	State          OutcomeState `json:"state"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Message        string       `json:"message,omitempty"`
	Followups      []string     `json:"followups,omitempty"`
	Closed         bool         `json:"closed,omitempty"`
	Result         *Result      `json:"result,omitempty"`
}

// EventState is the state reported by a PhaseEvent.
type EventState string

const (
	EventStarted   EventState = "started"
	EventCompleted EventState = "completed"
	EventFailed    EventState = "failed"
)

// PhaseEvent reports progress of a run.
type PhaseEvent struct {
	ConversationID string     `json:"conversation_id"`
	Phase          Phase      `json:"phase"`
	State          EventState `json:"state"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Observer receives progress events. Events are delivered synchronously on
// the goroutine that called Run, in order.
type Observer interface {
	OnPhase(event PhaseEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event PhaseEvent)

// OnPhase implements Observer.
func (f ObserverFunc) OnPhase(event PhaseEvent) {
	f(event)
}
