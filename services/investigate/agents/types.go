// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents defines the wire contract of the agent endpoints and an
// HTTP client for them.
package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Refinement statuses returned by the converser endpoint.
const (
	StatusConfirmed             = "confirmed"
	StatusCompleted             = "completed"
	StatusAwaitingDetails       = "awaiting_details"
	StatusAwaitingClarification = "awaiting_clarification"
	StatusRejected              = "rejected"
)

// RefineRequest is the converser endpoint input.
type RefineRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RefineResponse is the converser endpoint output.
type RefineResponse struct {
	Status         string   `json:"status"`
	RefinedQuery   string   `json:"refined_query,omitempty"`
	Followups      []string `json:"followups,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// NeedsClarification reports whether the converser asked for more details.
func (r *RefineResponse) NeedsClarification() bool {
	return r.Status == StatusAwaitingDetails || r.Status == StatusAwaitingClarification
}

// Rejected reports whether the converser declined the query.
func (r *RefineResponse) Rejected() bool {
	return r.Status == StatusRejected
}

// TranslationRequest is the input of both translation endpoints.
type TranslationRequest struct {
	RefinedQuery   string `json:"refined_query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SQLQuery is one structured query with its purpose.
type SQLQuery struct {
	Purpose string `json:"purpose"`
	SQL     string `json:"sql"`
	Table   string `json:"table,omitempty"`
}

// SQLTranslation is the structured translation endpoint output, and the
// structured execution endpoint input.
type SQLTranslation struct {
	Queries       []SQLQuery `json:"queries"`
	AnalysisFocus string     `json:"analysis_focus,omitempty"`
}

// CypherQuery is one graph query with its purpose.
type CypherQuery struct {
	Purpose     string         `json:"purpose"`
	Cypher      string         `json:"cypher"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// CypherTranslation is the graph translation endpoint output, and the graph
// execution endpoint input.
type CypherTranslation struct {
	Queries            []CypherQuery `json:"queries"`
	InvestigationAngle string        `json:"investigation_angle,omitempty"`
}

// QueryOutcome is the per-query execution record.
type QueryOutcome struct {
	Purpose           string           `json:"purpose"`
	Query             string           `json:"query"`
	Success           bool             `json:"success"`
	Error             string           `json:"error,omitempty"`
	RecordCount       int              `json:"record_count"`
	NodeCount         int              `json:"node_count,omitempty"`
	RelationshipCount int              `json:"relationship_count,omitempty"`
	Records           []map[string]any `json:"records,omitempty"`
	SampleData        []map[string]any `json:"sample_data,omitempty"`
}

// ExecutionSummary aggregates counts over one execution call.
type ExecutionSummary struct {
	TotalQueries       int    `json:"total_queries"`
	SuccessfulQueries  int    `json:"successful_queries"`
	FailedQueries      int    `json:"failed_queries"`
	TotalRows          int    `json:"total_rows"`
	TotalNodes         int    `json:"total_nodes"`
	TotalRelationships int    `json:"total_relationships"`
	ExecutionType      string `json:"execution_type,omitempty"`
}

// Validate rejects negative counts.
func (s ExecutionSummary) Validate() error {
	counts := map[string]int{
		"total_queries":       s.TotalQueries,
		"successful_queries":  s.SuccessfulQueries,
		"failed_queries":      s.FailedQueries,
		"total_rows":          s.TotalRows,
		"total_nodes":         s.TotalNodes,
		"total_relationships": s.TotalRelationships,
	}
	for name, v := range counts {
		if v < 0 {
			return fmt.Errorf("execution summary: %s is negative (%d)", name, v)
		}
	}
	return nil
}

// ExecutionResult is the output of both execution endpoints.
type ExecutionResult struct {
	Success          bool                    `json:"success"`
	Message          string                  `json:"message"`
	Data             map[string]QueryOutcome `json:"data"`
	ExecutionSummary ExecutionSummary        `json:"execution_summary"`
	DataSource       string                  `json:"data_source,omitempty"`
	Timestamp        string                  `json:"timestamp,omitempty"`
}

// ConsolidationRequest is the consolidation endpoint input.
type ConsolidationRequest struct {
	SQLData        *ExecutionResult `json:"sql_data"`
	CypherData     *ExecutionResult `json:"cypher_data"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

// SubjectProfile describes the primary subject of an investigation.
type SubjectProfile struct {
	PhoneNumber       FlexString `json:"phone_number,omitempty"`
	TotalCalls        FlexString `json:"total_calls,omitempty"`
	NetworkCentrality FlexString `json:"network_centrality,omitempty"`
	ActivePeriod      FlexString `json:"active_period,omitempty"`
}

// ConsolidatedData is the narrative body of a consolidation.
type ConsolidatedData struct {
	KeyInsights          []string        `json:"key_insights"`
	SubjectProfile       *SubjectProfile `json:"subject_profile,omitempty"`
	CommunicationSummary FlexString      `json:"communication_summary,omitempty"`
	LocationInsights     FlexString      `json:"location_insights,omitempty"`
	NetworkConnections   FlexString      `json:"network_connections,omitempty"`
	SuspiciousIndicators []string        `json:"suspicious_indicators,omitempty"`
	TimelineAnalysis     FlexString      `json:"timeline_analysis,omitempty"`
}

// DataQuality is the wire form of the data-quality record.
type DataQuality struct {
	CoveragePercentage Percent  `json:"coverage_percentage"`
	ConfidenceLevel    string   `json:"confidence_level"`
	MissingElements    []string `json:"missing_elements"`
	ReliabilityNotes   string   `json:"reliability_notes,omitempty"`
}

// Recommendations are follow-up actions suggested by the consolidation.
type Recommendations struct {
	ImmediateActions     []string   `json:"immediate_actions,omitempty"`
	FurtherInvestigation []string   `json:"further_investigation,omitempty"`
	RiskAssessment       FlexString `json:"risk_assessment,omitempty"`
}

// ConsolidationResponse is the consolidation endpoint output.
type ConsolidationResponse struct {
	QueryContext     string           `json:"query_context"`
	ConsolidatedData ConsolidatedData `json:"consolidated_data"`
	DataQuality      DataQuality      `json:"data_quality"`
	Recommendations  *Recommendations `json:"recommendations,omitempty"`
	ConversationID   string           `json:"conversation_id,omitempty"`
}

// HealthResponse is the health endpoint output.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FlexString decodes a JSON string, number, or boolean into a string.
// Model output is not strict about scalar types in free-text fields.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		// Nested structures are kept as compact JSON text.
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*f = FlexString(buf.String())
		return nil
	}
	*f = FlexString(data)
	return nil
}

// Percent decodes a number or a numeric string such as "85" or "85%".
type Percent float64

// UnmarshalJSON implements json.Unmarshaler.
func (p *Percent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = 0
		return nil
	}
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("percent: cannot parse %q", raw)
	}
	*p = Percent(v)
	return nil
}
