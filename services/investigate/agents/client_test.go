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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RefineRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/converser", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req RefineRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "calls from 9876543210", req.Query)
		assert.Equal(t, "conv_1", req.ConversationID)

		json.NewEncoder(w).Encode(RefineResponse{
			Status:         StatusConfirmed,
			RefinedQuery:   "All calls made from 9876543210",
			ConversationID: req.ConversationID,
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL + "/"})
	resp, err := c.Refine(context.Background(), RefineRequest{Query: "calls from 9876543210", ConversationID: "conv_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, resp.Status)
	assert.Equal(t, "All calls made from 9876543210", resp.RefinedQuery)
	assert.False(t, resp.NeedsClarification())
}

func TestClient_CustomPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sql", r.URL.Path)
		json.NewEncoder(w).Encode(SQLTranslation{Queries: []SQLQuery{{Purpose: "p", SQL: "SELECT 1"}}})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Paths: Paths{SQLTranslate: "/v2/sql"}})
	out, err := c.TranslateSQL(context.Background(), TranslationRequest{RefinedQuery: "q"})
	require.NoError(t, err)
	require.Len(t, out.Queries, 1)
	assert.Equal(t, "SELECT 1", out.Queries[0].SQL)
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"upstream key sk-abcdefghijklmnopqrstuvwxyz1234 rejected"}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Consolidate(context.Background(), ConsolidationRequest{})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, OpConsolidate, statusErr.Operation)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.NotContains(t, err.Error(), "sk-abcdefghij")
	assert.Equal(t, "server_status", classifyError(err))
}

func TestClient_CallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, CallTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.ExecuteSQL(context.Background(), SQLTranslation{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "timeout", classifyError(err))
}

func TestClient_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decoding response"))
	assert.Equal(t, "decode", classifyError(err))
}

func TestClient_HealthUsesGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Service: "agents"})
	}))
	defer server.Close()

	resp, err := NewClient(ClientConfig{BaseURL: server.URL}).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
}

func TestConsolidationResponse_LenientDecoding(t *testing.T) {
	raw := `{
		"query_context": "Calls from 9876543210",
		"consolidated_data": {
			"key_insights": ["12 outgoing calls"],
			"subject_profile": {"phone_number": 9876543210, "total_calls": 12},
			"location_insights": {"towers": 3}
		},
		"data_quality": {"coverage_percentage": "85%", "confidence_level": "High", "missing_elements": []},
		"recommendations": {"risk_assessment": "medium"}
	}`

	var resp ConsolidationResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, Percent(85), resp.DataQuality.CoveragePercentage)
	assert.Equal(t, FlexString("9876543210"), resp.ConsolidatedData.SubjectProfile.PhoneNumber)
	assert.Equal(t, FlexString("12"), resp.ConsolidatedData.SubjectProfile.TotalCalls)
	assert.Equal(t, FlexString(`{"towers":3}`), resp.ConsolidatedData.LocationInsights)
	require.NotNil(t, resp.Recommendations)
	assert.Equal(t, FlexString("medium"), resp.Recommendations.RiskAssessment)
}

func TestPercent_Invalid(t *testing.T) {
	var p Percent
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &p))
	require.NoError(t, json.Unmarshal([]byte(`72.5`), &p))
	assert.Equal(t, Percent(72.5), p)
}

func TestExecutionSummary_Validate(t *testing.T) {
	assert.NoError(t, ExecutionSummary{TotalRows: 3, TotalQueries: 1}.Validate())
	err := ExecutionSummary{TotalNodes: -1}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_nodes")
}

func TestRefineResponse_StatusHelpers(t *testing.T) {
	assert.True(t, (&RefineResponse{Status: StatusAwaitingDetails}).NeedsClarification())
	assert.True(t, (&RefineResponse{Status: StatusAwaitingClarification}).NeedsClarification())
	assert.True(t, (&RefineResponse{Status: StatusRejected}).Rejected())
	assert.False(t, (&RefineResponse{Status: StatusCompleted}).NeedsClarification())
}
