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
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// mockAgentAPI implements AgentAPI with overridable functions. Nil functions
// use the happy-path defaults below.
type mockAgentAPI struct {
	RefineFunc          func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error)
	TranslateSQLFunc    func(ctx context.Context, req agents.TranslationRequest) (*agents.SQLTranslation, error)
	TranslateCypherFunc func(ctx context.Context, req agents.TranslationRequest) (*agents.CypherTranslation, error)
	ExecuteSQLFunc      func(ctx context.Context, q agents.SQLTranslation) (*agents.ExecutionResult, error)
	ExecuteCypherFunc   func(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error)
	ConsolidateFunc     func(ctx context.Context, req agents.ConsolidationRequest) (*agents.ConsolidationResponse, error)

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int64
}

func (m *mockAgentAPI) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
	m.total.Add(1)
}

func (m *mockAgentAPI) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockAgentAPI) Refine(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
	m.count(agents.OpRefine)
	if m.RefineFunc != nil {
		return m.RefineFunc(ctx, req)
	}
	return confirmed(req, "All calls made from 9876543210"), nil
}

func (m *mockAgentAPI) TranslateSQL(ctx context.Context, req agents.TranslationRequest) (*agents.SQLTranslation, error) {
	m.count(agents.OpTranslateSQL)
	if m.TranslateSQLFunc != nil {
		return m.TranslateSQLFunc(ctx, req)
	}
	return &agents.SQLTranslation{
		Queries: []agents.SQLQuery{
			{Purpose: "Outgoing calls", SQL: "SELECT * FROM crd WHERE a_party = '9876543210'", Table: "crd"},
			{Purpose: "Subscriber", SQL: "SELECT * FROM subscriber WHERE msisdn = '9876543210'", Table: "subscriber"},
		},
		AnalysisFocus: "call volume",
	}, nil
}

func (m *mockAgentAPI) TranslateCypher(ctx context.Context, req agents.TranslationRequest) (*agents.CypherTranslation, error) {
	m.count(agents.OpTranslateCypher)
	if m.TranslateCypherFunc != nil {
		return m.TranslateCypherFunc(ctx, req)
	}
	return &agents.CypherTranslation{
		Queries: []agents.CypherQuery{
			{Purpose: "Contacts", Cypher: "MATCH (p:Party {number:'9876543210'})-[:CALL]->(o) RETURN o"},
		},
		InvestigationAngle: "network",
	}, nil
}

func (m *mockAgentAPI) ExecuteSQL(ctx context.Context, q agents.SQLTranslation) (*agents.ExecutionResult, error) {
	m.count(agents.OpExecuteSQL)
	if m.ExecuteSQLFunc != nil {
		return m.ExecuteSQLFunc(ctx, q)
	}
	return &agents.ExecutionResult{
		Success: true,
		Message: "ok",
		ExecutionSummary: agents.ExecutionSummary{
			TotalQueries: len(q.Queries), SuccessfulQueries: len(q.Queries), TotalRows: 12,
		},
	}, nil
}

func (m *mockAgentAPI) ExecuteCypher(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error) {
	m.count(agents.OpExecuteCypher)
	if m.ExecuteCypherFunc != nil {
		return m.ExecuteCypherFunc(ctx, q)
	}
	return &agents.ExecutionResult{
		Success: true,
		Message: "ok",
		ExecutionSummary: agents.ExecutionSummary{
			TotalQueries: len(q.Queries), SuccessfulQueries: len(q.Queries), TotalNodes: 20, TotalRelationships: 30,
		},
	}, nil
}

func (m *mockAgentAPI) Consolidate(ctx context.Context, req agents.ConsolidationRequest) (*agents.ConsolidationResponse, error) {
	m.count(agents.OpConsolidate)
	if m.ConsolidateFunc != nil {
		return m.ConsolidateFunc(ctx, req)
	}
	return &agents.ConsolidationResponse{
		QueryContext: "Calls from 9876543210",
		ConsolidatedData: agents.ConsolidatedData{
			KeyInsights: []string{"12 outgoing calls", "3 frequent contacts"},
		},
		DataQuality: agents.DataQuality{
			CoveragePercentage: 85,
			ConfidenceLevel:    "High",
			MissingElements:    []string{},
		},
	}, nil
}

func confirmed(req agents.RefineRequest, refined string) *agents.RefineResponse {
	return &agents.RefineResponse{
		Status:         agents.StatusConfirmed,
		RefinedQuery:   refined,
		ConversationID: req.ConversationID,
	}
}

// recordingArchive captures saved results.
type recordingArchive struct {
	mu    sync.Mutex
	saved []*Result
	err   error
}

func (a *recordingArchive) Save(_ context.Context, r *Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, r)
	return a.err
}

// eventLog records observer events.
type eventLog struct {
	mu     sync.Mutex
	events []PhaseEvent
}

func (l *eventLog) OnPhase(e PhaseEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Sequence() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, string(e.Phase)+":"+string(e.State))
	}
	return out
}
