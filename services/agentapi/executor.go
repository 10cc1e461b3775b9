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
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// Result shaping limits shared by the real executors.
const (
	maxRecordsPerQuery = 100
	returnedRecords    = 10
	sampleRecords      = 3
)

// Execution type labels reported in ExecutionSummary.
const (
	ExecutionTypeMock     = "mock"
	ExecutionTypePostgres = "postgres"
	ExecutionTypeNeo4j    = "neo4j"
)

// StructuredExecutor runs SQL translations.
type StructuredExecutor interface {
	ExecuteSQL(ctx context.Context, t agents.SQLTranslation) (*agents.ExecutionResult, error)
}

// GraphExecutor runs Cypher translations.
type GraphExecutor interface {
	ExecuteCypher(ctx context.Context, t agents.CypherTranslation) (*agents.ExecutionResult, error)
}

// MockExecutor returns deterministic synthetic results without touching a
// database. Query i reports 15+3i records, 20+5i nodes and 30+8i
// relationships.
type MockExecutor struct {
	now func() time.Time
}

// NewMockExecutor returns a MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{now: time.Now}
}

var (
	_ StructuredExecutor = (*MockExecutor)(nil)
	_ GraphExecutor      = (*MockExecutor)(nil)
)

// ExecuteSQL implements StructuredExecutor.
func (m *MockExecutor) ExecuteSQL(ctx context.Context, t agents.SQLTranslation) (*agents.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := make(map[string]agents.QueryOutcome, len(t.Queries))
	totalRows := 0
	for i, q := range t.Queries {
		rows := 15 + 3*i
		sample := make([]map[string]any, 0, sampleRecords)
		for j := 0; j < sampleRecords; j++ {
			sample = append(sample, map[string]any{
				"a_party":   fmt.Sprintf("987654321%d", j),
				"b_party":   fmt.Sprintf("912345678%d", j),
				"duration":  60 * (j + 1),
				"call_type": "CALL-OUT",
			})
		}
		data[queryKey(i)] = agents.QueryOutcome{
			Purpose:     q.Purpose,
			Query:       q.SQL,
			Success:     true,
			RecordCount: rows,
			SampleData:  sample,
		}
		totalRows += rows
	}
	return &agents.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Executed %d SQL queries (mock data)", len(t.Queries)),
		Data:    data,
		ExecutionSummary: agents.ExecutionSummary{
			TotalQueries:      len(t.Queries),
			SuccessfulQueries: len(t.Queries),
			TotalRows:         totalRows,
			ExecutionType:     ExecutionTypeMock,
		},
		DataSource: ExecutionTypeMock,
		Timestamp:  m.now().UTC().Format(time.RFC3339),
	}, nil
}

// ExecuteCypher implements GraphExecutor.
func (m *MockExecutor) ExecuteCypher(ctx context.Context, t agents.CypherTranslation) (*agents.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := make(map[string]agents.QueryOutcome, len(t.Queries))
	var nodes, rels int
	for i, q := range t.Queries {
		sample := make([]map[string]any, 0, sampleRecords)
		for j := 0; j < sampleRecords; j++ {
			sample = append(sample, map[string]any{
				"party":              fmt.Sprintf("987654321%d", j),
				"connections":        j * 3,
				"call_frequency":     j * 5,
				"network_centrality": 0.1 + float64(j)*0.1,
			})
		}
		out := agents.QueryOutcome{
			Purpose:           q.Purpose,
			Query:             q.Cypher,
			Success:           true,
			RecordCount:       15 + 3*i,
			NodeCount:         20 + 5*i,
			RelationshipCount: 30 + 8*i,
			SampleData:        sample,
		}
		data[queryKey(i)] = out
		nodes += out.NodeCount
		rels += out.RelationshipCount
	}
	return &agents.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Executed %d Cypher queries (mock data)", len(t.Queries)),
		Data:    data,
		ExecutionSummary: agents.ExecutionSummary{
			TotalQueries:       len(t.Queries),
			SuccessfulQueries:  len(t.Queries),
			TotalNodes:         nodes,
			TotalRelationships: rels,
			ExecutionType:      ExecutionTypeMock,
		},
		DataSource: ExecutionTypeMock,
		Timestamp:  m.now().UTC().Format(time.RFC3339),
	}, nil
}

func queryKey(i int) string {
	return fmt.Sprintf("query_%d", i)
}

// shapeRecords splits capped records into the returned slice and sample.
func shapeRecords(records []map[string]any) (returned, sample []map[string]any) {
	returned = records
	if len(returned) > returnedRecords {
		returned = returned[:returnedRecords]
	}
	sample = records
	if len(sample) > sampleRecords {
		sample = sample[:sampleRecords]
	}
	return returned, sample
}

// summarize fills the execution-wide totals from per-query outcomes.
//
// Success holds when at least one query succeeded, or there were none.
func summarize(data map[string]agents.QueryOutcome, execType string) (agents.ExecutionSummary, bool) {
	s := agents.ExecutionSummary{TotalQueries: len(data), ExecutionType: execType}
	for _, out := range data {
		if out.Success {
			s.SuccessfulQueries++
		} else {
			s.FailedQueries++
		}
		s.TotalRows += out.RecordCount
		s.TotalNodes += out.NodeCount
		s.TotalRelationships += out.RelationshipCount
	}
	return s, len(data) == 0 || s.SuccessfulQueries > 0
}
