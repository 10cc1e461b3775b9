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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// Neo4jExecutor runs Cypher translations against Neo4j.
//
// Description:
//
//	Queries run in a read-mode session. A connectivity failure falls back
//	to the mock executor for the whole request so the pipeline still
//	completes; per-query errors are recorded on the query's outcome.
//
// Thread Safety: Safe for concurrent use; each call opens its own session.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
	fallback GraphExecutor
	logger   *slog.Logger
	now      func() time.Time
}

var _ GraphExecutor = (*Neo4jExecutor)(nil)

// OpenNeo4j creates a driver and verifies connectivity.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig, password string, logger *slog.Logger) (*Neo4jExecutor, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j: uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return NewNeo4jExecutor(driver, cfg.Database, NewMockExecutor(), logger), nil
}

// NewNeo4jExecutor wraps an existing driver. fallback may be nil.
func NewNeo4jExecutor(driver neo4j.DriverWithContext, database string, fallback GraphExecutor, logger *slog.Logger) *Neo4jExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jExecutor{
		driver:   driver,
		database: database,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "neo4j_executor")),
		now:      time.Now,
	}
}

// Close closes the driver.
func (n *Neo4jExecutor) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// ExecuteCypher implements GraphExecutor.
func (n *Neo4jExecutor) ExecuteCypher(ctx context.Context, t agents.CypherTranslation) (*agents.ExecutionResult, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: n.database,
	})
	defer func() { _ = session.Close(ctx) }()

	data := make(map[string]agents.QueryOutcome, len(t.Queries))
	for i, q := range t.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := agents.QueryOutcome{Purpose: q.Purpose, Query: q.Cypher}
		records, nodes, rels, err := runCypher(ctx, session, q.Cypher, q.Params)
		if err != nil {
			if neo4j.IsConnectivityError(err) && n.fallback != nil {
				n.logger.Warn("Neo4j unreachable, using mock graph data", slog.String("error", err.Error()))
				return n.fallback.ExecuteCypher(ctx, t)
			}
			out.Error = err.Error()
			n.logger.Warn("Cypher query failed", slog.Int("index", i), slog.String("error", out.Error))
		} else {
			out.Success = true
			out.RecordCount = len(records)
			out.NodeCount = nodes
			out.RelationshipCount = rels
			out.Records, out.SampleData = shapeRecords(records)
		}
		data[queryKey(i)] = out
	}

	summary, ok := summarize(data, ExecutionTypeNeo4j)
	return &agents.ExecutionResult{
		Success: ok,
		Message: fmt.Sprintf("Executed %d Cypher queries (%d successful, %d failed)",
			summary.TotalQueries, summary.SuccessfulQueries, summary.FailedQueries),
		Data:             data,
		ExecutionSummary: summary,
		DataSource:       ExecutionTypeNeo4j,
		Timestamp:        n.now().UTC().Format(time.RFC3339),
	}, nil
}

func runCypher(ctx context.Context, session neo4j.SessionWithContext, cypher string, params map[string]any) ([]map[string]any, int, int, error) {
	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, 0, 0, err
	}
	var (
		records []map[string]any
		counter graphCounter
	)
	for len(records) < maxRecordsPerQuery && result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = counter.convert(rec.Values[i])
		}
		records = append(records, row)
	}
	if err := result.Err(); err != nil {
		return nil, 0, 0, err
	}
	return records, counter.nodes, counter.relationships, nil
}

// graphCounter converts driver values to JSON-friendly maps while counting
// the graph entities it sees.
type graphCounter struct {
	nodes         int
	relationships int
}

func (g *graphCounter) convert(v any) any {
	switch x := v.(type) {
	case neo4j.Node:
		g.nodes++
		return map[string]any{
			"labels":     x.Labels,
			"properties": x.Props,
		}
	case neo4j.Relationship:
		g.relationships++
		return map[string]any{
			"type":       x.Type,
			"properties": x.Props,
		}
	case neo4j.Path:
		nodes := make([]any, 0, len(x.Nodes))
		for _, node := range x.Nodes {
			nodes = append(nodes, g.convert(node))
		}
		rels := make([]any, 0, len(x.Relationships))
		for _, rel := range x.Relationships {
			rels = append(rels, g.convert(rel))
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = g.convert(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = g.convert(item)
		}
		return out
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case neo4j.Date:
		return time.Time(x).Format(time.DateOnly)
	case neo4j.LocalTime:
		return time.Time(x).Format(time.TimeOnly)
	case neo4j.LocalDateTime:
		return time.Time(x).Format("2006-01-02T15:04:05")
	case neo4j.Duration:
		return x.String()
	default:
		return x
	}
}
