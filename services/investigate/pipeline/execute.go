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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
)

// Execution holds both execution results.
type Execution struct {
	SQL     *agents.ExecutionResult `json:"sql"`
	Cypher  *agents.ExecutionResult `json:"cypher"`
	Summary ExecutionSummary        `json:"summary"`
}

// Executor runs the parallel execution phase.
//
// Thread Safety: Executor is safe for concurrent use.
type Executor struct {
	api    ExecutionAPI
	store  *memory.Store
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(api ExecutionAPI, store *memory.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{api: api, store: store, logger: logger}
}

// Execute runs both query sets concurrently.
//
// Description:
//
//	Both execution calls must succeed. A result reporting success=false or
//	negative counts fails the phase. On success a system message tagged
//	phase=execution records both summaries.
//
// Outputs:
//   - *Execution: Both results and the combined summary.
//   - error: *PhaseError (ErrExecution).
func (e *Executor) Execute(ctx context.Context, conversationID string, tr *Translation) (_ *Execution, err error) {
	ctx, span := tracer().Start(ctx, "pipeline.Executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "execution failed")
		}
		observePhase(PhaseExecution, status, start)
	}()

	sqlRes, cypherRes, err := Join2(ctx,
		func(ctx context.Context) (*agents.ExecutionResult, error) {
			res, err := e.api.ExecuteSQL(ctx, *tr.SQL)
			if err != nil {
				return nil, fmt.Errorf("structured execution: %w", err)
			}
			return res, checkResult("structured execution", res)
		},
		func(ctx context.Context) (*agents.ExecutionResult, error) {
			res, err := e.api.ExecuteCypher(ctx, *tr.Cypher)
			if err != nil {
				return nil, fmt.Errorf("graph execution: %w", err)
			}
			return res, checkResult("graph execution", res)
		},
	)
	if err != nil {
		return nil, phaseError(PhaseExecution, conversationID, err)
	}

	exec := &Execution{
		SQL:    sqlRes,
		Cypher: cypherRes,
		Summary: ExecutionSummary{
			StructuredQueries:  len(tr.SQL.Queries),
			GraphQueries:       len(tr.Cypher.Queries),
			FailedQueries:      sqlRes.ExecutionSummary.FailedQueries + cypherRes.ExecutionSummary.FailedQueries,
			TotalRows:          sqlRes.ExecutionSummary.TotalRows,
			TotalNodes:         cypherRes.ExecutionSummary.TotalNodes,
			TotalRelationships: cypherRes.ExecutionSummary.TotalRelationships,
		},
	}
	span.SetAttributes(
		attribute.Int("execution.total_rows", exec.Summary.TotalRows),
		attribute.Int("execution.total_nodes", exec.Summary.TotalNodes),
		attribute.Int("execution.total_relationships", exec.Summary.TotalRelationships),
	)

	payload := map[string]agents.ExecutionSummary{
		"sql_execution":    sqlRes.ExecutionSummary,
		"cypher_execution": cypherRes.ExecutionSummary,
	}
	meta := map[string]string{memory.MetaPhase: memory.PhaseExecution}
	if _, err := e.store.AddMessage(conversationID, memory.RoleSystem, payload, meta); err != nil {
		e.logger.Warn("pipeline: recording execution failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
	return exec, nil
}

func checkResult(label string, res *agents.ExecutionResult) error {
	if res == nil {
		return fmt.Errorf("%s: empty response", label)
	}
	if !res.Success {
		return fmt.Errorf("%s: endpoint reported failure: %s", label, res.Message)
	}
	if err := res.ExecutionSummary.Validate(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}
