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
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
)

// Consolidator runs the consolidation phase.
//
// Thread Safety: Consolidator is safe for concurrent use.
type Consolidator struct {
	api    ConsolidationAPI
	store  *memory.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(api ConsolidationAPI, store *memory.Store, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{api: api, store: store, logger: logger, now: time.Now}
}

// Consolidate merges both execution results into one narrative.
//
// Description:
//
//	On success appends one assistant message tagged phase=consolidation,
//	carrying the data-quality record in its metadata, and completes the
//	conversation. On failure the conversation is marked failed and a system
//	message tagged phase=error records the error and a timestamp.
//
// Outputs:
//   - *ConsolidatedContext: The validated narrative.
//   - error: *PhaseError (ErrConsolidation). Unknown confidence levels and
//     coverage outside 0-100 are failures.
func (c *Consolidator) Consolidate(ctx context.Context, conversationID string, exec *Execution) (_ *ConsolidatedContext, err error) {
	ctx, span := tracer().Start(ctx, "pipeline.Consolidator.Consolidate")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "consolidation failed")
			c.recordFailure(conversationID, err)
		}
		observePhase(PhaseConsolidation, status, start)
	}()

	resp, err := c.api.Consolidate(ctx, agents.ConsolidationRequest{
		SQLData:        exec.SQL,
		CypherData:     exec.Cypher,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, phaseError(PhaseConsolidation, conversationID, err)
	}

	consolidated, err := toConsolidatedContext(resp)
	if err != nil {
		return nil, phaseError(PhaseConsolidation, conversationID, err)
	}
	span.SetAttributes(
		attribute.String("data_quality.confidence", string(consolidated.DataQuality.Confidence)),
		attribute.Float64("data_quality.coverage", consolidated.DataQuality.CoveragePercentage),
	)

	meta := map[string]string{
		memory.MetaPhase:   memory.PhaseConsolidation,
		"confidence_level": string(consolidated.DataQuality.Confidence),
		"coverage":         strconv.FormatFloat(consolidated.DataQuality.CoveragePercentage, 'f', -1, 64),
	}
	if _, err := c.store.AddMessage(conversationID, memory.RoleAssistant, consolidated, meta); err != nil {
		return nil, phaseError(PhaseConsolidation, conversationID, err)
	}
	if err := c.store.UpdateStatus(conversationID, memory.StatusCompleted); err != nil {
		return nil, phaseError(PhaseConsolidation, conversationID, err)
	}
	return consolidated, nil
}

// recordFailure marks the conversation failed once.
func (c *Consolidator) recordFailure(conversationID string, cause error) {
	markFailed(c.store, c.logger, conversationID, PhaseConsolidation, cause, c.now())
}

func toConsolidatedContext(resp *agents.ConsolidationResponse) (*ConsolidatedContext, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty consolidation response")
	}
	confidence, err := ParseConfidence(resp.DataQuality.ConfidenceLevel)
	if err != nil {
		return nil, err
	}
	coverage := float64(resp.DataQuality.CoveragePercentage)
	if coverage < 0 || coverage > 100 {
		return nil, fmt.Errorf("coverage percentage %v outside 0-100", coverage)
	}

	missing := resp.DataQuality.MissingElements
	if missing == nil {
		missing = []string{}
	}
	insights := resp.ConsolidatedData.KeyInsights
	if insights == nil {
		insights = []string{}
	}
	details := resp.ConsolidatedData

	return &ConsolidatedContext{
		QueryContext: resp.QueryContext,
		KeyInsights:  insights,
		DataQuality: DataQuality{
			CoveragePercentage: coverage,
			Confidence:         confidence,
			MissingElements:    missing,
			ReliabilityNotes:   resp.DataQuality.ReliabilityNotes,
		},
		Details:         &details,
		Recommendations: resp.Recommendations,
	}, nil
}

// markFailed moves a conversation to failed and records an error message,
// unless it is already failed.
func markFailed(store *memory.Store, logger *slog.Logger, conversationID string, phase Phase, cause error, at time.Time) {
	conv, ok := store.GetConversation(conversationID)
	if !ok || conv.Status == memory.StatusFailed {
		return
	}
	if err := store.UpdateStatus(conversationID, memory.StatusFailed); err != nil {
		logger.Warn("pipeline: marking conversation failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return
	}
	payload := map[string]string{
		"error":     cause.Error(),
		"phase":     string(phase),
		"timestamp": at.UTC().Format(time.RFC3339),
	}
	meta := map[string]string{memory.MetaPhase: memory.PhaseError}
	if _, err := store.AddMessage(conversationID, memory.RoleSystem, payload, meta); err != nil {
		logger.Warn("pipeline: recording failure message",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
}
