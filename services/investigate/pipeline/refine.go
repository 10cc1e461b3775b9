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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
)

const (
	emptyQueryMessage = "Please describe what you would like to investigate, for example a phone number and a time range."
	defaultRejection  = "This query is not suitable for investigation analysis. Please ask about phone records, call patterns, or suspect tracking."
)

// Refinement is the converser's verdict on a query.
type Refinement struct {
	ConversationID string
	Status         string
	RefinedQuery   string
	Followups      []string
	Message        string

	// AwaitingDetails is set only when the converser's status asked for
	// details. Follow-ups sent with any other status are dropped.
	AwaitingDetails bool
}

// NeedsClarification reports whether the user must answer follow-up questions.
func (r *Refinement) NeedsClarification() bool {
	return r.AwaitingDetails
}

// Refiner runs the query refinement phase.
//
// Thread Safety: Refiner is safe for concurrent use.
type Refiner struct {
	api    RefinementAPI
	store  *memory.Store
	logger *slog.Logger
}

// NewRefiner creates a Refiner.
func NewRefiner(api RefinementAPI, store *memory.Store, logger *slog.Logger) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{api: api, store: store, logger: logger}
}

// Refine sends a query to the converser and records the exchange.
//
// Description:
//
//	Ensures the conversation exists, appends the user query, calls the
//	converser, and appends its reply tagged phase=converser. A request
//	for details moves the conversation to awaiting_details; a confirmed
//	query moves it to query_confirmed. A rejection leaves the status alone.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - conversationID: Target conversation. Empty creates a new one.
//   - query: The user's text. Blank input is rejected without any remote call.
//
// Outputs:
//   - *Refinement: The verdict, on confirm or clarification.
//   - error: *RejectedError on a decline; *PhaseError (ErrRefinement) on
//     transport or validation failure. Status is not advanced on failure.
func (r *Refiner) Refine(ctx context.Context, conversationID, query string) (_ *Refinement, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &RejectedError{Message: emptyQueryMessage}
	}

	conv, _ := r.store.EnsureConversation(conversationID)
	if conv == nil {
		return nil, phaseError(PhaseRefinement, conversationID, errors.New("conversation unavailable"))
	}
	conversationID = conv.ID

	ctx, span := tracer().Start(ctx, "pipeline.Refiner.Refine")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	status := "success"
	defer func() {
		var rejected *RejectedError
		switch {
		case errors.As(err, &rejected):
			status = "rejected"
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "refinement failed")
		}
		observePhase(PhaseRefinement, status, start)
	}()

	if _, err := r.store.AddMessage(conversationID, memory.RoleUser, query, nil); err != nil {
		return nil, phaseError(PhaseRefinement, conversationID, err)
	}

	resp, err := r.api.Refine(ctx, agents.RefineRequest{Query: query, ConversationID: conversationID})
	if err != nil {
		return nil, phaseError(PhaseRefinement, conversationID, err)
	}
	span.SetAttributes(attribute.String("converser.status", resp.Status))

	refinement := &Refinement{
		ConversationID: conversationID,
		Status:         resp.Status,
		RefinedQuery:   strings.TrimSpace(resp.RefinedQuery),
		Followups:      nonBlank(resp.Followups),
		Message:        resp.Message,
	}

	switch {
	case resp.NeedsClarification():
		if len(refinement.Followups) == 0 {
			return nil, phaseError(PhaseRefinement, conversationID,
				fmt.Errorf("converser asked for details without follow-up questions"))
		}
		status = "clarification"
		refinement.AwaitingDetails = true
		r.record(conversationID, resp)
		if err := r.store.UpdateStatus(conversationID, memory.StatusAwaitingDetails); err != nil {
			return nil, phaseError(PhaseRefinement, conversationID, err)
		}
		return refinement, nil

	case resp.Rejected():
		r.record(conversationID, resp)
		msg := resp.Message
		if msg == "" {
			msg = defaultRejection
		}
		return nil, &RejectedError{Message: msg}

	default:
		if refinement.RefinedQuery == "" {
			return nil, phaseError(PhaseRefinement, conversationID,
				fmt.Errorf("converser status %q without a refined query", resp.Status))
		}
		refinement.Followups = nil
		r.record(conversationID, resp)
		if err := r.store.UpdateStatus(conversationID, memory.StatusQueryConfirmed); err != nil {
			return nil, phaseError(PhaseRefinement, conversationID, err)
		}
		return refinement, nil
	}
}

func (r *Refiner) record(conversationID string, resp *agents.RefineResponse) {
	meta := map[string]string{
		memory.MetaPhase:  memory.PhaseConverser,
		memory.MetaStatus: resp.Status,
	}
	if _, err := r.store.AddMessage(conversationID, memory.RoleAssistant, resp, meta); err != nil {
		r.logger.Warn("pipeline: recording converser reply failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
}

func nonBlank(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
