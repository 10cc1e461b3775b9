// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package investigate

import (
	"time"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

// StatusFailed is reported on the stream when a phase fails.
const StatusFailed = "failed"

// InvestigateRequest is the body of POST /v1/investigate.
type InvestigateRequest struct {
	// Query is the investigator's question. Required.
	Query string `json:"query"`

	// ConversationID continues an existing conversation when set.
	ConversationID string `json:"conversation_id,omitempty"`
}

// ContinueRequest is the body of POST /v1/investigate/continue.
type ContinueRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Answer         string `json:"answer" binding:"required"`
}

// InvestigateResponse reports how a run ended.
//
// Status is one of completed, awaiting_clarification, rejected or failed.
// Formatted is the Markdown rendering for chat clients.
type InvestigateResponse struct {
	Status            string           `json:"status"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	Message           string           `json:"message,omitempty"`
	FollowupQuestions []string         `json:"followup_questions,omitempty"`
	Closed            bool             `json:"closed,omitempty"`
	Result            *pipeline.Result `json:"result,omitempty"`
	Formatted         string           `json:"formatted,omitempty"`
	Phase             string           `json:"phase,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// newInvestigateResponse converts an orchestrator outcome.
func newInvestigateResponse(o *pipeline.Outcome) InvestigateResponse {
	return InvestigateResponse{
		Status:            string(o.State),
		ConversationID:    o.ConversationID,
		Message:           o.Message,
		FollowupQuestions: o.Followups,
		Closed:            o.Closed,
		Result:            o.Result,
		Formatted:         pipeline.FormatOutcome(o),
	}
}

// ConversationSummary is one row of GET /v1/conversations.
type ConversationSummary struct {
	ID                  string        `json:"id"`
	Status              memory.Status `json:"status"`
	MessageCount        int           `json:"message_count"`
	ClarificationRounds int           `json:"clarification_rounds"`
	CreatedAt           time.Time     `json:"created_at"`
	LastActivity        time.Time     `json:"last_activity"`
	FirstQuery          string        `json:"first_query,omitempty"`
}

func summarize(c *memory.Conversation) ConversationSummary {
	s := ConversationSummary{
		ID:                  c.ID,
		Status:              c.Status,
		MessageCount:        len(c.Messages),
		ClarificationRounds: c.ClarificationRounds,
		CreatedAt:           c.CreatedAt,
		LastActivity:        c.LastActivity,
	}
	for _, m := range c.Messages {
		if m.Role == memory.RoleUser {
			s.FirstQuery = m.Text()
			break
		}
	}
	return s
}

// ConversationsResponse is the body of GET /v1/conversations.
type ConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Count         int                   `json:"count"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Agents    string `json:"agents"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Stream message types sent over the WebSocket.
const (
	StreamTypePhase  = "phase"
	StreamTypeResult = "result"
	StreamTypeError  = "error"
)

// StreamMessage is one frame pushed by GET /v1/investigate/stream.
type StreamMessage struct {
	Type     string                 `json:"type"`
	Event    *pipeline.PhaseEvent   `json:"event,omitempty"`
	Response *InvestigateResponse   `json:"response,omitempty"`
	Error    *ginutil.ErrorResponse `json:"error,omitempty"`
}
