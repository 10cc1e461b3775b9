// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds conversation state and history for investigations.
package memory

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a conversation id is unknown.
	ErrNotFound = errors.New("memory: conversation not found")

	// ErrAlreadyExists is returned when creating a conversation whose id is taken.
	ErrAlreadyExists = errors.New("memory: conversation already exists")

	// ErrInvalidTransition is returned when a status change would move backwards.
	ErrInvalidTransition = errors.New("memory: invalid status transition")
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive          Status = "active"
	StatusAwaitingDetails Status = "awaiting_details"
	StatusQueryConfirmed  Status = "query_confirmed"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions lists the allowed successors of each status. Staying in the
// same status is always allowed.
var transitions = map[Status][]Status{
	StatusActive:          {StatusAwaitingDetails, StatusQueryConfirmed, StatusFailed},
	StatusAwaitingDetails: {StatusQueryConfirmed, StatusFailed},
	StatusQueryConfirmed:  {StatusAwaitingDetails, StatusCompleted, StatusFailed},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Metadata keys used on messages.
const (
	MetaPhase  = "phase"
	MetaStatus = "status"
)

// Phase tags recorded on messages.
const (
	PhaseConverser     = "converser"
	PhaseTranslation   = "translation"
	PhaseExecution     = "execution"
	PhaseConsolidation = "consolidation"
	PhaseError         = "error"
)

// Message is one immutable entry in a conversation's history.
//
// Fields:
//   - Content: free-form text; empty when the message carries a Payload.
//   - Payload: structured content as JSON.
//   - Metadata: phase and status tags, plus phase-specific extras.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Phase returns the phase tag, or "".
func (m Message) Phase() string {
	return m.Metadata[MetaPhase]
}

// Text returns Content, falling back to the raw payload JSON.
func (m Message) Text() string {
	if m.Content != "" || len(m.Payload) == 0 {
		return m.Content
	}
	return string(m.Payload)
}

// Conversation is a snapshot of a conversation's state.
//
// Snapshots returned by the Store are deep copies; mutating them does not
// affect stored state.
type Conversation struct {
	ID                  string    `json:"id"`
	Status              Status    `json:"status"`
	Messages            []Message `json:"messages"`
	ClarificationRounds int       `json:"clarification_rounds"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity"`
}

// LastMessages returns up to n most recent messages, oldest first.
func (c *Conversation) LastMessages(n int) []Message {
	if n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	if n > len(c.Messages) {
		n = len(c.Messages)
	}
	return c.Messages[len(c.Messages)-n:]
}

// HasPhaseMessage reports whether a message with the given role and phase exists.
func (c *Conversation) HasPhaseMessage(role Role, phase string) bool {
	for _, m := range c.Messages {
		if m.Role == role && m.Phase() == phase {
			return true
		}
	}
	return false
}

func (c *Conversation) clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return &out
}

func (m Message) clone() Message {
	out := m
	if m.Payload != nil {
		out.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
