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
	"errors"
	"fmt"
)

// Phase names a pipeline stage. Values match the phase tags recorded in
// conversation history.
type Phase string

const (
	PhaseRefinement    Phase = "converser"
	PhaseTranslation   Phase = "translation"
	PhaseExecution     Phase = "execution"
	PhaseConsolidation Phase = "consolidation"

	// PhaseCompleted is only used for progress events.
	PhaseCompleted Phase = "completed"
)

// Phase error kinds. A *PhaseError matches the kind of its phase with errors.Is.
var (
	ErrRefinement    = errors.New("refinement failed")
	ErrTranslation   = errors.New("translation failed")
	ErrExecution     = errors.New("execution failed")
	ErrConsolidation = errors.New("consolidation failed")
)

var (
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("query rejected")

	// ErrClarificationLimit is the reason attached to a rejection caused by
	// too many clarification rounds.
	ErrClarificationLimit = fmt.Errorf("%w: clarification limit reached", ErrRejected)

	// ErrConversationBusy is returned when a run is already in progress for
	// the same conversation.
	ErrConversationBusy = errors.New("pipeline: conversation is busy")

	// ErrConversationClosed is returned when a conversation is completed or failed.
	ErrConversationClosed = errors.New("pipeline: conversation is closed")
)

// PhaseError reports a failed pipeline phase.
type PhaseError struct {
	Phase          Phase
	ConversationID string
	Err            error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("pipeline: %s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Is matches the phase's error kind.
func (e *PhaseError) Is(target error) bool {
	switch target {
	case ErrRefinement:
		return e.Phase == PhaseRefinement
	case ErrTranslation:
		return e.Phase == PhaseTranslation
	case ErrExecution:
		return e.Phase == PhaseExecution
	case ErrConsolidation:
		return e.Phase == PhaseConsolidation
	}
	return false
}

func phaseError(phase Phase, conversationID string, err error) *PhaseError {
	return &PhaseError{Phase: phase, ConversationID: conversationID, Err: err}
}

// RejectedError is a polite decline. It is not a system failure.
type RejectedError struct {
	Message string

	// Reason is an optional cause such as ErrClarificationLimit.
	Reason error
}

func (e *RejectedError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Reason)
	}
	return e.Message
}

// Is matches ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// PhaseOf returns the phase of a *PhaseError in err's chain, or "".
func PhaseOf(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
