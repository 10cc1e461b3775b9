// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the chat-completion client used by the agent service.
package llm

import (
	"context"
	"fmt"
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams controls a single completion request.
//
// Description:
//
//	Pointer fields are omitted from the wire request when nil so the
//	provider default applies. JSONMode asks the provider to return a single
//	JSON object (OpenAI response_format json_object).
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string
	JSONMode      bool
}

// Temperature returns a pointer to t for GenerationParams literals.
func Temperature(t float32) *float32 {
	return &t
}

// ChatClient is implemented by chat-completion providers.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends the conversation and returns the assistant's reply text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// EmptyResponseError is returned when the provider answers with no content.
type EmptyResponseError struct {
	Provider     string
	FinishReason string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s: empty response (finish_reason=%q)", e.Provider, e.FinishReason)
}
