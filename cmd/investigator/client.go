// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

// archivedInvestigation is the body of GET /v1/investigations/:id.
type archivedInvestigation struct {
	Result    *pipeline.Result `json:"result"`
	Formatted string           `json:"formatted"`
}

// serverError is a non-2xx answer from the orchestrator.
type serverError struct {
	StatusCode int
	Body       ginutil.ErrorResponse
}

func (e *serverError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", msg, e.Body.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
}

// apiClient talks to the orchestrator's /v1 API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *apiClient) investigate(ctx context.Context, req investigate.InvestigateRequest) (*investigate.InvestigateResponse, error) {
	var out investigate.InvestigateResponse
	if err := a.do(ctx, http.MethodPost, "/v1/investigate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) continueInvestigation(ctx context.Context, req investigate.ContinueRequest) (*investigate.InvestigateResponse, error) {
	var out investigate.InvestigateResponse
	if err := a.do(ctx, http.MethodPost, "/v1/investigate/continue", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) health(ctx context.Context) (*investigate.HealthResponse, error) {
	var out investigate.HealthResponse
	err := a.do(ctx, http.MethodGet, "/v1/health", nil, &out)
	var se *serverError
	if errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable {
		// Degraded health still carries a HealthResponse body.
		return &investigate.HealthResponse{Status: "degraded", Agents: "unreachable", Error: se.Body.Error}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) conversations(ctx context.Context, limit int) (*investigate.ConversationsResponse, error) {
	var out investigate.ConversationsResponse
	path := "/v1/conversations?limit=" + strconv.Itoa(limit)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) conversation(ctx context.Context, id string) (*memory.Conversation, error) {
	var out memory.Conversation
	if err := a.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) investigation(ctx context.Context, id string) (*archivedInvestigation, error) {
	var out archivedInvestigation
	if err := a.do(ctx, http.MethodGet, "/v1/investigations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// stream runs an investigation over the WebSocket endpoint, calling
// onPhase for every progress frame.
func (a *apiClient) stream(ctx context.Context, req investigate.InvestigateRequest, onPhase func(pipeline.PhaseEvent)) (*investigate.InvestigateResponse, error) {
	wsURL := "ws" + strings.TrimPrefix(a.baseURL, "http") + "/v1/investigate/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	for {
		var msg investigate.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		switch msg.Type {
		case investigate.StreamTypePhase:
			if msg.Event != nil && onPhase != nil {
				onPhase(*msg.Event)
			}
		case investigate.StreamTypeResult:
			if msg.Response == nil {
				return nil, errors.New("stream result frame without response")
			}
			return msg.Response, nil
		case investigate.StreamTypeError:
			body := ginutil.ErrorResponse{Error: "stream error"}
			if msg.Error != nil {
				body = *msg.Error
			}
			return nil, &serverError{StatusCode: http.StatusBadRequest, Body: body}
		}
	}
}

func (a *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", a.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &serverError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, &se.Body)
		return se
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
