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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

// fakeServer records requests and answers with canned responses.
type fakeServer struct {
	mu        sync.Mutex
	requests  []string
	continues []investigate.ContinueRequest
	mux       *http.ServeMux
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func execute(t *testing.T, serverURL string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", serverURL, "--timeout", "5s"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk_Completed(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigate", func(w http.ResponseWriter, r *http.Request) {
		var req investigate.InvestigateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "calls from 9876543210", req.Query)
		writeJSON(w, http.StatusOK, investigate.InvestigateResponse{
			Status:         "completed",
			ConversationID: "conv_1",
			Formatted:      "## Investigation Report\n\nKey insights",
		})
	})

	out, err := execute(t, srv.URL, "", "ask", "calls", "from", "9876543210")
	require.NoError(t, err)
	assert.Contains(t, out, "Investigation complete")
	assert.Contains(t, out, "## Investigation Report")
	assert.Contains(t, out, "conv_1")
}

func TestAsk_PhaseFailure(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadGateway, ginutil.ErrorResponse{
			Error:          "pipeline: execution phase failed: graph down",
			Code:           ginutil.CodePhaseFailed,
			Phase:          "execution",
			ConversationID: "conv_9",
		})
	})

	out, err := execute(t, srv.URL, "", "ask", "calls")
	require.Error(t, err)
	assert.Contains(t, out, "The execution phase failed")
	assert.Contains(t, out, "conv_9")
}

func TestAsk_JSON(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, investigate.InvestigateResponse{Status: "rejected", Message: "Not my area."})
	})

	out, err := execute(t, srv.URL, "", "--json", "ask", "weather")
	require.NoError(t, err)
	var resp investigate.InvestigateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "rejected", resp.Status)
}

func TestAsk_Stream(t *testing.T) {
	f, srv := newFakeServer(t)
	upgrader := websocket.Upgrader{}
	f.mux.HandleFunc("/v1/investigate/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var req investigate.InvestigateRequest
		if !assert.NoError(t, conn.ReadJSON(&req)) {
			return
		}
		for _, p := range []pipeline.Phase{pipeline.PhaseRefinement, pipeline.PhaseTranslation} {
			_ = conn.WriteJSON(investigate.StreamMessage{Type: investigate.StreamTypePhase, Event: &pipeline.PhaseEvent{Phase: p, State: pipeline.EventCompleted, Timestamp: time.Now()}})
		}
		_ = conn.WriteJSON(investigate.StreamMessage{Type: investigate.StreamTypeResult, Response: &investigate.InvestigateResponse{
			Status: "completed", Formatted: "report body",
		}})
	})

	out, err := execute(t, srv.URL, "", "ask", "--stream", "calls")
	require.NoError(t, err)
	assert.Contains(t, out, string(pipeline.PhaseRefinement))
	assert.Contains(t, out, string(pipeline.PhaseTranslation))
	assert.Contains(t, out, "report body")
}

func TestChat_AnswersFollowups(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, investigate.InvestigateResponse{
			Status:            "awaiting_clarification",
			ConversationID:    "conv_c",
			Message:           "Which period?",
			FollowupQuestions: []string{"Which month?"},
		})
	})
	f.mux.HandleFunc("/v1/investigate/continue", func(w http.ResponseWriter, r *http.Request) {
		var req investigate.ContinueRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.continues = append(f.continues, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, investigate.InvestigateResponse{Status: "completed", ConversationID: "conv_c", Formatted: "done"})
	})

	out, err := execute(t, srv.URL, "track 9876543210\nMarch 2024\nexit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Which month?")
	assert.Contains(t, out, "Goodbye.")

	require.Len(t, f.continues, 1)
	assert.Equal(t, "conv_c", f.continues[0].ConversationID)
	assert.Equal(t, "March 2024", f.continues[0].Answer)
}

func TestChat_NewResetsConversation(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, investigate.InvestigateResponse{
			Status: "awaiting_clarification", ConversationID: "conv_n", FollowupQuestions: []string{"Who?"},
		})
	})

	_, err := execute(t, srv.URL, "first\n/new\nsecond\n", "chat")
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"POST /v1/investigate", "POST /v1/investigate"}, f.requests)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f, srv := newFakeServer(t)
		f.mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, investigate.HealthResponse{Status: "healthy", Agents: "healthy", Version: "1.0.0"})
		})
		out, err := execute(t, srv.URL, "", "health")
		require.NoError(t, err)
		assert.Contains(t, out, "healthy")
	})
	t.Run("degraded", func(t *testing.T) {
		f, srv := newFakeServer(t)
		f.mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, investigate.HealthResponse{Status: "degraded", Agents: "unreachable", Error: "connection refused"})
		})
		out, err := execute(t, srv.URL, "", "health")
		require.Error(t, err)
		assert.Contains(t, out, "degraded")
		assert.Contains(t, out, "connection refused")
	})
}

func TestConversations(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, investigate.ConversationsResponse{
			Count: 1,
			Conversations: []investigate.ConversationSummary{
				{ID: "conv_l", Status: "completed", FirstQuery: "calls from 9876543210", LastActivity: time.Now()},
			},
		})
	})

	out, err := execute(t, srv.URL, "", "conversations", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "conv_l")
	assert.Contains(t, out, "calls from 9876543210")
}

func TestShow(t *testing.T) {
	f, srv := newFakeServer(t)
	f.mux.HandleFunc("/v1/investigations/conv_s", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"conversation_id": "conv_s"}, "formatted": "archived report"})
	})
	f.mux.HandleFunc("/v1/investigations/missing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ginutil.ErrorResponse{Error: "no archived investigation for missing", Code: ginutil.CodeNotFound})
	})

	out, err := execute(t, srv.URL, "", "show", "conv_s")
	require.NoError(t, err)
	assert.Contains(t, out, "archived report")

	out, err = execute(t, srv.URL, "", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, out, "NOT_FOUND")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
