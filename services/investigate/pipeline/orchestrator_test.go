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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
)

func newTestOrchestrator(api *mockAgentAPI, cfg Config) (*Orchestrator, *memory.Store) {
	store := memory.NewStore()
	return NewOrchestrator(api, store, cfg), store
}

func phases(conv *memory.Conversation) []string {
	out := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out = append(out, string(m.Role)+"/"+m.Phase())
	}
	return out
}

func TestOrchestrator_DirectQueryCompletes(t *testing.T) {
	api := &mockAgentAPI{}
	archive := &recordingArchive{}
	o, store := newTestOrchestrator(api, Config{Archive: archive})
	events := &eventLog{}

	outcome, err := o.Run(context.Background(), Request{
		Query:    "Show me all calls made by 9876543210",
		Observer: events,
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, outcome.State)
	require.NotNil(t, outcome.Result)

	r := outcome.Result
	assert.Equal(t, outcome.ConversationID, r.ConversationID)
	assert.Equal(t, "All calls made from 9876543210", r.RefinedQuery)
	assert.Len(t, r.StructuredQueries, 2)
	assert.Len(t, r.GraphQueries, 1)
	assert.Equal(t, "crd", r.StructuredQueries[0].Detail)
	assert.Equal(t, 12, r.ExecutionSummary.TotalRows)
	assert.Equal(t, 20, r.ExecutionSummary.TotalNodes)
	assert.Equal(t, 30, r.ExecutionSummary.TotalRelationships)
	assert.Equal(t, ConfidenceHigh, r.Consolidated.DataQuality.Confidence)
	assert.Equal(t, 85.0, r.Consolidated.DataQuality.CoveragePercentage)
	assert.Equal(t, []string{"12 outgoing calls", "3 frequent contacts"}, r.Consolidated.KeyInsights)

	conv, ok := store.GetConversation(outcome.ConversationID)
	require.True(t, ok)
	assert.Equal(t, memory.StatusCompleted, conv.Status)
	assert.Equal(t, []string{
		"user/",
		"assistant/converser",
		"system/translation",
		"system/execution",
		"assistant/consolidation",
	}, phases(conv))
	assert.Equal(t, "Show me all calls made by 9876543210", conv.Messages[0].Text())

	assert.Equal(t, []string{
		"converser:started", "converser:completed",
		"translation:started", "translation:completed",
		"execution:started", "execution:completed",
		"consolidation:started", "consolidation:completed",
		"completed:completed",
	}, events.Sequence())

	require.Len(t, archive.saved, 1)
	assert.Same(t, r, archive.saved[0])
}

func TestOrchestrator_ClarificationThenContinue(t *testing.T) {
	var seenIDs []string
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			seenIDs = append(seenIDs, req.ConversationID)
			if req.Query == "Find suspicious activity" {
				return &agents.RefineResponse{
					Status:    agents.StatusAwaitingDetails,
					Followups: []string{"Which phone number?", "What time range?"},
					Message:   "Happy to help.",
				}, nil
			}
			return confirmed(req, "Suspicious activity for 9876543210 in the last 30 days"), nil
		},
	}
	o, store := newTestOrchestrator(api, Config{})

	first, err := o.Run(context.Background(), Request{Query: "Find suspicious activity"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingClarification, first.State)
	assert.Equal(t, []string{"Which phone number?", "What time range?"}, first.Followups)
	assert.Equal(t, 0, api.Calls(agents.OpTranslateSQL))

	conv, _ := store.GetConversation(first.ConversationID)
	assert.Equal(t, memory.StatusAwaitingDetails, conv.Status)
	assert.Equal(t, 1, conv.ClarificationRounds)

	second, err := o.Continue(context.Background(), Request{
		ConversationID: first.ConversationID,
		Query:          "9876543210, last 30 days",
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, second.State)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, "Suspicious activity for 9876543210 in the last 30 days", second.Result.RefinedQuery)

	assert.Equal(t, []string{first.ConversationID, first.ConversationID}, seenIDs)

	conv, _ = store.GetConversation(first.ConversationID)
	assert.Equal(t, memory.StatusCompleted, conv.Status)
	assert.Equal(t, []string{
		"user/", "assistant/converser",
		"user/", "assistant/converser",
		"system/translation", "system/execution", "assistant/consolidation",
	}, phases(conv))
	assert.Equal(t, "9876543210, last 30 days", conv.Messages[2].Text())
}

func TestOrchestrator_RejectedQuery(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			return &agents.RefineResponse{Status: agents.StatusRejected, Message: "I can only help with telecom investigations."}, nil
		},
	}
	o, store := newTestOrchestrator(api, Config{})

	outcome, err := o.Run(context.Background(), Request{Query: "What's the weather?"})
	require.NoError(t, err)
	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, "I can only help with telecom investigations.", outcome.Message)
	assert.False(t, outcome.Closed)
	assert.Equal(t, 0, api.Calls(agents.OpTranslateSQL))

	conv, _ := store.GetConversation(outcome.ConversationID)
	assert.Equal(t, memory.StatusActive, conv.Status, "a rejection is not a failure")
}

func TestOrchestrator_EmptyQueryMakesNoCalls(t *testing.T) {
	api := &mockAgentAPI{}
	o, store := newTestOrchestrator(api, Config{})

	for _, q := range []string{"", "   \n\t"} {
		outcome, err := o.Run(context.Background(), Request{Query: q})
		require.NoError(t, err)
		assert.Equal(t, StateRejected, outcome.State)
		assert.NotEmpty(t, outcome.Message)
	}
	assert.EqualValues(t, 0, api.total.Load())
	assert.Equal(t, 0, store.Len())
}

func TestRefiner_EmptyQueryIsRejected(t *testing.T) {
	api := &mockAgentAPI{}
	r := NewRefiner(api, memory.NewStore(), nil)

	_, err := r.Refine(context.Background(), "", "  ")
	assert.ErrorIs(t, err, ErrRejected)
	assert.EqualValues(t, 0, api.total.Load())
}

func TestOrchestrator_TranslationFailureCancelsSibling(t *testing.T) {
	sqlCancelled := make(chan struct{})
	api := &mockAgentAPI{
		TranslateSQLFunc: func(ctx context.Context, req agents.TranslationRequest) (*agents.SQLTranslation, error) {
			select {
			case <-ctx.Done():
				close(sqlCancelled)
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, errors.New("sibling was not cancelled")
			}
		},
		TranslateCypherFunc: func(ctx context.Context, req agents.TranslationRequest) (*agents.CypherTranslation, error) {
			return nil, errors.New("cypher endpoint down")
		},
	}
	o, store := newTestOrchestrator(api, Config{})
	events := &eventLog{}

	outcome, err := o.Run(context.Background(), Request{Query: "calls from 9876543210", Observer: events})
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, ErrTranslation)
	assert.Equal(t, PhaseTranslation, PhaseOf(err))
	assert.Contains(t, err.Error(), "cypher endpoint down")

	select {
	case <-sqlCancelled:
	case <-time.After(time.Second):
		t.Fatal("structured translation was not cancelled")
	}

	assert.Equal(t, 0, api.Calls(agents.OpExecuteSQL))
	assert.Equal(t, 0, api.Calls(agents.OpExecuteCypher))

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	conv, _ := store.GetConversation(pe.ConversationID)
	assert.Equal(t, memory.StatusFailed, conv.Status)
	last := conv.Messages[len(conv.Messages)-1]
	assert.Equal(t, memory.RoleSystem, last.Role)
	assert.Equal(t, memory.PhaseError, last.Phase())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, "translation", payload["phase"])
	assert.NotEmpty(t, payload["timestamp"])

	seq := events.Sequence()
	assert.Equal(t, "translation:failed", seq[len(seq)-1])
}

func TestOrchestrator_EmptyTranslationFails(t *testing.T) {
	api := &mockAgentAPI{
		TranslateCypherFunc: func(ctx context.Context, req agents.TranslationRequest) (*agents.CypherTranslation, error) {
			return &agents.CypherTranslation{Queries: []agents.CypherQuery{{Purpose: "blank", Cypher: "  "}}}, nil
		},
	}
	o, _ := newTestOrchestrator(api, Config{})

	_, err := o.Run(context.Background(), Request{Query: "calls from 9876543210"})
	assert.ErrorIs(t, err, ErrTranslation)
	assert.Equal(t, 0, api.Calls(agents.OpExecuteSQL))
}

func TestOrchestrator_ExecutionFailureSkipsConsolidation(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error)
	}{
		{"transport error", func(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error) {
			return nil, errors.New("graph store timeout")
		}},
		{"reported failure", func(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error) {
			return &agents.ExecutionResult{Success: false, Message: "session expired"}, nil
		}},
		{"negative counts", func(ctx context.Context, q agents.CypherTranslation) (*agents.ExecutionResult, error) {
			return &agents.ExecutionResult{Success: true, ExecutionSummary: agents.ExecutionSummary{TotalNodes: -4}}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAgentAPI{ExecuteCypherFunc: tt.fn}
			o, store := newTestOrchestrator(api, Config{})

			_, err := o.Run(context.Background(), Request{Query: "calls from 9876543210", ConversationID: "case-exec"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExecution)
			assert.Equal(t, 0, api.Calls(agents.OpConsolidate))

			conv, _ := store.GetConversation("case-exec")
			assert.Equal(t, memory.StatusFailed, conv.Status)
		})
	}
}

func TestOrchestrator_ConsolidationValidation(t *testing.T) {
	tests := []struct {
		name       string
		confidence string
		coverage   agents.Percent
		wantErr    bool
		want       Confidence
	}{
		{"normalizes case", "MEDIUM", 40, false, ConfidenceMedium},
		{"unknown level", "certain", 50, true, ""},
		{"coverage above range", "low", 120, true, ""},
		{"coverage below range", "low", -1, true, ""},
		{"boundaries", "Low", 0, false, ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAgentAPI{
				ConsolidateFunc: func(ctx context.Context, req agents.ConsolidationRequest) (*agents.ConsolidationResponse, error) {
					return &agents.ConsolidationResponse{
						QueryContext: "ctx",
						DataQuality:  agents.DataQuality{ConfidenceLevel: tt.confidence, CoveragePercentage: tt.coverage},
					}, nil
				},
			}
			o, store := newTestOrchestrator(api, Config{})

			outcome, err := o.Run(context.Background(), Request{Query: "calls", ConversationID: "case-c"})
			conv, _ := store.GetConversation("case-c")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConsolidation)
				assert.Equal(t, memory.StatusFailed, conv.Status)

				errorMessages := 0
				for _, m := range conv.Messages {
					if m.Phase() == memory.PhaseError {
						errorMessages++
					}
				}
				assert.Equal(t, 1, errorMessages)
				assert.False(t, conv.HasPhaseMessage(memory.RoleAssistant, memory.PhaseConsolidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Result.Consolidated.DataQuality.Confidence)
			assert.NotNil(t, outcome.Result.Consolidated.DataQuality.MissingElements)
			assert.Equal(t, memory.StatusCompleted, conv.Status)
		})
	}
}

func TestOrchestrator_RefinementFailures(t *testing.T) {
	tests := []struct {
		name string
		resp *agents.RefineResponse
		err  error
	}{
		{"transport", nil, errors.New("connection refused")},
		{"confirmed without refined query", &agents.RefineResponse{Status: agents.StatusConfirmed}, nil},
		{"awaiting without followups", &agents.RefineResponse{Status: agents.StatusAwaitingDetails, Followups: []string{" "}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAgentAPI{
				RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
					return tt.resp, tt.err
				},
			}
			o, store := newTestOrchestrator(api, Config{})

			_, err := o.Run(context.Background(), Request{Query: "calls", ConversationID: "case-r"})
			assert.ErrorIs(t, err, ErrRefinement)
			assert.Equal(t, 0, api.Calls(agents.OpTranslateSQL))

			conv, _ := store.GetConversation("case-r")
			assert.Equal(t, memory.StatusFailed, conv.Status)
		})
	}
}

func TestOrchestrator_UnknownConverserStatusTreatedAsConfirmed(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			return &agents.RefineResponse{Status: "ready", RefinedQuery: "calls from 9876543210"}, nil
		},
	}
	o, _ := newTestOrchestrator(api, Config{})

	outcome, err := o.Run(context.Background(), Request{Query: "calls"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)
}

func TestOrchestrator_ConfirmedWithStrayFollowupsProceeds(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			return &agents.RefineResponse{
				Status:         agents.StatusConfirmed,
				RefinedQuery:   "Calls of 9876543210 in Jan 2024",
				Followups:      []string{"Anything else?"},
				ConversationID: req.ConversationID,
			}, nil
		},
	}
	o, store := newTestOrchestrator(api, Config{})

	outcome, err := o.Run(context.Background(), Request{Query: "calls of 9876543210 in january", ConversationID: "confirmed-extra"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.Empty(t, outcome.Followups)
	assert.Equal(t, 1, api.Calls(agents.OpTranslateSQL))
	assert.Equal(t, "Calls of 9876543210 in Jan 2024", outcome.Result.RefinedQuery)

	conv, ok := store.GetConversation("confirmed-extra")
	require.True(t, ok)
	assert.Equal(t, memory.StatusCompleted, conv.Status)
	assert.Equal(t, 0, conv.ClarificationRounds)
}

func TestRefiner_ConfirmedDropsFollowups(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			return &agents.RefineResponse{Status: agents.StatusConfirmed, RefinedQuery: "calls", Followups: []string{"More?"}}, nil
		},
	}
	store := memory.NewStore()
	r := NewRefiner(api, store, nil)

	ref, err := r.Refine(context.Background(), "refine-extra", "calls")
	require.NoError(t, err)
	assert.False(t, ref.NeedsClarification())
	assert.Nil(t, ref.Followups)

	conv, _ := store.GetConversation("refine-extra")
	assert.Equal(t, memory.StatusQueryConfirmed, conv.Status)
}

func TestOrchestrator_ClarificationLimit(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			return &agents.RefineResponse{Status: agents.StatusAwaitingClarification, Followups: []string{"Which number?"}}, nil
		},
	}
	o, store := newTestOrchestrator(api, Config{MaxClarificationRounds: 2})

	first, err := o.Run(context.Background(), Request{Query: "something odd"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingClarification, first.State)
	id := first.ConversationID

	second, err := o.Continue(context.Background(), Request{ConversationID: id, Query: "not sure"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingClarification, second.State)

	third, err := o.Continue(context.Background(), Request{ConversationID: id, Query: "still not sure"})
	require.NoError(t, err)
	assert.Equal(t, StateRejected, third.State)
	assert.True(t, third.Closed)

	conv, _ := store.GetConversation(id)
	assert.Equal(t, memory.StatusFailed, conv.Status)

	_, err = o.Continue(context.Background(), Request{ConversationID: id, Query: "9876543210"})
	assert.ErrorIs(t, err, ErrConversationClosed)
	assert.Equal(t, 3, api.Calls(agents.OpRefine))
}

func TestOrchestrator_CompletedConversationIsClosed(t *testing.T) {
	o, _ := newTestOrchestrator(&mockAgentAPI{}, Config{})

	outcome, err := o.Run(context.Background(), Request{Query: "calls from 9876543210"})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), Request{Query: "and texts?", ConversationID: outcome.ConversationID})
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestOrchestrator_ContinueUnknownConversation(t *testing.T) {
	o, _ := newTestOrchestrator(&mockAgentAPI{}, Config{})

	_, err := o.Continue(context.Background(), Request{ConversationID: "conv_missing", Query: "answer"})
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = o.Continue(context.Background(), Request{Query: "answer"})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestOrchestrator_SameConversationIsSerialized(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			if req.Query == "slow" {
				close(entered)
				<-release
			}
			return confirmed(req, "refined "+req.Query), nil
		},
	}
	o, _ := newTestOrchestrator(api, Config{})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = o.Run(context.Background(), Request{Query: "slow", ConversationID: "case-1"})
	}()
	<-entered

	_, err := o.Run(context.Background(), Request{Query: "fast", ConversationID: "case-1"})
	assert.ErrorIs(t, err, ErrConversationBusy)

	other, err := o.Run(context.Background(), Request{Query: "fast", ConversationID: "case-2"})
	require.NoError(t, err, "other conversations are not blocked")
	assert.Equal(t, StateCompleted, other.State)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestOrchestrator_ConcurrentConversations(t *testing.T) {
	o, store := newTestOrchestrator(&mockAgentAPI{}, Config{})

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Run(context.Background(), Request{
				Query:          fmt.Sprintf("calls from 98765432%02d", i),
				ConversationID: fmt.Sprintf("case-%d", i),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "run %d", i)
		conv, ok := store.GetConversation(fmt.Sprintf("case-%d", i))
		require.True(t, ok)
		assert.Equal(t, memory.StatusCompleted, conv.Status)
		assert.Len(t, conv.Messages, 5)
	}
}

func TestOrchestrator_ArchiveFailureIsNotFatal(t *testing.T) {
	archive := &recordingArchive{err: errors.New("disk full")}
	o, _ := newTestOrchestrator(&mockAgentAPI{}, Config{Archive: archive})

	outcome, err := o.Run(context.Background(), Request{Query: "calls from 9876543210"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.Len(t, archive.saved, 1)
}

func TestOrchestrator_CancelledContextFailsPhase(t *testing.T) {
	api := &mockAgentAPI{
		RefineFunc: func(ctx context.Context, req agents.RefineRequest) (*agents.RefineResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	o, _ := newTestOrchestrator(api, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Run(ctx, Request{Query: "calls"})
	assert.ErrorIs(t, err, ErrRefinement)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrchestrator_RunningConversationSurvivesEviction(t *testing.T) {
	store := memory.NewStore(memory.WithMaxConversations(2))
	api := &mockAgentAPI{}
	api.ExecuteSQLFunc = func(ctx context.Context, q agents.SQLTranslation) (*agents.ExecutionResult, error) {
		// Other traffic fills the store while this run is in flight.
		for i := 0; i < 2; i++ {
			_, err := store.CreateConversation("")
			require.NoError(t, err)
		}
		return &agents.ExecutionResult{
			Success:          true,
			ExecutionSummary: agents.ExecutionSummary{TotalQueries: len(q.Queries), SuccessfulQueries: len(q.Queries), TotalRows: 12},
		}, nil
	}
	o := NewOrchestrator(api, store, Config{})

	outcome, err := o.Run(context.Background(), Request{Query: "calls from 9876543210"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, outcome.State)

	conv, ok := store.GetConversation(outcome.ConversationID)
	require.True(t, ok)
	assert.Equal(t, memory.StatusCompleted, conv.Status)
	assert.Contains(t, phases(conv), "system/execution")
}
