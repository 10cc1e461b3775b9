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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
)

// DefaultMaxClarificationRounds caps clarification prompts per conversation.
const DefaultMaxClarificationRounds = 3

// Config configures an Orchestrator.
//
// Fields:
//   - MaxClarificationRounds: Clarification prompts allowed before the
//     conversation is closed. Zero means DefaultMaxClarificationRounds.
//   - Archive: Optional store for completed results.
//   - Logger: Nil uses slog.Default().
type Config struct {
	MaxClarificationRounds int
	Archive                ResultArchive
	Logger                 *slog.Logger
}

// Request starts or continues an investigation.
type Request struct {
	// Query is the user's text: a new question or an answer to follow-ups.
	Query string

	// ConversationID continues a conversation. Empty starts a new one.
	ConversationID string

	// Observer receives progress events. Optional.
	Observer Observer
}

// Orchestrator drives one investigation through its phases.
//
// Description:
//
//	Refinement → (clarification | rejection | translation) → execution →
//	consolidation. Runs for different conversations proceed concurrently;
//	a second run for a conversation that is already running fails fast
//	with ErrConversationBusy. There are no automatic retries.
//
// Thread Safety: Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store        *memory.Store
	refiner      *Refiner
	translator   *Translator
	executor     *Executor
	consolidator *Consolidator
	archive      ResultArchive
	maxRounds    int
	logger       *slog.Logger
	now          func() time.Time

	running sync.Map // conversation id -> struct{}
}

// NewOrchestrator creates an Orchestrator.
//
// Inputs:
//   - api: The agent endpoints.
//   - store: Conversation memory shared with readers of history.
//   - cfg: Options.
func NewOrchestrator(api AgentAPI, store *memory.Store, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRounds := cfg.MaxClarificationRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxClarificationRounds
	}
	return &Orchestrator{
		store:        store,
		refiner:      NewRefiner(api, store, logger),
		translator:   NewTranslator(api, store, logger),
		executor:     NewExecutor(api, store, logger),
		consolidator: NewConsolidator(api, store, logger),
		archive:      cfg.Archive,
		maxRounds:    maxRounds,
		logger:       logger,
		now:          time.Now,
	}
}

// Run starts or continues an investigation.
//
// Description:
//
//	Creates the conversation if needed and runs the phases in order.
//	Rejections are reported as an Outcome with StateRejected, not as an
//	error. When the converser asks for details more than
//	MaxClarificationRounds times the conversation is failed and the
//	Outcome is a closed rejection.
//
// Inputs:
//   - ctx: Context for cancellation. Cancellation fails the current phase.
//   - req: The query and optional conversation id.
//
// Outputs:
//   - *Outcome: Completed, awaiting clarification, or rejected.
//   - error: *PhaseError naming the failed phase, ErrConversationBusy, or
//     ErrConversationClosed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (_ *Outcome, err error) {
	if strings.TrimSpace(req.Query) == "" {
		runsTotal.WithLabelValues(string(StateRejected)).Inc()
		return &Outcome{State: StateRejected, ConversationID: req.ConversationID, Message: emptyQueryMessage}, nil
	}

	conversationID := req.ConversationID
	fresh := conversationID == ""
	if fresh {
		conversationID = memory.NewConversationID()
	}
	// A running conversation must survive eviction until the run ends.
	unpin := o.store.Pin(conversationID)
	defer unpin()
	if fresh {
		if _, cErr := o.store.CreateConversation(conversationID); cErr != nil {
			return nil, fmt.Errorf("pipeline: creating conversation: %w", cErr)
		}
	}

	if _, busy := o.running.LoadOrStore(conversationID, struct{}{}); busy {
		runsTotal.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, conversationID)
	}
	defer o.running.Delete(conversationID)

	if conv, ok := o.store.GetConversation(conversationID); ok && conv.Status.Terminal() {
		runsTotal.WithLabelValues("closed").Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrConversationClosed, conversationID, conv.Status)
	}

	ctx, span := tracer().Start(ctx, "pipeline.Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	activeRuns.Inc()
	defer activeRuns.Dec()

	logger := o.logger.With(slog.String("conversation_id", conversationID))
	start := time.Now()
	emit := o.emitter(conversationID, req.Observer)

	outcome, err := o.run(ctx, conversationID, req.Query, emit, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(PhaseOf(err)))
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error("Investigation failed",
			slog.String("phase", string(PhaseOf(err))),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.State)))
	runsTotal.WithLabelValues(string(outcome.State)).Inc()
	logger.Info("Investigation run finished",
		slog.String("outcome", string(outcome.State)),
		slog.Duration("duration", time.Since(start)),
	)
	return outcome, nil
}

// Continue answers the follow-up questions of an existing conversation.
//
// Outputs:
//   - error: memory.ErrNotFound for an unknown conversation id, otherwise
//     as Run.
func (o *Orchestrator) Continue(ctx context.Context, req Request) (*Outcome, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", memory.ErrNotFound)
	}
	if _, ok := o.store.GetConversation(req.ConversationID); !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, req.ConversationID)
	}
	return o.Run(ctx, req)
}

func (o *Orchestrator) run(ctx context.Context, conversationID, query string, emit func(Phase, EventState), logger *slog.Logger) (*Outcome, error) {
	// Refinement
	emit(PhaseRefinement, EventStarted)
	refinement, err := o.refiner.Refine(ctx, conversationID, query)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			emit(PhaseRefinement, EventCompleted)
			return &Outcome{State: StateRejected, ConversationID: conversationID, Message: rejected.Message}, nil
		}
		return nil, o.fail(conversationID, err, emit)
	}
	emit(PhaseRefinement, EventCompleted)

	if refinement.NeedsClarification() {
		rounds, err := o.store.IncrementClarification(conversationID)
		if err != nil {
			return nil, o.fail(conversationID, phaseError(PhaseRefinement, conversationID, err), emit)
		}
		if rounds > o.maxRounds {
			rejected := &RejectedError{
				Message: fmt.Sprintf("I still don't have enough detail after %d rounds of questions. Please start a new investigation with a specific phone number, identifier, or time range.", o.maxRounds),
				Reason:  ErrClarificationLimit,
			}
			markFailed(o.store, logger, conversationID, PhaseRefinement, rejected, o.now())
			return &Outcome{
				State:          StateRejected,
				ConversationID: conversationID,
				Message:        rejected.Message,
				Closed:         true,
			}, nil
		}
		logger.Info("Awaiting clarification",
			slog.Int("round", rounds),
			slog.Int("followups", len(refinement.Followups)),
		)
		return &Outcome{
			State:          StateAwaitingClarification,
			ConversationID: conversationID,
			Message:        refinement.Message,
			Followups:      refinement.Followups,
		}, nil
	}

	// Translation
	emit(PhaseTranslation, EventStarted)
	translation, err := o.translator.Translate(ctx, conversationID, refinement.RefinedQuery)
	if err != nil {
		return nil, o.fail(conversationID, err, emit)
	}
	emit(PhaseTranslation, EventCompleted)

	// Execution
	emit(PhaseExecution, EventStarted)
	execution, err := o.executor.Execute(ctx, conversationID, translation)
	if err != nil {
		return nil, o.fail(conversationID, err, emit)
	}
	emit(PhaseExecution, EventCompleted)

	// Consolidation
	emit(PhaseConsolidation, EventStarted)
	consolidated, err := o.consolidator.Consolidate(ctx, conversationID, execution)
	if err != nil {
		return nil, o.fail(conversationID, err, emit)
	}
	emit(PhaseConsolidation, EventCompleted)

	result := &Result{
		ConversationID:     conversationID,
		RefinedQuery:       refinement.RefinedQuery,
		StructuredQueries:  translation.StructuredQueries(),
		GraphQueries:       translation.GraphQueries(),
		AnalysisFocus:      translation.SQL.AnalysisFocus,
		InvestigationAngle: translation.Cypher.InvestigationAngle,
		ExecutionSummary:   execution.Summary,
		Consolidated:       *consolidated,
		CompletedAt:        o.now().UTC(),
	}
	o.save(ctx, result, logger)
	emit(PhaseCompleted, EventCompleted)

	return &Outcome{State: StateCompleted, ConversationID: conversationID, Result: result}, nil
}

// fail marks the conversation failed and reports the phase.
func (o *Orchestrator) fail(conversationID string, err error, emit func(Phase, EventState)) error {
	phase := PhaseOf(err)
	markFailed(o.store, o.logger, conversationID, phase, err, o.now())
	emit(phase, EventFailed)
	return err
}

func (o *Orchestrator) save(ctx context.Context, result *Result, logger *slog.Logger) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Save(ctx, result); err != nil {
		logger.Warn("Archiving investigation result failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) emitter(conversationID string, observer Observer) func(Phase, EventState) {
	return func(phase Phase, state EventState) {
		o.logger.Debug("pipeline: phase event",
			slog.String("conversation_id", conversationID),
			slog.String("phase", string(phase)),
			slog.String("state", string(state)),
		)
		if observer == nil {
			return
		}
		observer.OnPhase(PhaseEvent{
			ConversationID: conversationID,
			Phase:          phase,
			State:          state,
			Message:        StatusMessage(phase),
			Timestamp:      o.now().UTC(),
		})
	}
}
