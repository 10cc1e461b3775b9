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

// Translation holds both query sets for one refined query.
type Translation struct {
	SQL    *agents.SQLTranslation    `json:"sql"`
	Cypher *agents.CypherTranslation `json:"cypher"`
}

// StructuredQueries returns the SQL set as Queries.
func (t *Translation) StructuredQueries() []Query {
	out := make([]Query, 0, len(t.SQL.Queries))
	for _, q := range t.SQL.Queries {
		out = append(out, Query{Purpose: q.Purpose, Text: q.SQL, Detail: q.Table})
	}
	return out
}

// GraphQueries returns the Cypher set as Queries.
func (t *Translation) GraphQueries() []Query {
	out := make([]Query, 0, len(t.Cypher.Queries))
	for _, q := range t.Cypher.Queries {
		out = append(out, Query{Purpose: q.Purpose, Text: q.Cypher, Detail: q.Description})
	}
	return out
}

// Translator runs the parallel translation phase.
//
// Thread Safety: Translator is safe for concurrent use.
type Translator struct {
	api    TranslationAPI
	store  *memory.Store
	logger *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(api TranslationAPI, store *memory.Store, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{api: api, store: store, logger: logger}
}

// Translate produces structured and graph queries concurrently.
//
// Description:
//
//	Both translation calls run in parallel and both must succeed. Queries
//	with blank text are dropped; an empty set on either side fails the
//	phase. On success a system message tagged phase=translation records
//	both sets.
//
// Inputs:
//   - ctx: Context for cancellation. A failure on one side cancels the other.
//   - conversationID: Conversation to record into.
//   - refinedQuery: The confirmed query.
//
// Outputs:
//   - *Translation: Both query sets.
//   - error: *PhaseError (ErrTranslation). Partial results are discarded.
func (t *Translator) Translate(ctx context.Context, conversationID, refinedQuery string) (_ *Translation, err error) {
	ctx, span := tracer().Start(ctx, "pipeline.Translator.Translate")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "translation failed")
		}
		observePhase(PhaseTranslation, status, start)
	}()

	req := agents.TranslationRequest{RefinedQuery: refinedQuery, ConversationID: conversationID}
	sqlSet, cypherSet, err := Join2(ctx,
		func(ctx context.Context) (*agents.SQLTranslation, error) {
			out, err := t.api.TranslateSQL(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("structured translation: %w", err)
			}
			return out, nil
		},
		func(ctx context.Context) (*agents.CypherTranslation, error) {
			out, err := t.api.TranslateCypher(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("graph translation: %w", err)
			}
			return out, nil
		},
	)
	if err != nil {
		return nil, phaseError(PhaseTranslation, conversationID, err)
	}

	tr := &Translation{SQL: cleanSQL(sqlSet), Cypher: cleanCypher(cypherSet)}
	if len(tr.SQL.Queries) == 0 {
		return nil, phaseError(PhaseTranslation, conversationID, errors.New("structured translation returned no queries"))
	}
	if len(tr.Cypher.Queries) == 0 {
		return nil, phaseError(PhaseTranslation, conversationID, errors.New("graph translation returned no queries"))
	}
	span.SetAttributes(
		attribute.Int("translation.sql_queries", len(tr.SQL.Queries)),
		attribute.Int("translation.cypher_queries", len(tr.Cypher.Queries)),
	)

	meta := map[string]string{memory.MetaPhase: memory.PhaseTranslation}
	if _, err := t.store.AddMessage(conversationID, memory.RoleSystem, tr, meta); err != nil {
		t.logger.Warn("pipeline: recording translation failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
	return tr, nil
}

func cleanSQL(in *agents.SQLTranslation) *agents.SQLTranslation {
	out := &agents.SQLTranslation{}
	if in == nil {
		return out
	}
	out.AnalysisFocus = in.AnalysisFocus
	for _, q := range in.Queries {
		if strings.TrimSpace(q.SQL) != "" {
			out.Queries = append(out.Queries, q)
		}
	}
	return out
}

func cleanCypher(in *agents.CypherTranslation) *agents.CypherTranslation {
	out := &agents.CypherTranslation{}
	if in == nil {
		return out
	}
	out.InvestigationAngle = in.InvestigationAngle
	for _, q := range in.Queries {
		if strings.TrimSpace(q.Cypher) != "" {
			out.Queries = append(out.Queries, q)
		}
	}
	return out
}
