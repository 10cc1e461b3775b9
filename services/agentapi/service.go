// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agentapi implements the LLM-backed agent service the
// investigation pipeline calls: the converser, the SQL and Cypher
// translators, the two executors, and the consolidator.
package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
	"github.com/AleutianAI/AleutianInvestigate/services/llm"
)

// Sentinel errors. Handlers map ErrInvalidRequest to 400 and everything
// else to 502.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidOutput  = errors.New("model returned invalid output")
)

// Sampling temperatures per agent.
const (
	converserTemperature     = 0.3
	translationTemperature   = 0.1
	consolidationTemperature = 0.1
)

// converserHistory is how many prior messages are shown to the converser.
const converserHistory = 6

// Agent names used in metrics and spans.
const (
	agentConverser       = "converser"
	agentSQLTranslate    = "sql_translate"
	agentCypherTranslate = "cypher_translate"
	agentExecuteSQL      = "execute_sql"
	agentExecuteCypher   = "execute_cypher"
	agentConsolidate     = "consolidate"
)

// ServiceConfig holds the Service's collaborators.
//
// Fields:
//   - LLM: Chat backend. Required.
//   - History: Converser history. Nil creates an unbounded store.
//   - SQL: Structured executor. Nil uses MockExecutor.
//   - Graph: Graph executor. Nil uses MockExecutor.
//   - Logger: Nil uses slog.Default().
type ServiceConfig struct {
	LLM     llm.ChatClient
	History *memory.Store
	SQL     StructuredExecutor
	Graph   GraphExecutor
	Logger  *slog.Logger
}

// Service implements the six agent operations.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	llm     llm.ChatClient
	history *memory.Store
	sql     StructuredExecutor
	graph   GraphExecutor
	logger  *slog.Logger
}

var _ pipeline.AgentAPI = (*Service)(nil)

// NewService creates a Service. It panics if cfg.LLM is nil.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LLM == nil {
		panic("agentapi.NewService: LLM is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.History == nil {
		cfg.History = memory.NewStore(memory.WithLogger(cfg.Logger))
	}
	mock := NewMockExecutor()
	if cfg.SQL == nil {
		cfg.SQL = mock
	}
	if cfg.Graph == nil {
		cfg.Graph = mock
	}
	return &Service{
		llm:     cfg.LLM,
		history: cfg.History,
		sql:     cfg.SQL,
		graph:   cfg.Graph,
		logger:  cfg.Logger.With(slog.String("component", "agentapi")),
	}
}

// converserReply is the converser's JSON output.
type converserReply struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	RefinedQuery string   `json:"refined_query"`
	Followups    []string `json:"followups"`
}

// Refine runs the converser.
//
// Description:
//
//	Records the query in the conversation's history, shows the model the
//	previous six messages, and normalizes its verdict. A confirmed verdict
//	without a refined query falls back to the original text; a request for
//	details must carry at least one question.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - req: Query text and optional conversation id. A new id is assigned
//     when empty.
//
// Outputs:
//   - *agents.RefineResponse: Verdict with the conversation id set.
//   - error: ErrInvalidRequest for a blank query, ErrInvalidOutput for an
//     unusable verdict, or the LLM error.
func (s *Service) Refine(ctx context.Context, req agents.RefineRequest) (_ *agents.RefineResponse, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.Refine")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentConverser, err, start)
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	conv, _ := s.history.EnsureConversation(req.ConversationID)
	if conv == nil {
		return nil, errors.New("conversation history unavailable")
	}
	span.SetAttributes(attribute.String("conversation_id", conv.ID))

	if _, err := s.history.AddMessage(conv.ID, memory.RoleUser, query, nil); err != nil {
		return nil, err
	}

	prompt := query
	if previous := s.previousTurns(conv.ID); previous != "" {
		prompt = previous + "\nCurrent request: " + query
	}
	raw, err := s.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: converserPrompt},
		{Role: "user", Content: prompt},
	}, llm.GenerationParams{Temperature: llm.Temperature(converserTemperature), JSONMode: true})
	if err != nil {
		return nil, err
	}

	var reply converserReply
	if err := decodeModelJSON(raw, &reply); err != nil {
		return nil, err
	}
	resp, err := normalizeVerdict(reply, query)
	if err != nil {
		return nil, err
	}
	resp.ConversationID = conv.ID
	converserDecisions.WithLabelValues(resp.Status).Inc()
	span.SetAttributes(attribute.String("converser.status", resp.Status))

	if _, err := s.history.AddMessage(conv.ID, memory.RoleAssistant, resp.Message,
		map[string]string{memory.MetaStatus: resp.Status}); err != nil {
		s.logger.Warn("Failed to record converser reply",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()))
	}
	return resp, nil
}

// previousTurns renders the messages before the current one.
func (s *Service) previousTurns(conversationID string) string {
	conv, ok := s.history.GetConversation(conversationID)
	if !ok {
		return ""
	}
	recent := conv.LastMessages(converserHistory + 1)
	if len(recent) <= 1 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, m := range recent[:len(recent)-1] {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		switch m.Role {
		case memory.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", text)
		case memory.RoleAssistant:
			fmt.Fprintf(&b, "Analyst: %s\n", text)
		}
	}
	return b.String()
}

func normalizeVerdict(reply converserReply, query string) (*agents.RefineResponse, error) {
	resp := &agents.RefineResponse{
		Status:       strings.ToLower(strings.TrimSpace(reply.Status)),
		Message:      strings.TrimSpace(reply.Message),
		RefinedQuery: strings.TrimSpace(reply.RefinedQuery),
		Followups:    nonBlank(reply.Followups),
	}
	switch resp.Status {
	case agents.StatusConfirmed, agents.StatusCompleted:
		resp.Status = agents.StatusConfirmed
		resp.Followups = nil
		if resp.RefinedQuery == "" {
			resp.RefinedQuery = query
		}
	case agents.StatusAwaitingDetails, agents.StatusAwaitingClarification:
		resp.Status = agents.StatusAwaitingDetails
		resp.RefinedQuery = ""
		if len(resp.Followups) == 0 {
			return nil, fmt.Errorf("%w: details requested without questions", ErrInvalidOutput)
		}
	case agents.StatusRejected:
		resp.RefinedQuery = ""
		resp.Followups = nil
	default:
		return nil, fmt.Errorf("%w: unknown converser status %q", ErrInvalidOutput, reply.Status)
	}
	return resp, nil
}

// TranslateSQL runs the SQL translator.
//
// Outputs:
//   - *agents.SQLTranslation: At least one query with non-blank SQL.
//   - error: ErrInvalidRequest, ErrInvalidOutput, or the LLM error.
func (s *Service) TranslateSQL(ctx context.Context, req agents.TranslationRequest) (_ *agents.SQLTranslation, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.TranslateSQL")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentSQLTranslate, err, start)
	}()

	var out agents.SQLTranslation
	if err := s.translate(ctx, sqlPrompt, req, &out); err != nil {
		return nil, err
	}
	kept := out.Queries[:0]
	for _, q := range out.Queries {
		q.SQL = strings.TrimSpace(q.SQL)
		if q.SQL == "" {
			continue
		}
		q.Table = strings.ToLower(strings.TrimSpace(q.Table))
		kept = append(kept, q)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no SQL queries", ErrInvalidOutput)
	}
	out.Queries = kept
	span.SetAttributes(attribute.Int("query_count", len(kept)))
	return &out, nil
}

// TranslateCypher runs the Cypher translator.
//
// Outputs:
//   - *agents.CypherTranslation: At least one query with non-blank Cypher.
//   - error: ErrInvalidRequest, ErrInvalidOutput, or the LLM error.
func (s *Service) TranslateCypher(ctx context.Context, req agents.TranslationRequest) (_ *agents.CypherTranslation, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.TranslateCypher")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentCypherTranslate, err, start)
	}()

	var out agents.CypherTranslation
	if err := s.translate(ctx, cypherPrompt, req, &out); err != nil {
		return nil, err
	}
	kept := out.Queries[:0]
	for _, q := range out.Queries {
		q.Cypher = strings.TrimSpace(q.Cypher)
		if q.Cypher != "" {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no Cypher queries", ErrInvalidOutput)
	}
	out.Queries = kept
	span.SetAttributes(attribute.Int("query_count", len(kept)))
	return &out, nil
}

func (s *Service) translate(ctx context.Context, system string, req agents.TranslationRequest, out any) error {
	query := strings.TrimSpace(req.RefinedQuery)
	if query == "" {
		return fmt.Errorf("%w: refined_query is required", ErrInvalidRequest)
	}
	raw, err := s.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Investigation request: " + query},
	}, llm.GenerationParams{Temperature: llm.Temperature(translationTemperature), JSONMode: true})
	if err != nil {
		return err
	}
	return decodeModelJSON(raw, out)
}

// ExecuteSQL runs a SQL translation on the structured executor.
func (s *Service) ExecuteSQL(ctx context.Context, t agents.SQLTranslation) (_ *agents.ExecutionResult, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.ExecuteSQL")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentExecuteSQL, err, start)
	}()

	res, err := s.sql.ExecuteSQL(ctx, t)
	if err != nil {
		return nil, err
	}
	countQueries(res)
	return res, nil
}

// ExecuteCypher runs a Cypher translation on the graph executor.
func (s *Service) ExecuteCypher(ctx context.Context, t agents.CypherTranslation) (_ *agents.ExecutionResult, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.ExecuteCypher")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentExecuteCypher, err, start)
	}()

	res, err := s.graph.ExecuteCypher(ctx, t)
	if err != nil {
		return nil, err
	}
	countQueries(res)
	return res, nil
}

func countQueries(res *agents.ExecutionResult) {
	sum := res.ExecutionSummary
	executedQueries.WithLabelValues(sum.ExecutionType, "success").Add(float64(sum.SuccessfulQueries))
	executedQueries.WithLabelValues(sum.ExecutionType, "failure").Add(float64(sum.FailedQueries))
}

// Consolidate runs the consolidator over both execution results.
//
// Description:
//
//	Sends both results to the model and normalizes its report: confidence
//	is lowercased (unknown values become "low"), coverage is clamped to
//	0..100, and nil lists become empty.
//
// Outputs:
//   - *agents.ConsolidationResponse: Report with the conversation id set.
//   - error: ErrInvalidRequest when both inputs are missing,
//     ErrInvalidOutput when the report has no query_context, or the LLM
//     error.
func (s *Service) Consolidate(ctx context.Context, req agents.ConsolidationRequest) (_ *agents.ConsolidationResponse, err error) {
	ctx, span := tracer().Start(ctx, "agentapi.Service.Consolidate")
	defer span.End()
	start := time.Now()
	defer func() {
		endSpan(span, err)
		observeAgent(agentConsolidate, err, start)
	}()
	span.SetAttributes(attribute.String("conversation_id", req.ConversationID))

	if req.SQLData == nil && req.CypherData == nil {
		return nil, fmt.Errorf("%w: sql_data or cypher_data is required", ErrInvalidRequest)
	}
	evidence, err := json.Marshal(map[string]any{
		"sql_results":   req.SQLData,
		"graph_results": req.CypherData,
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: consolidationPrompt},
		{Role: "user", Content: "Evidence:\n" + string(evidence)},
	}, llm.GenerationParams{Temperature: llm.Temperature(consolidationTemperature), JSONMode: true})
	if err != nil {
		return nil, err
	}

	var out agents.ConsolidationResponse
	if err := decodeModelJSON(raw, &out); err != nil {
		return nil, err
	}
	out.QueryContext = strings.TrimSpace(out.QueryContext)
	if out.QueryContext == "" {
		return nil, fmt.Errorf("%w: report has no query_context", ErrInvalidOutput)
	}
	normalizeQuality(&out.DataQuality)
	if out.ConsolidatedData.KeyInsights == nil {
		out.ConsolidatedData.KeyInsights = []string{}
	}
	out.ConversationID = req.ConversationID
	return &out, nil
}

func normalizeQuality(q *agents.DataQuality) {
	conf, err := pipeline.ParseConfidence(q.ConfidenceLevel)
	if err != nil {
		conf = pipeline.ConfidenceLow
	}
	q.ConfidenceLevel = string(conf)
	switch {
	case q.CoveragePercentage < 0:
		q.CoveragePercentage = 0
	case q.CoveragePercentage > 100:
		q.CoveragePercentage = 100
	}
	if q.MissingElements == nil {
		q.MissingElements = []string{}
	}
}

// decodeModelJSON decodes the first JSON object in raw. Models sometimes
// wrap output in a Markdown fence even in JSON mode.
func decodeModelJSON(raw string, out any) error {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in reply", ErrInvalidOutput)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidOutput):
		return "invalid_output"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
