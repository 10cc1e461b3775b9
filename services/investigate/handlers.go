// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package investigate exposes the investigation orchestrator over HTTP.
package investigate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const defaultListLimit = 10

// Investigator runs investigations. *pipeline.Orchestrator implements it.
type Investigator interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	Continue(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// ConversationReader reads conversation memory. *memory.Store implements it.
type ConversationReader interface {
	GetConversation(id string) (*memory.Conversation, bool)
	ListRecent(limit int) []*memory.Conversation
}

// HealthChecker probes the agent service. *agents.Client implements it.
type HealthChecker interface {
	Health(ctx context.Context) (*agents.HealthResponse, error)
}

// ResultLoader reads archived results. *archive.Store implements it.
type ResultLoader interface {
	Load(ctx context.Context, conversationID string) (*pipeline.Result, error)
}

// HandlersConfig wires the handler dependencies.
//
// Investigator and Conversations are required. Health and Archive may be
// nil; the corresponding endpoints then report the feature as unavailable.
type HandlersConfig struct {
	Investigator  Investigator
	Conversations ConversationReader
	Health        HealthChecker
	Archive       ResultLoader
	Logger        *slog.Logger

	// HealthTimeout bounds the agent health probe. Zero means 5s.
	HealthTimeout time.Duration
}

// Handlers serves the /v1 investigation API.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the injected dependencies.
type Handlers struct {
	investigator  Investigator
	conversations ConversationReader
	health        HealthChecker
	archive       ResultLoader
	logger        *slog.Logger
	healthTimeout time.Duration
	upgrader      websocket.Upgrader
}

// NewHandlers creates handlers from cfg.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Investigator == nil || cfg.Conversations == nil {
		panic("investigate.NewHandlers: Investigator and Conversations are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{
		investigator:  cfg.Investigator,
		conversations: cfg.Conversations,
		health:        cfg.Health,
		archive:       cfg.Archive,
		logger:        logger,
		healthTimeout: timeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleInvestigate handles POST /v1/investigate.
//
// Description:
//
//	Runs an investigation. A conversation_id that does not exist yet is
//	created under that id; an existing one receives the query as its next
//	turn. Rejections and clarification requests are 200 responses with the
//	matching status.
//
// Response:
//
//	200 OK: InvestigateResponse
//	400 Bad Request: Malformed body or empty query
//	409 Conflict: Conversation busy or closed
//	502 Bad Gateway: A phase failed
func (h *Handlers) HandleInvestigate(c *gin.Context) {
	logger := ginutil.Logger(c, h.logger, "HandleInvestigate")

	var req InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "query is required")
		return
	}

	outcome, err := h.investigator.Run(c.Request.Context(), pipeline.Request{
		Query:          req.Query,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}

	logger.Info("Investigation request handled",
		slog.String("conversation_id", outcome.ConversationID),
		slog.String("status", string(outcome.State)),
	)
	c.JSON(http.StatusOK, newInvestigateResponse(outcome))
}

// HandleContinue handles POST /v1/investigate/continue.
//
// Response:
//
//	As HandleInvestigate; conversation_id and answer are both required.
func (h *Handlers) HandleContinue(c *gin.Context) {
	logger := ginutil.Logger(c, h.logger, "HandleContinue")

	var req ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "conversation_id and answer are required")
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "answer is required")
		return
	}

	outcome, err := h.investigator.Continue(c.Request.Context(), pipeline.Request{
		Query:          req.Answer,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newInvestigateResponse(outcome))
}

// HandleListConversations handles GET /v1/conversations?limit=N.
func (h *Handlers) HandleListConversations(c *gin.Context) {
	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recent := h.conversations.ListRecent(limit)
	resp := ConversationsResponse{
		Conversations: make([]ConversationSummary, 0, len(recent)),
		Count:         len(recent),
	}
	for _, conv := range recent {
		resp.Conversations = append(resp.Conversations, summarize(conv))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetConversation handles GET /v1/conversations/:id.
func (h *Handlers) HandleGetConversation(c *gin.Context) {
	id := c.Param("id")
	conv, ok := h.conversations.GetConversation(id)
	if !ok {
		ginutil.Abort(c, http.StatusNotFound, ginutil.CodeNotFound, "conversation not found: "+id)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// HandleGetInvestigation handles GET /v1/investigations/:id.
//
// Response:
//
//	200 OK: pipeline.Result from the archive
//	404 Not Found: Nothing archived for the id
//	503 Service Unavailable: Archive disabled
func (h *Handlers) HandleGetInvestigation(c *gin.Context) {
	logger := ginutil.Logger(c, h.logger, "HandleGetInvestigation")

	if h.archive == nil {
		ginutil.Abort(c, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "investigation archive is not configured")
		return
	}
	id := c.Param("id")
	result, err := h.archive.Load(c.Request.Context(), id)
	if err != nil {
		logger.Error("Archive load failed", slog.String("conversation_id", id), slog.String("error", err.Error()))
		ginutil.Abort(c, http.StatusInternalServerError, ginutil.CodeInternal, "failed to load investigation")
		return
	}
	if result == nil {
		ginutil.Abort(c, http.StatusNotFound, ginutil.CodeNotFound, "no archived investigation for "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":    result,
		"formatted": pipeline.FormatResult(result),
	})
}

// HandleHealth handles GET /v1/health.
//
// Response:
//
//	200 OK: Agent service reachable
//	503 Service Unavailable: Agent service down or not configured
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Agents:    "unknown",
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.health == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.healthTimeout)
	defer cancel()
	agentHealth, err := h.health.Health(ctx)
	if err != nil {
		ginutil.Logger(c, h.logger, "HandleHealth").Warn("Agent service health check failed",
			slog.String("error", err.Error()),
		)
		resp.Status = "degraded"
		resp.Agents = "unreachable"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Agents = agentHealth.Status
	c.JSON(http.StatusOK, resp)
}

// classify maps an orchestrator error to an HTTP status and error body.
func classify(err error) (int, ginutil.ErrorResponse) {
	var phaseErr *pipeline.PhaseError
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, ginutil.ErrorResponse{Error: err.Error(), Code: ginutil.CodeNotFound}
	case errors.Is(err, pipeline.ErrConversationBusy):
		return http.StatusConflict, ginutil.ErrorResponse{Error: err.Error(), Code: ginutil.CodeConversationBusy}
	case errors.Is(err, pipeline.ErrConversationClosed):
		return http.StatusConflict, ginutil.ErrorResponse{Error: err.Error(), Code: ginutil.CodeConversationClosed}
	case errors.As(err, &phaseErr):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return status, ginutil.ErrorResponse{
			Error:          err.Error(),
			Code:           ginutil.CodePhaseFailed,
			Phase:          string(phaseErr.Phase),
			ConversationID: phaseErr.ConversationID,
		}
	default:
		return http.StatusInternalServerError, ginutil.ErrorResponse{Error: err.Error(), Code: ginutil.CodeInternal}
	}
}

func (h *Handlers) writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Investigation failed",
			slog.String("code", body.Code),
			slog.String("phase", body.Phase),
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("Investigation request refused",
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
		)
	}
	c.AbortWithStatusJSON(status, body)
}
