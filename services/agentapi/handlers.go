// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "aleutian-investigate-agents"

// Version is the agent service version.
const Version = "1.0.0"

// Handlers exposes a Service over HTTP.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates Handlers. It panics if svc is nil.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if svc == nil {
		panic("agentapi.NewHandlers: service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleRefine handles POST /api/converser.
func (h *Handlers) HandleRefine(c *gin.Context) {
	serve(c, h, "HandleRefine", h.svc.Refine)
}

// HandleTranslateSQL handles POST /api/sql-translate.
func (h *Handlers) HandleTranslateSQL(c *gin.Context) {
	serve(c, h, "HandleTranslateSQL", h.svc.TranslateSQL)
}

// HandleTranslateCypher handles POST /api/cypher-translate.
func (h *Handlers) HandleTranslateCypher(c *gin.Context) {
	serve(c, h, "HandleTranslateCypher", h.svc.TranslateCypher)
}

// HandleExecuteSQL handles POST /api/execute-sql.
func (h *Handlers) HandleExecuteSQL(c *gin.Context) {
	serve(c, h, "HandleExecuteSQL", h.svc.ExecuteSQL)
}

// HandleExecuteCypher handles POST /api/execute-cypher.
func (h *Handlers) HandleExecuteCypher(c *gin.Context) {
	serve(c, h, "HandleExecuteCypher", h.svc.ExecuteCypher)
}

// HandleConsolidate handles POST /api/consolidate.
func (h *Handlers) HandleConsolidate(c *gin.Context) {
	serve(c, h, "HandleConsolidate", h.svc.Consolidate)
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, agents.HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// serve binds the JSON body, calls fn, and writes the result or an error.
func serve[Req, Resp any](c *gin.Context, h *Handlers, name string, fn func(context.Context, Req) (*Resp, error)) {
	logger := ginutil.Logger(c, h.logger, name)

	var req Req
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "invalid request: "+err.Error())
		return
	}

	resp, err := fn(c.Request.Context(), req)
	if err != nil {
		status, code := classify(err)
		logger.Warn("Agent call failed",
			slog.Int("status", status),
			slog.String("error", err.Error()))
		ginutil.Abort(c, status, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, ginutil.CodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ginutil.CodeUpstreamFailed
	default:
		return http.StatusBadGateway, ginutil.CodeUpstreamFailed
	}
}
