// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package investigate

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// HandleStream handles GET /v1/investigate/stream.
//
// Description:
//
//	Upgrades to a WebSocket, reads one InvestigateRequest, then pushes a
//	StreamMessage per phase event followed by a final "result" frame (or
//	an "error" frame for refusals) and closes. A failed phase is reported
//	as a result frame with status "failed".
//
// Thread Safety: Events are written from the run goroutine only, so the
// connection has a single writer.
func (h *Handlers) HandleStream(c *gin.Context) {
	logger := ginutil.Logger(c, h.logger, "HandleStream")

	if !upgradeRequired(c.Request) {
		ginutil.Abort(c, http.StatusBadRequest, ginutil.CodeInvalidRequest, "websocket upgrade required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	var req InvestigateRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.sendError(conn, logger, ginutil.ErrorResponse{Error: "invalid request: " + err.Error(), Code: ginutil.CodeInvalidRequest})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.sendError(conn, logger, ginutil.ErrorResponse{Error: "query is required", Code: ginutil.CodeInvalidRequest})
		return
	}

	writeFailed := false
	observer := pipeline.ObserverFunc(func(ev pipeline.PhaseEvent) {
		if writeFailed {
			return
		}
		event := ev
		if err := h.send(conn, StreamMessage{Type: StreamTypePhase, Event: &event}); err != nil {
			writeFailed = true
			logger.Warn("Stream client went away", slog.String("error", err.Error()))
		}
	})

	preq := pipeline.Request{Query: req.Query, ConversationID: req.ConversationID, Observer: observer}
	outcome, err := h.investigator.Run(c.Request.Context(), preq)

	if err != nil {
		var phaseErr *pipeline.PhaseError
		if errors.As(err, &phaseErr) {
			_, body := classify(err)
			resp := InvestigateResponse{
				Status:         StatusFailed,
				ConversationID: phaseErr.ConversationID,
				Phase:          string(phaseErr.Phase),
				Error:          body.Error,
			}
			_ = h.send(conn, StreamMessage{Type: StreamTypeResult, Response: &resp})
			return
		}
		_, body := classify(err)
		h.sendError(conn, logger, body)
		return
	}

	resp := newInvestigateResponse(outcome)
	if err := h.send(conn, StreamMessage{Type: StreamTypeResult, Response: &resp}); err != nil {
		logger.Warn("Failed to deliver stream result", slog.String("error", err.Error()))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(streamWriteTimeout))
}

func (h *Handlers) send(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}

func (h *Handlers) sendError(conn *websocket.Conn, logger *slog.Logger, body ginutil.ErrorResponse) {
	if err := h.send(conn, StreamMessage{Type: StreamTypeError, Error: &body}); err != nil {
		logger.Warn("Failed to deliver stream error", slog.String("error", err.Error()))
	}
}

// upgradeRequired reports whether the request asks for a WebSocket.
func upgradeRequired(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
