// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ginutil holds the gin plumbing shared by both HTTP services:
// the error envelope, request ids and rate limiting.
package ginutil

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Error codes shared by the services.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeAgentsUnavailable  = "AGENTS_UNAVAILABLE"
	CodeConversationBusy   = "CONVERSATION_BUSY"
	CodeConversationClosed = "CONVERSATION_CLOSED"
	CodePhaseFailed        = "PHASE_FAILED"
	CodeUpstreamFailed     = "UPSTREAM_FAILED"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	Phase          string `json:"phase,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RequestID assigns every request an id.
//
// # Description
//
// An incoming X-Request-ID header is reused; otherwise a UUID is
// generated. The id is echoed in the response header and stored on the
// gin context for RequestIDFrom and Logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFrom returns the request id, creating one if the middleware
// did not run.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	return id
}

// Logger returns base annotated with the request id and handler name.
func Logger(c *gin.Context, base *slog.Logger, handler string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("request_id", RequestIDFrom(c)),
		slog.String("handler", handler),
	)
}

// RateLimit rejects requests beyond rps with 429.
//
// A non-positive rps disables limiting. burst below 1 is raised to 1.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  CodeRateLimited,
			})
			return
		}
		c.Next()
	}
}

// Abort writes an ErrorResponse and stops the handler chain.
func Abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
