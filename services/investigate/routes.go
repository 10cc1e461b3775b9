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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the investigation API.
//
// Description:
//
//	Registers the /v1 endpoints on rg. The middleware (typically a rate
//	limiter) wraps only the endpoints that start pipeline runs.
//
// Endpoints:
//
//	POST /v1/investigate           - Start or continue an investigation
//	POST /v1/investigate/continue  - Answer follow-up questions
//	GET  /v1/investigate/stream    - WebSocket with phase progress
//	GET  /v1/conversations         - Recent conversations (?limit=N)
//	GET  /v1/conversations/:id     - Full conversation history
//	GET  /v1/investigations/:id    - Archived result
//	GET  /v1/health                - Service and agent health
//
// Example:
//
//	v1 := router.Group("/v1")
//	investigate.RegisterRoutes(v1, handlers, ginutil.RateLimit(5, 10))
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, middleware ...gin.HandlerFunc) {
	runs := rg.Group("/investigate", middleware...)
	{
		runs.POST("", h.HandleInvestigate)
		runs.POST("/continue", h.HandleContinue)
		runs.GET("/stream", h.HandleStream)
	}

	rg.GET("/conversations", h.HandleListConversations)
	rg.GET("/conversations/:id", h.HandleGetConversation)
	rg.GET("/investigations/:id", h.HandleGetInvestigation)
	rg.GET("/health", h.HandleHealth)
}

// RegisterMetrics exposes Prometheus metrics at GET /metrics.
func RegisterMetrics(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
