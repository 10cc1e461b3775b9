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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the agent endpoints under /api.
//
// Endpoints:
//
//	POST /api/converser         - Query refinement
//	POST /api/sql-translate     - SQL translation
//	POST /api/cypher-translate  - Cypher translation
//	POST /api/execute-sql       - Structured execution
//	POST /api/execute-cypher    - Graph execution
//	POST /api/consolidate       - Consolidation
//	GET  /api/health            - Liveness
//
// The middleware wraps every endpoint except health.
func RegisterRoutes(r gin.IRouter, h *Handlers, middleware ...gin.HandlerFunc) {
	api := r.Group("/api")
	api.GET("/health", h.HandleHealth)

	agentRoutes := api.Group("", middleware...)
	{
		agentRoutes.POST("/converser", h.HandleRefine)
		agentRoutes.POST("/sql-translate", h.HandleTranslateSQL)
		agentRoutes.POST("/cypher-translate", h.HandleTranslateCypher)
		agentRoutes.POST("/execute-sql", h.HandleExecuteSQL)
		agentRoutes.POST("/execute-cypher", h.HandleExecuteCypher)
		agentRoutes.POST("/consolidate", h.HandleConsolidate)
	}
}
