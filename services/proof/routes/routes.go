// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ProofMode/services/proof/audit"
	"github.com/AleutianAI/ProofMode/services/proof/facade"
	"github.com/AleutianAI/ProofMode/services/proof/handlers"
)

// SetupRoutes registers the trace service endpoints on router.
//
// Description:
//
//	Middleware is applied by the caller before SetupRoutes. metricsHandler
//	serves /metrics and may be nil when Prometheus export is off.
//
// Endpoints:
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/traces              - Create (validate + store) a trace
//	GET    /v1/traces              - List traces (?docId=&clientId=)
//	DELETE /v1/traces              - Delete all versions of ?docId=
//	POST   /v1/traces/seed         - Store the demo seed trace
//	GET    /v1/traces/:id          - Get one version
//	POST   /v1/traces/:id/versions - Derive and store a new version
//	POST   /v1/traces/:id/memo     - Render the HTML memo
func SetupRoutes(router *gin.Engine, f *facade.Facade, metricsHandler http.Handler) {
	router.GET("/health", handlers.HealthCheck(f))
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := router.Group("/v1")
	{
		traces := v1.Group("/traces")
		{
			traces.POST("", handlers.CreateTrace(f))
			traces.GET("", handlers.ListTraces(f))
			traces.DELETE("", handlers.DeleteTraces(f))
			traces.POST("/seed", handlers.SeedTrace(f))
			traces.GET("/:id", handlers.GetTrace(f))
			traces.POST("/:id/versions", handlers.CreateVersion(f))
			traces.POST("/:id/memo", handlers.RenderMemo(f))
		}
	}
}

// SetupAuditRoutes registers the live audit feed.
//
//	GET /v1/audit/stream - WebSocket stream of audit events (?type=a,b)
func SetupAuditRoutes(router *gin.Engine, hub *audit.Hub) {
	router.GET("/v1/audit/stream", handlers.AuditStream(hub))
}
