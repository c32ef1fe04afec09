// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the ContractIQ HTTP API.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/services/notify"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/handlers"
	"github.com/AleutianAI/ContractIQ/services/pipeline/middleware"
)

// Stages holds the stage handlers exposed over HTTP. Nil stages are not
// routed.
type Stages struct {
	Uploader  *pipeline.Uploader
	Query     *pipeline.Query
	Extractor *pipeline.Extractor
	Analyzer  *pipeline.Analyzer
	Scorer    *pipeline.RiskScorer
	Notifier  *pipeline.Notifier

	// Hub serves dashboard subscribers at /v1/notifications/ws.
	Hub *notify.Hub

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// SetupRoutes registers every route on router.
//
//	GET  /health
//	GET  /metrics
//	POST /v1/contracts/upload
//	GET  /v1/contracts
//	GET  /v1/contracts/:id
//	POST /v1/events/{object-created,analysis,scoring,notify}
//	GET  /v1/notifications/ws
func SetupRoutes(router *gin.Engine, s Stages, opts extensions.ServiceOptions) {
	opts = opts.WithDefaults()
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)
	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		contracts := v1.Group("/contracts")
		{
			if s.Uploader != nil {
				contracts.POST("/upload", handlers.UploadContract(s.Uploader, opts.AuditLogger))
			}
			if s.Query != nil {
				contracts.GET("", handlers.ListContracts(s.Query))
				// An empty id gets its own route so gin answers 400
				// instead of redirecting to the listing.
				contracts.GET("/", handlers.GetContract(s.Query, opts.AuditLogger))
				contracts.GET("/:id", handlers.GetContract(s.Query, opts.AuditLogger))
			}
		}

		events := v1.Group("/events")
		{
			if s.Extractor != nil {
				events.POST("/object-created", handlers.HandleObjectCreated(s.Extractor))
			}
			if s.Analyzer != nil {
				events.POST("/analysis", handlers.HandleAnalysisBatch(s.Analyzer))
			}
			if s.Scorer != nil {
				events.POST("/scoring", handlers.HandleScoring(s.Scorer))
			}
			if s.Notifier != nil {
				events.POST("/notify", handlers.HandleNotify(s.Notifier))
			}
		}

		if s.Hub != nil {
			v1.GET("/notifications/ws", s.Hub.Handler(middleware.UserID))
		}
	}
}
