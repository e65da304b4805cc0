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
	"github.com/bicqa/bicqa/services/orchestrator/config"
	"github.com/bicqa/bicqa/services/orchestrator/engine"
	"github.com/bicqa/bicqa/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, orch *engine.Orchestrator, store config.Store) {
	ask := handlers.NewAskHandler(orch, store)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/ask", ask.Ask)
		v1.POST("/ask/stream", ask.AskStream)
		v1.POST("/ask/cancel", ask.Cancel)
		v1.GET("/conversations/:id", ask.Conversation)
		// Configuration listings consumed by the popup's settings panel
		v1.GET("/models", ask.Models)
		v1.GET("/knowledge-bases", ask.KnowledgeBases)
		v1.GET("/rules", ask.Rules)
	}
}
