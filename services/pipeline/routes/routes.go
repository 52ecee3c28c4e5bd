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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/handlers"
)

// SetupRoutes registers the pipeline API on router.
func SetupRoutes(router *gin.Engine, h *handlers.Handler) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		projects := v1.Group("/projects")
		{
			projects.POST("", h.CreateProject)
			projects.GET("", h.ListProjects)
			projects.GET("/:id", h.GetProject)
		}

		documents := v1.Group("/documents")
		{
			documents.POST("", h.CreateDocument)
			documents.GET("/:id", h.GetDocument)
			documents.GET("/:id/versions", h.ListVersions)
			documents.GET("/:id/versions/:seq", h.GetVersion)
			documents.POST("/:id/revert", h.RevertDocument)

			documents.POST("/:id/analyze", h.AnalyzeDocument)
			documents.POST("/:id/analyze/stream", h.AnalyzeDocumentStream)

			documents.POST("/:id/testcases", h.GenerateTestcases)
			documents.GET("/:id/testcases", h.GetTestcases)
			documents.POST("/:id/testcases/chat", h.ChatTestcases)
			documents.POST("/:id/testcases/revert", h.RevertTestcases)
		}

		fixes := v1.Group("/fixes")
		{
			fixes.POST("/propose", h.ProposeFix)
			fixes.GET("/:id", h.GetProposal)
			fixes.POST("/:id/apply", h.ApplyFix)
			fixes.POST("/:id/discard", h.DiscardFix)
		}
	}
}
