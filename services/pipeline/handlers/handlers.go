// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the document pipeline over HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/analysis"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/extract"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/fix"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/observability"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/store"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/stream"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/testcase"
)

// Handler carries the pipeline collaborators the HTTP surface dispatches
// into. One instance serves all routes.
type Handler struct {
	store     *store.Store
	analyzer  *analysis.Analyzer
	fixes     *fix.Engine
	testcases *testcase.Generator
	streams   *stream.Coordinator
	extractor extract.Extractor
	metrics   *observability.Metrics
	log       *logging.Logger
	tracer    trace.Tracer
	heartbeat time.Duration
}

// New wires a Handler. metrics and logger may be nil; heartbeat is the
// SSE keepalive interval and defaults to 15s when non-positive.
func New(
	s *store.Store,
	analyzer *analysis.Analyzer,
	fixes *fix.Engine,
	testcases *testcase.Generator,
	streams *stream.Coordinator,
	extractor extract.Extractor,
	metrics *observability.Metrics,
	logger *logging.Logger,
	heartbeat time.Duration,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handler{
		store:     s,
		analyzer:  analyzer,
		fixes:     fixes,
		testcases: testcases,
		streams:   streams,
		extractor: extractor,
		metrics:   metrics,
		log:       logger,
		tracer:    otel.Tracer("reqpipeline/handlers"),
		heartbeat: heartbeat,
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
