// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/stream"
)

// AnalyzeDocument handles POST /v1/documents/:id/analyze. The call blocks
// until the analysis commits; clients wanting progress use the stream
// variant.
func (h *Handler) AnalyzeDocument(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "AnalyzeDocument")
	defer span.End()

	version, err := h.analyzer.Analyze(ctx, c.Param("id"), nil)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "anomalies": version.Anomalies})
}

// AnalyzeDocumentStream handles POST /v1/documents/:id/analyze/stream.
// Progress is delivered as SSE events; the analysis itself runs detached
// from the connection, so a client that disconnects mid-stream still gets
// its version committed.
func (h *Handler) AnalyzeDocumentStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "AnalyzeDocumentStream")
	defer span.End()

	documentID := c.Param("id")

	// Validate before committing to the SSE content type so bad requests
	// still get a JSON status response.
	if _, err := h.store.GetDocument(ctx, documentID); err != nil {
		h.writeError(c, err)
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	st := h.streams.Run(ctx, func(opCtx context.Context, emit func(datatypes.StreamEvent)) (*datatypes.Version, error) {
		return h.analyzer.Analyze(opCtx, documentID, emit)
	})
	h.serveStream(ctx, writer, st)
}

// serveStream pumps a stream's events to the SSE writer with periodic
// keepalives. A client disconnect detaches the consumer; the underlying
// operation keeps running.
func (h *Handler) serveStream(ctx context.Context, writer SSEWriter, st *stream.Stream) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.metrics.RecordDisconnect()
			st.Close()
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.metrics.RecordDisconnect()
				st.Close()
				return
			}
			h.metrics.RecordKeepAlive()
		case ev, ok := <-st.Events():
			if !ok {
				return
			}
			if err := writer.WriteEvent(ev); err != nil {
				h.metrics.RecordDisconnect()
				st.Close()
				return
			}
		}
	}
}
