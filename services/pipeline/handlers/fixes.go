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
	"net/http"

	"github.com/gin-gonic/gin"
)

type proposeFixRequest struct {
	VersionID  string `json:"version_id" binding:"required"`
	AnomalyIDs []int  `json:"anomaly_ids" binding:"required"`
}

// ProposeFix handles POST /v1/fixes/propose. The proposal holds generated
// replacement content; nothing touches the version chain until apply.
func (h *Handler) ProposeFix(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ProposeFix")
	defer span.End()

	var req proposeFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	proposal, err := h.fixes.Propose(ctx, req.VersionID, req.AnomalyIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

// GetProposal handles GET /v1/fixes/:id.
func (h *Handler) GetProposal(c *gin.Context) {
	proposal, err := h.store.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// ApplyFix handles POST /v1/fixes/:id/apply. A head that moved since the
// proposal was raised answers 409; the client re-analyzes and proposes
// again.
func (h *Handler) ApplyFix(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ApplyFix")
	defer span.End()

	version, err := h.fixes.Apply(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

// DiscardFix handles POST /v1/fixes/:id/discard.
func (h *Handler) DiscardFix(c *gin.Context) {
	if err := h.fixes.Discard(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "discarded"})
}
