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

// GenerateTestcases handles POST /v1/documents/:id/testcases. The :id is
// the source BRD/FRD document; the generated set lands on its linked
// TESTCASES chain.
func (h *Handler) GenerateTestcases(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "GenerateTestcases")
	defer span.End()

	version, set, err := h.testcases.Generate(ctx, c.Param("id"), nil)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "testcases": set.Cases})
}

// GetTestcases handles GET /v1/documents/:id/testcases and returns the
// head of the source document's TESTCASES chain.
func (h *Handler) GetTestcases(c *gin.Context) {
	ctx := c.Request.Context()

	tcDoc, err := h.store.FindTestcaseDocument(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	head, err := h.store.Head(ctx, tcDoc.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	set, err := h.testcases.Set(ctx, head)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": tcDoc, "version": head, "testcases": set.Cases})
}

type chatTestcasesRequest struct {
	Message string `json:"message" binding:"required"`

	// Commit false previews the revised set without writing a version.
	Commit bool `json:"commit"`
}

// ChatTestcases handles POST /v1/documents/:id/testcases/chat.
func (h *Handler) ChatTestcases(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ChatTestcases")
	defer span.End()

	var req chatTestcasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, set, err := h.testcases.ChatUpdate(ctx, c.Param("id"), req.Message, req.Commit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"testcases": set.Cases, "committed": version != nil}
	if version != nil {
		resp["version"] = version
	}
	c.JSON(http.StatusOK, resp)
}

// RevertTestcases handles POST /v1/documents/:id/testcases/revert.
func (h *Handler) RevertTestcases(c *gin.Context) {
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, err := h.testcases.Revert(c.Request.Context(), c.Param("id"), req.ToSeq)
	if err != nil {
		h.writeError(c, err)
		return
	}

	set, err := h.testcases.Set(c.Request.Context(), version)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "testcases": set.Cases})
}
