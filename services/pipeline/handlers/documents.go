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
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/store"
)

type createDocumentRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	Kind      string `json:"kind" binding:"required"`

	// Filename selects the extractor by extension; empty means plain text.
	Filename string `json:"filename"`
	Content  string `json:"content" binding:"required"`
}

// CreateDocument handles POST /v1/documents. The upload is normalized to
// text, the document record is created, and the extracted text becomes
// version 1 of the chain.
func (h *Handler) CreateDocument(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "CreateDocument")
	defer span.End()

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	kind := datatypes.DocumentKind(req.Kind)
	if kind != datatypes.KindBRD && kind != datatypes.KindFRD {
		h.writeError(c, datatypes.Validationf("kind must be %s or %s", datatypes.KindBRD, datatypes.KindFRD))
		return
	}

	text, err := h.extractor.ExtractText([]byte(req.Content), filepath.Ext(req.Filename))
	if err != nil {
		h.writeError(c, err)
		return
	}

	doc, err := h.store.CreateDocument(ctx, req.ProjectID, kind, store.CreateDocumentOptions{})
	if err != nil {
		h.writeError(c, err)
		return
	}
	version, err := h.store.AppendVersion(ctx, doc.ID, "", []byte(text), datatypes.StatusDraft, nil)
	if err != nil {
		h.writeError(c, err)
		return
	}
	doc.HeadSeq = version.Seq
	doc.HeadID = version.ID

	h.log.Info("document created",
		"document_id", doc.ID, "project_id", doc.ProjectID, "kind", string(doc.Kind))
	c.JSON(http.StatusCreated, gin.H{"document": doc, "version": version})
}

// GetDocument handles GET /v1/documents/:id.
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.store.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListVersions handles GET /v1/documents/:id/versions.
func (h *Handler) ListVersions(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	chain, err := h.store.Chain(ctx, doc.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "versions": chain})
}

// GetVersion handles GET /v1/documents/:id/versions/:seq and returns the
// version record together with its content.
func (h *Handler) GetVersion(c *gin.Context) {
	ctx := c.Request.Context()
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		h.writeError(c, datatypes.Validationf("seq must be an integer"))
		return
	}

	version, err := h.store.Version(ctx, c.Param("id"), seq)
	if err != nil {
		h.writeError(c, err)
		return
	}
	content, err := h.store.Content(ctx, version)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "content": string(content)})
}

type revertRequest struct {
	ToSeq int `json:"to_seq" binding:"required"`
}

// RevertDocument handles POST /v1/documents/:id/revert. The rollback is
// itself an append, so the chain stays forward-only.
func (h *Handler) RevertDocument(c *gin.Context) {
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, err := h.store.Revert(c.Request.Context(), c.Param("id"), req.ToSeq)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Info("document reverted",
		"document_id", c.Param("id"), "to_seq", req.ToSeq, "version_id", version.ID)
	c.JSON(http.StatusOK, gin.H{"version": version})
}
