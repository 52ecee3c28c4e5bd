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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/extract"
)

// writeError maps the pipeline error taxonomy to HTTP statuses. Internal
// and backend failures are logged with detail but answered with a
// sanitized message.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation  *datatypes.ValidationError
		notFound    *datatypes.NotFoundError
		conflict    *datatypes.ConflictError
		external    *datatypes.ExternalServiceError
		unsupported *extract.UnsupportedFormatError
		extraction  *extract.ExtractionError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": unsupported.Error()})
	case errors.As(err, &extraction):
		c.JSON(http.StatusBadRequest, gin.H{"error": extraction.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &external):
		h.log.Error("backend failure", "op", external.Op, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "model backend unavailable"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
