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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/middleware"
)

// UploadContract handles POST /v1/contracts/upload.
//
// The body is {"file_content": <base64>, "filename": <name>}. The caller's
// user id comes from the auth middleware.
func UploadContract(u *pipeline.Uploader, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pipeline.UploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("invalid upload body", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user := middleware.UserID(c)
		res, err := u.Upload(c.Request.Context(), user, req)
		event := extensions.AuditEvent{
			EventType:    "contract.upload",
			UserID:       user,
			ResourceType: "contract",
			Outcome:      "success",
		}
		if err != nil {
			event.Outcome = "failure"
			event.Metadata = map[string]any{"status": pipeline.StatusCode(err)}
			logAudit(c, audit, event)
			respondError(c, err)
			return
		}
		event.ResourceID = res.ContractID
		logAudit(c, audit, event)
		c.JSON(http.StatusOK, res)
	}
}

// ListContracts handles GET /v1/contracts.
func ListContracts(q *pipeline.Query) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := q.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetContract handles GET /v1/contracts/:id.
func GetContract(q *pipeline.Query, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		detail, err := q.Detail(c.Request.Context(), id)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		logAudit(c, audit, extensions.AuditEvent{
			EventType:    "contract.read",
			UserID:       middleware.UserID(c),
			ResourceType: "contract",
			ResourceID:   id,
			Outcome:      outcome,
		})
		if errors.Is(err, pipeline.ErrMissingContractID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Contract ID required"})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func logAudit(c *gin.Context, audit extensions.AuditLogger, event extensions.AuditEvent) {
	if audit == nil {
		return
	}
	if err := audit.Log(c.Request.Context(), event); err != nil {
		slog.Warn("audit log failed", "event_type", event.EventType, "error", err)
	}
}
