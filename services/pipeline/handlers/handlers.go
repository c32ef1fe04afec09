// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers adapts the pipeline stages to gin.
//
// Every handler returns errors as {"error": msg} with the status chosen by
// pipeline.StatusCode. Internal failures are logged and answered with
// "Internal server error".
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ContractIQ/services/pipeline"
)

// respondError writes the client view of err.
func respondError(c *gin.Context, err error) {
	code := pipeline.StatusCode(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": pipeline.ClientMessage(err)})
}

// readBody reads the raw request body. A read failure is an invalid event.
func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		respondError(c, errors.Join(pipeline.ErrInvalidEvent, err))
		return nil, false
	}
	return raw, true
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
