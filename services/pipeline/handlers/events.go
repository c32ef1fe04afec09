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
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// The event endpoints accept the same payloads the serverless triggers
// deliver, so a stage can be driven over HTTP by a push subscription or by
// hand.

// HandleObjectCreated handles POST /v1/events/object-created with an
// EventBridge, storage notification or Pub/Sub push body.
func HandleObjectCreated(e *pipeline.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readBody(c)
		if !ok {
			return
		}
		res, err := e.HandleEvent(c.Request.Context(), raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleAnalysisBatch handles POST /v1/events/analysis with a
// {"Records":[{"body":...}]} batch. Records that failed transiently are
// listed under failed.
func HandleAnalysisBatch(a *pipeline.Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readBody(c)
		if !ok {
			return
		}
		var batch datatypes.Batch
		if err := json.Unmarshal(datatypes.StripBOM(raw), &batch); err != nil {
			respondError(c, pipeline.ErrInvalidEvent)
			return
		}
		res, err := a.HandleBatch(c.Request.Context(), batch)
		if err != nil {
			respondError(c, err)
			return
		}
		body := gin.H{"message": res.Message}
		if len(res.Failed) > 0 {
			body["failed"] = res.Failed
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleScoring handles POST /v1/events/scoring.
func HandleScoring(r *pipeline.RiskScorer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readBody(c)
		if !ok {
			return
		}
		res, err := r.HandleEvent(c.Request.Context(), raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleNotify handles POST /v1/events/notify.
func HandleNotify(n *pipeline.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readBody(c)
		if !ok {
			return
		}
		res, err := n.HandleEvent(c.Request.Context(), raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
