// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package riskmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

const maxInvocationBody = 1 << 20

// Server exposes a model over the model-host inference contract.
//
// # Description
//
//   - GET /ping answers 200 once a model is loaded and 503 before.
//   - POST /invocations accepts text/csv rows ("10,5,2,3,1,0.7", one row
//     per line) or application/json {"features":[...]} where features is
//     a single vector or a list of vectors.
//   - With Accept: text/csv the first prediction is returned as text,
//     otherwise {"predictions":[...]}.
//
// # Thread Safety
//
// Safe for concurrent use. Load swaps the model atomically.
type Server struct {
	model  atomic.Pointer[Forest]
	logger *slog.Logger
}

// NewServer creates a server. model may be nil until Load is called.
func NewServer(model *Forest, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger}
	if model != nil {
		s.model.Store(model)
	}
	return s
}

// Load replaces the served model.
func (s *Server) Load(model *Forest) { s.model.Store(model) }

// Register mounts the inference routes on r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ping", s.ping)
	r.POST("/invocations", s.invocations)
}

// Handler returns a standalone gin engine serving the model.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

func (s *Server) ping(c *gin.Context) {
	if s.model.Load() == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) invocations(c *gin.Context) {
	model := s.model.Load()
	if model == nil {
		c.String(http.StatusServiceUnavailable, "model not loaded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInvocationBody))
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read body")
		return
	}

	var rows [][]float64
	switch c.ContentType() {
	case "text/csv":
		rows, err = ParseCSVRows(string(body))
	case "application/json":
		rows, err = parseJSONRows(body)
	default:
		c.String(http.StatusUnsupportedMediaType, "Unsupported content type: %s", c.ContentType())
		return
	}
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	preds, err := model.PredictBatch(rows)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if strings.Contains(c.GetHeader("Accept"), "text/csv") {
		c.String(http.StatusOK, strconv.FormatFloat(preds[0], 'f', -1, 64))
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds})
}

// ParseCSVRows parses one feature vector per non-empty line.
func ParseCSVRows(body string) ([][]float64, error) {
	var rows [][]float64
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		row := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid feature %q", p)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no features provided")
	}
	return rows, nil
}

func parseJSONRows(body []byte) ([][]float64, error) {
	var req struct {
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	var single []float64
	if err := json.Unmarshal(req.Features, &single); err == nil && len(single) > 0 {
		return [][]float64{single}, nil
	}
	var many [][]float64
	if err := json.Unmarshal(req.Features, &many); err == nil && len(many) > 0 {
		return many, nil
	}
	return nil, errors.New("features must be a vector or a list of vectors")
}
