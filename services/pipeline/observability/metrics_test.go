// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics registers on an isolated registry so tests can run in
// parallel without duplicate registration panics.
func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestNew_RegistersAllCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveStage("upload", "ok", time.Millisecond)
	m.ObserveLLMCall("anthropic", "claude", time.Second, nil)
	m.ObserveScoringFallback("disabled")
	m.SetQueueDepth("analysis", 3)
	m.ObserveDelivery("analysis", "ack", 1, 0)
	m.ObserveRedrive("uploaded")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"contractiq_stage_invocations_total",
		"contractiq_stage_duration_seconds",
		"contractiq_llm_calls_total",
		"contractiq_llm_call_duration_seconds",
		"contractiq_scoring_fallbacks_total",
		"contractiq_queue_depth",
		"contractiq_queue_deliveries_total",
		"contractiq_sweeper_redrives_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestObserveStage(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveStage("scoring", "ok", 50*time.Millisecond)
	m.ObserveStage("scoring", "ok", 70*time.Millisecond)
	m.ObserveStage("scoring", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageInvocations.WithLabelValues("scoring", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageInvocations.WithLabelValues("scoring", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestObserveLLMCall_Status(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveLLMCall("openai", "gpt-4o", time.Second, nil)
	m.ObserveLLMCall("openai", "gpt-4o", time.Second, errors.New("429"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("openai", "gpt-4o", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("openai", "gpt-4o", "error")))
}

func TestObserveDelivery_Redeliveries(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveDelivery("scoring", "retry", 1, 0)
	m.ObserveDelivery("scoring", "ack", 2, 0)
	m.ObserveDelivery("scoring", "dead_letter", 3, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueRedeliveries.WithLabelValues("scoring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDeliveries.WithLabelValues("scoring", "dead_letter")))
}

func TestQueueDepthGauge(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetQueueDepth("extraction", 7)
	m.SetQueueDepth("extraction", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("extraction")))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newTestMetrics(t)
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/v1/contracts/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/v1/contracts/a", "/v1/contracts/b", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/contracts/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
}
