// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides the Prometheus metrics for ContractIQ.
//
// # Description
//
// One Metrics value implements the observer interfaces of the pipeline
// stages, the LLM clients, the scorer and the queue dispatcher, so a single
// instance wired at startup covers:
//   - Stage invocations and durations (by stage and outcome)
//   - LLM calls (by provider, model and status)
//   - Scoring fallbacks (by reason)
//   - Queue depth, deliveries and redeliveries
//   - Sweeper redrives
//   - HTTP requests (by route and status)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "contractiq"

// Metrics holds every ContractIQ collector.
type Metrics struct {
	// StageInvocations counts stage calls.
	// Labels: stage (upload, extraction, ...), outcome (ok, rejected, error)
	StageInvocations *prometheus.CounterVec

	// StageDuration measures stage latency.
	// Labels: stage
	StageDuration *prometheus.HistogramVec

	// LLMCalls counts model calls.
	// Labels: provider, model, status (success, error)
	LLMCalls *prometheus.CounterVec

	// LLMDuration measures model call latency.
	// Labels: provider
	LLMDuration *prometheus.HistogramVec

	// ScoringFallbacks counts scores computed by the linear fallback.
	// Labels: reason (endpoint_error, disabled)
	ScoringFallbacks *prometheus.CounterVec

	// QueueDepth is the last sampled queue length.
	// Labels: queue
	QueueDepth *prometheus.GaugeVec

	// QueueDeliveries counts handled messages.
	// Labels: queue, outcome (ack, retry, dead_letter)
	QueueDeliveries *prometheus.CounterVec

	// QueueRedeliveries counts deliveries past the first attempt.
	// Labels: queue
	QueueRedeliveries *prometheus.CounterVec

	// Redrives counts contracts re-queued by the sweeper.
	// Labels: status (the stuck status)
	Redrives *prometheus.CounterVec

	// HTTPRequests counts API requests.
	// Labels: method, route, code
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all collectors on reg. A nil reg uses the
// Prometheus default registerer.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		StageInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stage",
			Name:      "invocations_total",
			Help:      "Pipeline stage invocations by stage and outcome",
		}, []string{"stage", "outcome"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),

		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Language model calls by provider, model and status",
		}, []string{"provider", "model", "status"}),

		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Language model call duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),

		ScoringFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scoring",
			Name:      "fallbacks_total",
			Help:      "Risk scores computed by the linear fallback",
		}, []string{"reason"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages waiting in each queue",
		}, []string{"queue"}),

		QueueDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "deliveries_total",
			Help:      "Queue deliveries by queue and outcome",
		}, []string{"queue", "outcome"}),

		QueueRedeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "redeliveries_total",
			Help:      "Queue deliveries past the first attempt",
		}, []string{"queue"}),

		Redrives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sweeper",
			Name:      "redrives_total",
			Help:      "Stuck contracts re-queued by the sweeper",
		}, []string{"status"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, route and status code",
		}, []string{"method", "route", "code"}),
	}
}

// =============================================================================
// Observer implementations
// =============================================================================

// ObserveStage records one pipeline stage invocation.
func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	m.StageInvocations.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveLLMCall records one model call.
func (m *Metrics) ObserveLLMCall(provider, model string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMCalls.WithLabelValues(provider, model, status).Inc()
	m.LLMDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveScoringFallback records a fallback score.
func (m *Metrics) ObserveScoringFallback(reason string) {
	m.ScoringFallbacks.WithLabelValues(reason).Inc()
}

// ObserveDelivery records one queue delivery.
func (m *Metrics) ObserveDelivery(queue, outcome string, attempt int, _ time.Duration) {
	m.QueueDeliveries.WithLabelValues(queue, outcome).Inc()
	if attempt > 1 {
		m.QueueRedeliveries.WithLabelValues(queue).Inc()
	}
}

// ObserveRedrive records a sweeper redrive of a contract stuck in status.
func (m *Metrics) ObserveRedrive(status string) {
	m.Redrives.WithLabelValues(status).Inc()
}

// SetQueueDepth records a sampled queue length.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// GinMiddleware counts requests by matched route. Unmatched paths are
// labeled "unmatched" to keep cardinality bounded.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
