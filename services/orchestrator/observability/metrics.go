// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// answer pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring ask processing.
// Metrics include:
//   - Ask counters and duration histograms (by status and model)
//   - Stream delta counters (by model)
//   - Retrieval match-count histograms (by knowledge base)
//   - Error counters (by stage and kind)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "bicqa"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// Metrics holds all Prometheus metrics for ask processing.
//
// # Fields
//
//   - AsksTotal: Counter of asks by terminal status and model
//   - AskDurationSeconds: Histogram of end-to-end ask duration
//   - StreamDeltasTotal: Counter of committed stream deltas by model
//   - RetrievalMatches: Histogram of match counts per knowledge base
//   - ErrorsTotal: Counter of classified errors by stage and kind
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// AsksTotal counts finished asks.
	// Labels: status (complete, no_match, cancelled, failed), model
	AsksTotal *prometheus.CounterVec

	// AskDurationSeconds measures end-to-end ask duration.
	// Labels: status, model
	AskDurationSeconds *prometheus.HistogramVec

	// StreamDeltasTotal counts stream deltas committed to turns.
	// Labels: model
	StreamDeltasTotal *prometheus.CounterVec

	// TimeToFirstDeltaSeconds measures latency until the first committed
	// delta of a streaming ask.
	// Labels: model
	TimeToFirstDeltaSeconds *prometheus.HistogramVec

	// ActiveStreams tracks streaming asks currently in flight.
	ActiveStreams prometheus.Gauge

	// RetrievalMatches measures match counts per retrieval.
	// Labels: knowledge_base
	RetrievalMatches *prometheus.HistogramVec

	// ErrorsTotal counts classified errors.
	// Labels: stage (knowledge, model), kind
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		AsksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "asks_total",
				Help:      "Total finished asks by terminal status and model",
			},
			[]string{"status", "model"},
		),

		AskDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "ask_duration_seconds",
				Help:      "End-to-end ask duration in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status", "model"},
		),

		StreamDeltasTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_deltas_total",
				Help:      "Total stream deltas committed to turns by model",
			},
			[]string{"model"},
		),

		TimeToFirstDeltaSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Latency until the first committed delta of a streaming ask",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"model"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Streaming asks currently in flight",
			},
		),

		RetrievalMatches: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retrieval_matches",
				Help:      "Knowledge retrieval match counts per query",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			},
			[]string{"knowledge_base"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "errors_total",
				Help:      "Total classified errors by stage and kind",
			},
			[]string{"stage", "kind"},
		),
	}
	return DefaultMetrics
}

// ObserveAsk records a finished ask.
func (m *Metrics) ObserveAsk(status, model string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AsksTotal.WithLabelValues(status, model).Inc()
	m.AskDurationSeconds.WithLabelValues(status, model).Observe(duration.Seconds())
}

// CountStreamDelta records one committed stream delta.
func (m *Metrics) CountStreamDelta(model string) {
	if m == nil {
		return
	}
	m.StreamDeltasTotal.WithLabelValues(model).Inc()
}

// ObserveFirstDelta records the latency until a stream's first delta.
func (m *Metrics) ObserveFirstDelta(model string, latency time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstDeltaSeconds.WithLabelValues(model).Observe(latency.Seconds())
}

// StreamStarted marks a streaming ask as in flight.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded marks a streaming ask as finished.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// ObserveRetrieval records a retrieval's match count.
func (m *Metrics) ObserveRetrieval(knowledgeBase string, matchCount int) {
	if m == nil {
		return
	}
	m.RetrievalMatches.WithLabelValues(knowledgeBase).Observe(float64(matchCount))
}

// CountError records one classified error.
func (m *Metrics) CountError(stage, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage, kind).Inc()
}
