// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the document
// pipeline.
//
// # Description
//
// Metrics cover the pipeline's three long-running stages (analysis, fix
// generation, testcase generation) plus the streaming delivery layer:
//   - Operation counters by operation and outcome
//   - Chunk map-step counters by outcome
//   - Stage duration histograms
//   - Active stream gauge, dropped-event and disconnect counters
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is nil-safe so tests can pass a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "reqpipeline"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// Metrics holds all Prometheus metrics for pipeline operations.
// Initialize once at startup via InitMetrics().
type Metrics struct {
	// OperationsTotal counts pipeline operations by operation and status.
	// Labels: operation (analyze, propose_fix, apply_fix, testcases, chat),
	// status (success, partial, conflict, error)
	OperationsTotal *prometheus.CounterVec

	// ChunksTotal counts chunk map steps by outcome.
	// Labels: outcome (ok, failed)
	ChunksTotal *prometheus.CounterVec

	// StageDurationSeconds measures wall time per pipeline stage.
	// Labels: stage (chunk, map, reduce, commit)
	StageDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming operations.
	ActiveStreams prometheus.Gauge

	// EventsDroppedTotal counts stream events dropped because the
	// consumer stopped reading.
	EventsDroppedTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections during
	// streaming delivery.
	ClientDisconnectsTotal prometheus.Counter

	// KeepAlivesTotal counts SSE heartbeat pings sent.
	KeepAlivesTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of Metrics.
// Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates and registers all pipeline metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "operations_total",
				Help:      "Total pipeline operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		ChunksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "chunks_total",
				Help:      "Total chunk map steps by outcome",
			},
			[]string{"outcome"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Wall time per pipeline stage",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming operations",
			},
		),

		EventsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "events_dropped_total",
				Help:      "Stream events dropped because the consumer stopped reading",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "keepalives_total",
				Help:      "Total SSE heartbeat pings sent",
			},
		),
	}
	return DefaultMetrics
}

// RecordOperation increments the operation counter.
func (m *Metrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordChunk increments the chunk counter for one map step.
func (m *Metrics) RecordChunk(outcome string) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// StreamStarted increments the active-stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamFinished decrements the active-stream gauge.
func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordDroppedEvent counts one dropped stream event.
func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}

// RecordDisconnect counts one client disconnect.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordKeepAlive counts one heartbeat ping.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}
