// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover:
//   - Requests by route and status, with latency
//   - Error responses by exception kind, and whether they were signed
//   - Execution gate occupancy, queue depth, wait and hold time
//   - Engine calls by operation and outcome
//   - Encoder fallbacks (values serialized by reflection or display string)
//
// # Integration
//
// Metrics are exposed via the /metrics route. Every method is nil-safe so
// that components constructed without metrics (tests) need no stubs.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "semagate"

const (
	httpSubsystem   = "http"
	gateSubsystem   = "gate"
	engineSubsystem = "engine"
)

// Metrics holds all Prometheus metrics for the gateway.
//
// # Description
//
// Initialize once at startup via NewMetrics. Tests pass their own
// prometheus.NewRegistry() to avoid duplicate registration.
type Metrics struct {
	// RequestsTotal counts handled requests.
	// Labels: route, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency including gate wait.
	// Labels: route
	RequestDurationSeconds *prometheus.HistogramVec

	// ErrorResponsesTotal counts error responses by exception kind.
	// Labels: exception, signed (true, false)
	ErrorResponsesTotal *prometheus.CounterVec

	// GateHolders is 1 while an engine call holds the gate, else 0.
	GateHolders prometheus.Gauge

	// GateWaiters is the number of requests queued on the gate.
	GateWaiters prometheus.Gauge

	// GateWaitSeconds measures time from Acquire to grant.
	GateWaitSeconds prometheus.Histogram

	// GateHoldSeconds measures time from grant to release.
	GateHoldSeconds prometheus.Histogram

	// GateAbandonedTotal counts waiters whose context ended before grant.
	GateAbandonedTotal prometheus.Counter

	// EngineCallsTotal counts engine calls.
	// Labels: operation, status (success, error)
	EngineCallsTotal *prometheus.CounterVec

	// EncoderFallbacksTotal counts values the JSON encoder could not
	// serialize natively.
	// Labels: kind (reflect, display)
	EncoderFallbacksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics.
//
// # Inputs
//
//   - reg: Registerer to use. Nil selects prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *Metrics: The initialized metrics.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by route and status",
			},
			[]string{"route", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, gate wait included",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		ErrorResponsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "error_responses_total",
				Help:      "Total error responses by exception kind and signature presence",
			},
			[]string{"exception", "signed"},
		),

		GateHolders: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "holders",
				Help:      "Number of callers holding the execution gate (0 or 1)",
			},
		),

		GateWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "waiters",
				Help:      "Number of callers waiting for the execution gate",
			},
		),

		GateWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "wait_seconds",
				Help:      "Time spent waiting for the execution gate",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		GateHoldSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "hold_seconds",
				Help:      "Time the execution gate was held per call",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		GateAbandonedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "abandoned_total",
				Help:      "Total waiters that gave up before acquiring the gate",
			},
		),

		EngineCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "calls_total",
				Help:      "Total engine calls by operation and status",
			},
			[]string{"operation", "status"},
		),

		EncoderFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "encoder_fallbacks_total",
				Help:      "Total values serialized through an encoder fallback",
			},
			[]string{"kind"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(route string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, statusLabel(success)).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}

// RecordErrorResponse records an error response.
func (m *Metrics) RecordErrorResponse(exception string, signed bool) {
	if m == nil {
		return
	}
	s := "false"
	if signed {
		s = "true"
	}
	m.ErrorResponsesTotal.WithLabelValues(exception, s).Inc()
}

// GateWaitStarted increments the waiters gauge.
func (m *Metrics) GateWaitStarted() {
	if m == nil {
		return
	}
	m.GateWaiters.Inc()
}

// GateWaitEnded decrements the waiters gauge and records the outcome.
//
// # Inputs
//
//   - seconds: Time spent waiting.
//   - acquired: False if the waiter gave up.
func (m *Metrics) GateWaitEnded(seconds float64, acquired bool) {
	if m == nil {
		return
	}
	m.GateWaiters.Dec()
	if !acquired {
		m.GateAbandonedTotal.Inc()
		return
	}
	m.GateWaitSeconds.Observe(seconds)
	m.GateHolders.Inc()
}

// GateReleased decrements the holders gauge and records the hold time.
func (m *Metrics) GateReleased(seconds float64) {
	if m == nil {
		return
	}
	m.GateHolders.Dec()
	m.GateHoldSeconds.Observe(seconds)
}

// RecordEngineCall records an engine call outcome.
func (m *Metrics) RecordEngineCall(operation string, success bool) {
	if m == nil {
		return
	}
	m.EngineCallsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordEncoderFallback records a value serialized by a fallback path.
func (m *Metrics) RecordEncoderFallback(kind string) {
	if m == nil {
		return
	}
	m.EncoderFallbacksTotal.WithLabelValues(kind).Inc()
}
