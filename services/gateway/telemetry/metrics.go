// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the gateway's prometheus metrics on a private
// registry, built once at startup and passed explicitly.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway metric set.
type Metrics struct {
	registry *prometheus.Registry

	// toolCalls counts tool invocations by tool name and outcome.
	toolCalls *prometheus.CounterVec

	// toolCallDuration tracks tool latency by tool name.
	toolCallDuration *prometheus.HistogramVec

	// sessions and sseStreams gauge the live session registry.
	sessions   prometheus.Gauge
	sseStreams prometheus.Gauge

	// jobs counts pipeline job transitions by kind and outcome.
	jobs *prometheus.CounterVec

	// transportErrors counts JSON-RPC transport failures by reason.
	transportErrors *prometheus.CounterVec
}

// New builds the metric set on a fresh private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashfox_tool_calls_total",
			Help: "Total tool calls by tool and outcome",
		}, []string{"tool", "ok"}),
		toolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ashfox_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"tool"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ashfox_mcp_sessions",
			Help: "Open MCP sessions",
		}),
		sseStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ashfox_sse_streams",
			Help: "Open SSE streams across all sessions",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashfox_pipeline_jobs_total",
			Help: "Pipeline job transitions by kind and outcome",
		}, []string{"kind", "outcome"}),
		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashfox_transport_errors_total",
			Help: "JSON-RPC transport errors by reason",
		}, []string{"reason"}),
	}
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, ok bool, seconds float64) {
	outcome := "false"
	if ok {
		outcome = "true"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(seconds)
}

// SetSessionCounts updates the session and stream gauges.
func (m *Metrics) SetSessionCounts(sessions, streams int) {
	m.sessions.Set(float64(sessions))
	m.sseStreams.Set(float64(streams))
}

// ObserveJob records a pipeline job transition.
func (m *Metrics) ObserveJob(kind, outcome string) {
	m.jobs.WithLabelValues(kind, outcome).Inc()
}

// ObserveTransportError records a JSON-RPC transport failure.
func (m *Metrics) ObserveTransportError(reason string) {
	m.transportErrors.WithLabelValues(reason).Inc()
}

// Handler serves the registry in prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
