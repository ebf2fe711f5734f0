// Copyright 2025 The Lumen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes process metrics for the query and
// ingestion paths. All recorders are nil-safe so callers never guard.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of instruments the engine reports into.
type Metrics struct {
	searchDuration *prometheus.HistogramVec
	searchTotal    *prometheus.CounterVec

	llmDuration prometheus.Histogram
	llmErrors   prometheus.Counter

	ingestFiles   *prometheus.CounterVec
	watcherEvents prometheus.Counter
	queueDepth    prometheus.Gauge
	breakerOpens  *prometheus.CounterVec
}

// NewMetrics registers the instrument set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lumen_search_duration_seconds",
			Help:    "End-to-end query processing duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"intent"}),
		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_search_total",
			Help: "Processed queries by intent and outcome.",
		}, []string{"intent", "status"}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lumen_llm_request_duration_seconds",
			Help:    "Model call duration.",
			Buckets: prometheus.DefBuckets,
		}),
		llmErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lumen_llm_errors_total",
			Help: "Failed model calls.",
		}),
		ingestFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_ingest_files_total",
			Help: "Ingested files by outcome.",
		}, []string{"status"}),
		watcherEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "lumen_watcher_events_total",
			Help: "Filesystem events handled by the watcher.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_ingest_queue_depth",
			Help: "Upserts waiting in the durable retry queue.",
		}),
		breakerOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_breaker_opens_total",
			Help: "Circuit breaker transitions to open, per port.",
		}, []string{"port"}),
	}
}

func (m *Metrics) RecordSearch(intent string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchDuration.WithLabelValues(intent).Observe(duration.Seconds())
	m.searchTotal.WithLabelValues(intent, status).Inc()
}

func (m *Metrics) RecordLLMCall(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmDuration.Observe(duration.Seconds())
	if err != nil {
		m.llmErrors.Inc()
	}
}

func (m *Metrics) RecordIngestFile(status string) {
	if m == nil {
		return
	}
	m.ingestFiles.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordWatcherEvent() {
	if m == nil {
		return
	}
	m.watcherEvents.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordBreakerOpen(port string) {
	if m == nil {
		return
	}
	m.breakerOpens.WithLabelValues(port).Inc()
}
