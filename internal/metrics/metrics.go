// Package metrics exposes Prometheus instrumentation for the turn pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	StagesTotal       *prometheus.CounterVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	RetrievedDocs     prometheus.Histogram
	CompactionsTotal  prometheus.Counter
	IngestQueueLength prometheus.Gauge
}

// New creates the collectors and registers them with the given registerer.
// Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "turns_total",
			Help:      "Processed turns by outcome (answered, tool, direct, error).",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragflow",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn processing time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "stages_total",
			Help:      "Stage executions by stage name.",
		}, []string{"stage"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragflow",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution time by tool.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"tool"}),
		RetrievedDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragflow",
			Name:      "retrieved_docs",
			Help:      "Evidence documents per retrieval batch after dedup.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragflow",
			Name:      "memory_compactions_total",
			Help:      "Conversation memory compactions performed.",
		}),
		IngestQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragflow",
			Name:      "ingest_queue_length",
			Help:      "Documents waiting in the ingestion queue.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.StagesTotal,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.RetrievedDocs,
		m.CompactionsTotal,
		m.IngestQueueLength,
	)
	return m
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

// ObserveStage records a stage execution.
func (m *Metrics) ObserveStage(stage string) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(stage).Inc()
}

// ObserveToolCall records a tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveCompaction records a conversation memory compaction.
func (m *Metrics) ObserveCompaction() {
	if m == nil {
		return
	}
	m.CompactionsTotal.Inc()
}

// ObserveRetrieval records the size of a deduplicated evidence batch.
func (m *Metrics) ObserveRetrieval(docs int) {
	if m == nil {
		return
	}
	m.RetrievedDocs.Observe(float64(docs))
}
