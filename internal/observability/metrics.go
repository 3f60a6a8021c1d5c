package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatTurns       *prometheus.CounterVec
	SynthRequests   *prometheus.CounterVec
	CacheEvents     *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	ActiveSyntheses prometheus.Gauge
	SynthLatency    *prometheus.HistogramVec

	pipeline *pipelineWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		SynthRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_requests_total",
			Help:      "Speech synthesis requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_events_total",
			Help:      "Audio cache lookups by result.",
		}, []string{"result"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence errors by operation.",
		}, []string{"op"}),
		ActiveSyntheses: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_syntheses",
			Help:      "Number of synthesis jobs currently running.",
		}),
		SynthLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_latency_seconds",
			Help:      "Speech synthesis latency by backend in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"backend"}),
		pipeline: newPipelineWindow(256),
	}
}

func (m *Metrics) ObserveSynthLatency(backend string, d time.Duration) {
	m.SynthLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// ObservePipelineStage records a stage latency into the rolling window that
// backs the perf endpoint. Safe to call on a nil receiver.
func (m *Metrics) ObservePipelineStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipeline.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.pipeline.ObserveIndicator(name)
}

func (m *Metrics) SnapshotPipeline() PipelineSnapshot {
	return m.pipeline.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
