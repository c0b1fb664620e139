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
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	TranscriptionRuns *prometheus.CounterVec
	ReasoningRuns     *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	SSESubscribers    prometheus.Gauge
	TTSHandles        *prometheus.CounterVec
	ReasoningCost     prometheus.Counter
	FirstAudioLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected writing sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		TranscriptionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_runs_total",
			Help:      "Transcription task outcomes by status.",
		}, []string{"status"}),
		ReasoningRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_runs_total",
			Help:      "Reasoning decisions by action and source.",
		}, []string{"action", "source"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and kind.",
		}, []string{"provider", "kind"}),
		SSESubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_subscribers",
			Help:      "Currently attached event stream subscribers.",
		}),
		TTSHandles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_handles_total",
			Help:      "Speech handle lifecycle events.",
		}, []string{"event"}),
		ReasoningCost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_cost_dollars_total",
			Help:      "Estimated cumulative LLM spend in dollars.",
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from voice question to first PCM byte in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2000, 3000, 5000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records one pipeline stage duration in the rolling window.
// Nil-safe so components wired without metrics stay quiet.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000.0)
}

func (m *Metrics) ObserveStageIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
