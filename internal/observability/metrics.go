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
	Requests       *prometheus.CounterVec
	SafetyVerdicts *prometheus.CounterVec
	EngineLatency  *prometheus.HistogramVec
	EngineFailures *prometheus.CounterVec
	MemoryErrors   *prometheus.CounterVec
	TrainingWrites *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline requests by outcome.",
		}, []string{"outcome"}),
		SafetyVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_verdicts_total",
			Help:      "Rule engine verdicts by type.",
		}, []string{"verdict"}),
		EngineLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_ms",
			Help:      "Reasoning pass latency in milliseconds, per engine.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}, []string{"engine"}),
		EngineFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_failures_total",
			Help:      "Engine timeouts and internal failures, per engine.",
		}, []string{"engine"}),
		MemoryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_errors_total",
			Help:      "Context store failures absorbed by the memory manager.",
		}, []string{"op"}),
		TrainingWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_writes_total",
			Help:      "Training corpus append attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveEngineLatency(engine string, d time.Duration) {
	m.EngineLatency.WithLabelValues(engine).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
