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
	ActiveConversations prometheus.Gauge
	Turns               *prometheus.CounterVec
	StageLatency        *prometheus.HistogramVec
	ProviderErrors      *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ReloadEvents        *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations with a turn currently in flight.",
		}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by outcome.",
		}, []string{"outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency per orchestration stage in milliseconds.",
			Buckets:   []float64{10, 50, 100, 300, 700, 1500, 3000, 8000, 20000},
		}, []string{"stage"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by component and code.",
		}, []string{"component", "code"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ReloadEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reload_events_total",
			Help:      "Extension reload attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
