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
	LostUpdates       prometheus.Counter
	SignalConnections prometheus.Gauge
	SignalMessages    *prometheus.CounterVec
	SignalDrops       *prometheus.CounterVec
	StoreLatency      *prometheus.HistogramVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active collaborative sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		LostUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_lost_updates_total",
			Help:      "Code writes that overwrote a newer version than the writer had seen.",
		}),
		SignalConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_connections",
			Help:      "Open signaling relay connections.",
		}),
		SignalMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_messages_total",
			Help:      "Signaling messages by direction and type.",
		}, []string{"direction", "type"}),
		SignalDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_drops_total",
			Help:      "Signaling messages dropped by reason.",
		}, []string{"reason"}),
		StoreLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_latency_ms",
			Help:      "Session store operation latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"op"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSignal(direction, msgType string) {
	if m == nil {
		return
	}
	m.SignalMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveLostUpdate() {
	if m == nil {
		return
	}
	m.LostUpdates.Inc()
	m.window.ObserveIndicator("lost_update")
}

func (m *Metrics) AddSignalConnections(delta int) {
	if m == nil {
		return
	}
	m.SignalConnections.Add(float64(delta))
}

func (m *Metrics) ObserveSignalDrop(reason string) {
	if m == nil {
		return
	}
	m.SignalDrops.WithLabelValues(reason).Inc()
	m.window.ObserveIndicator("signal_drop_" + reason)
}

func (m *Metrics) ObserveStoreOp(op string, ms float64) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(op).Observe(ms)
	m.window.Observe(op, ms)
}

// SnapshotStoreLatency summarizes recent store operation latencies.
func (m *Metrics) SnapshotStoreLatency() LatencySnapshot {
	if m == nil || m.window == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Ops: []OpStats{}}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
