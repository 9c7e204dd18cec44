package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Every
// Observe method is safe on a nil receiver.
type Metrics struct {
	QueueDepth          prometheus.Gauge
	QueueJobs           *prometheus.CounterVec
	QueueRejections     prometheus.Counter
	PermissionDecisions *prometheus.CounterVec
	PermissionWait      prometheus.Histogram
	PendingPermissions  prometheus.Gauge
	GateTransitions     *prometheus.CounterVec
	TrackedSessions     prometheus.Gauge
	ConsoleClients      prometheus.Gauge
	HookRequests        *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Turns waiting in the execution queue, excluding the running one.",
		}),
		QueueJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome"}),
		QueueRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Turns rejected because the queue was full.",
		}),
		PermissionDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Authorization decisions by decision and source.",
		}, []string{"decision", "source"}),
		PermissionWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "permission_wait_seconds",
			Help:      "Time an authorization request spent pending.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PendingPermissions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_permissions",
			Help:      "Authorization requests awaiting a decision.",
		}),
		GateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_transitions_total",
			Help:      "Gate transitions by resulting state and reason.",
		}, []string{"state", "reason"}),
		TrackedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_sessions",
			Help:      "Sessions known to the registry.",
		}),
		ConsoleClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "console_clients",
			Help:      "Connected operator console clients.",
		}),
		HookRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_requests_total",
			Help:      "Hook endpoint requests by route and result.",
		}, []string{"route", "result"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(outcome).Inc()
	m.window.Observe("turn_total", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRejection() {
	if m == nil {
		return
	}
	m.QueueRejections.Inc()
}

func (m *Metrics) ObservePermission(decision, source string, wait time.Duration) {
	if m == nil {
		return
	}
	m.PermissionDecisions.WithLabelValues(decision, source).Inc()
	if source == "fast_path" {
		m.window.ObserveIndicator("fast_path")
		return
	}
	m.PermissionWait.Observe(wait.Seconds())
	m.window.Observe("permission_wait", float64(wait.Milliseconds()))
}

func (m *Metrics) SetPendingPermissions(n int) {
	if m == nil {
		return
	}
	m.PendingPermissions.Set(float64(n))
}

func (m *Metrics) ObserveGate(state, reason string) {
	if m == nil {
		return
	}
	m.GateTransitions.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) SetTrackedSessions(n int) {
	if m == nil {
		return
	}
	m.TrackedSessions.Set(float64(n))
}

func (m *Metrics) SetConsoleClients(n int) {
	if m == nil {
		return
	}
	m.ConsoleClients.Set(float64(n))
}

func (m *Metrics) ObserveHook(route, result string) {
	if m == nil {
		return
	}
	m.HookRequests.WithLabelValues(route, result).Inc()
}

// Latency returns rolling turn and permission-wait statistics.
func (m *Metrics) Latency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
