package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the segmentation session
// server.
type Metrics struct {
	registry                 *prometheus.Registry
	requestsTotal            prometheus.Counter
	sessionsCreatedTotal     prometheus.Counter
	promptsTotal             *prometheus.CounterVec
	propagationsStartedTotal prometheus.Counter
	propagationFramesTotal   prometheus.Counter
	activeSession            prometheus.Gauge
	errorsTotal              prometheus.Counter
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videoseg_requests_total",
		Help: "Total number of HTTP requests received",
	})
	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videoseg_sessions_created_total",
		Help: "Total number of sessions created from uploads",
	})
	promptsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videoseg_prompts_total",
		Help: "Total number of prompt requests processed, by kind",
	}, []string{"kind"})
	propagationsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videoseg_propagations_started_total",
		Help: "Total number of propagation attempts started",
	})
	propagationFramesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videoseg_propagation_frames_total",
		Help: "Total number of propagation frame messages sent",
	})
	activeSession := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videoseg_active_session",
		Help: "Whether a session is currently active (0 or 1)",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videoseg_errors_total",
		Help: "Total number of error responses and error stream messages",
	})

	registry.MustRegister(
		requestsTotal,
		sessionsCreatedTotal,
		promptsTotal,
		propagationsStartedTotal,
		propagationFramesTotal,
		activeSession,
		errorsTotal,
	)

	return &Metrics{
		registry:                 registry,
		requestsTotal:            requestsTotal,
		sessionsCreatedTotal:     sessionsCreatedTotal,
		promptsTotal:             promptsTotal,
		propagationsStartedTotal: propagationsStartedTotal,
		propagationFramesTotal:   propagationFramesTotal,
		activeSession:            activeSession,
		errorsTotal:              errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreatedTotal.Inc()
}

// IncPrompts increments the prompt counter for kind ("text" or "clicks").
func (m *Metrics) IncPrompts(kind string) {
	m.promptsTotal.WithLabelValues(kind).Inc()
}

// IncPropagationsStarted increments the propagation attempt counter.
func (m *Metrics) IncPropagationsStarted() {
	m.propagationsStartedTotal.Inc()
}

// IncPropagationFrames increments the propagation frame message counter.
func (m *Metrics) IncPropagationFrames() {
	m.propagationFramesTotal.Inc()
}

// SetActiveSession sets the active session gauge.
func (m *Metrics) SetActiveSession(active bool) {
	if active {
		m.activeSession.Set(1)
	} else {
		m.activeSession.Set(0)
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// whether a session is active).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
