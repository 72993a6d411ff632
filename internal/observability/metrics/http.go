package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics collects the query-time observability surface: HTTP traffic,
// routed answers by kind, retrieval fan-out shape, LLM backend calls and the
// live session count.
type ServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askTotal            *prometheus.CounterVec
	askDuration         *prometheus.HistogramVec
	retrievedChunks     *prometheus.HistogramVec
	clarificationsTotal *prometheus.CounterVec
	llmCallsTotal       *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

func NewServerMetrics(service string) *ServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evalrag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "evalrag",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	askTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalrag",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total routed asks by terminal answer kind.",
		},
		[]string{"service", "kind"},
	)
	askDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evalrag",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "End-to-end ask duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evalrag",
			Subsystem: "retrieval",
			Name:      "passages",
			Help:      "Distribution of passages returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	clarificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalrag",
			Subsystem: "ask",
			Name:      "clarifications_total",
			Help:      "Total clarification questions asked.",
		},
		[]string{"service"},
	)
	llmCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalrag",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total LLM backend calls by operation and status.",
		},
		[]string{"service", "operation", "status"},
	)
	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "evalrag",
			Subsystem:   "session",
			Name:        "active",
			Help:        "Number of live sessions.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askTotal,
		askDuration,
		retrievedChunks,
		clarificationsTotal,
		llmCallsTotal,
		activeSessions,
	)

	return &ServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		askTotal:            askTotal,
		askDuration:         askDuration,
		retrievedChunks:     retrievedChunks,
		clarificationsTotal: clarificationsTotal,
		llmCallsTotal:       llmCallsTotal,
		activeSessions:      activeSessions,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(service, r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/sessions/") {
		if strings.HasSuffix(path, "/extend") {
			return "/sessions/{session_id}/extend"
		}
		return "/sessions/{session_id}"
	}
	return path
}

func (m *ServerMetrics) RecordAsk(service, kind string, passageCount int, duration time.Duration) {
	if kind == "" {
		kind = "error"
	}
	m.askTotal.WithLabelValues(service, kind).Inc()
	m.askDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.retrievedChunks.WithLabelValues(service).Observe(float64(passageCount))
	if kind == "clarification" {
		m.clarificationsTotal.WithLabelValues(service).Inc()
	}
}

func (m *ServerMetrics) RecordLLMCall(service, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCallsTotal.WithLabelValues(service, operation, status).Inc()
}

func (m *ServerMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
