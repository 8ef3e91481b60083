package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the VOD streaming server.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	controlMessagesTotal *prometheus.CounterVec
	segmentsSentTotal    prometheus.Counter
	segmentBytesTotal    prometheus.Counter
	wsConnections        prometheus.Gauge
	activeSessions       prometheus.Gauge
	errorsTotal          prometheus.Counter
	uploadsTotal         prometheus.Counter
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	controlMessagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vod_control_messages_total",
		Help: "Total number of WebSocket control messages received, by type",
	}, []string{"type"})
	segmentsSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_segments_sent_total",
		Help: "Total number of media segments sent to clients",
	})
	segmentBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_segment_bytes_total",
		Help: "Total bytes of segment payload sent to clients",
	})
	wsConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vod_ws_connections",
		Help: "Number of currently open WebSocket connections",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vod_active_stream_sessions",
		Help: "Number of stream sessions not yet closed",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_errors_total",
		Help: "Total number of error responses (HTTP 4xx/5xx and error control frames)",
	})
	uploadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_uploads_total",
		Help: "Total number of videos ingested through the upload endpoint",
	})

	registry.MustRegister(
		requestsTotal,
		controlMessagesTotal,
		segmentsSentTotal,
		segmentBytesTotal,
		wsConnections,
		activeSessions,
		errorsTotal,
		uploadsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		controlMessagesTotal: controlMessagesTotal,
		segmentsSentTotal:    segmentsSentTotal,
		segmentBytesTotal:    segmentBytesTotal,
		wsConnections:        wsConnections,
		activeSessions:       activeSessions,
		errorsTotal:          errorsTotal,
		uploadsTotal:         uploadsTotal,
	}
}

// IncRequests increments the total HTTP request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncControlMessage increments the control message counter for msgType.
func (m *Metrics) IncControlMessage(msgType string) {
	m.controlMessagesTotal.WithLabelValues(msgType).Inc()
}

// IncSegmentSent records one media segment of n payload bytes sent.
func (m *Metrics) IncSegmentSent(n int) {
	m.segmentsSentTotal.Inc()
	m.segmentBytesTotal.Add(float64(n))
}

// ConnOpened / ConnClosed track the WebSocket connection gauge.
func (m *Metrics) ConnOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnClosed() { m.wsConnections.Dec() }

// SessionOpened / SessionClosed track the stream session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUploads increments the ingested-video counter.
func (m *Metrics) IncUploads() {
	m.uploadsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
