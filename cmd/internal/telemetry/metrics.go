// Package telemetry owns the Prometheus collectors exported by FieldQuest.
//
// Collectors are registered on an explicit Registerer handed in by the app
// layer. A nil *Metrics is valid and records nothing, so components and tests
// can run without a registry.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every FieldQuest collector.
type Metrics struct {
	CacheLookups       *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	UpstreamRequests   *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
	ProgressWrites     *prometheus.CounterVec
	RealtimeSubs       *prometheus.GaugeVec
	RealtimeEvents     *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_cache_lookups_total",
			Help: "Cache lookups by tier and result (hit, miss, error)",
		}, []string{"tier", "result"}),

		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_ratelimit_decisions_total",
			Help: "Rate limiter decisions by scope, mode and result",
		}, []string{"scope", "mode", "result"}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_upstream_requests_total",
			Help: "Upstream provider calls by result",
		}, []string{"provider", "result"}),

		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldquest_upstream_request_duration_seconds",
			Help:    "Upstream provider call latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		ProgressWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_progress_writes_total",
			Help: "Progress writes by operation",
		}, []string{"op"}),

		RealtimeSubs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldquest_realtime_subscribers",
			Help: "Currently subscribed live viewers by transport",
		}, []string{"transport"}),

		RealtimeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_realtime_events_total",
			Help: "Event deliveries by result (delivered, dropped)",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldquest_http_requests_total",
			Help: "HTTP requests by method and status class",
		}, []string{"method", "status_class"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldquest_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// CacheLookup records one tier lookup.
func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RateLimitDecision records one limiter decision.
func (m *Metrics) RateLimitDecision(scope, mode string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.RateLimitDecisions.WithLabelValues(scope, mode, result).Inc()
}

// UpstreamRequest records one upstream call outcome and its latency.
func (m *Metrics) UpstreamRequest(provider, result string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(provider, result).Inc()
	m.UpstreamLatency.WithLabelValues(provider).Observe(seconds)
}

// ProgressWrite records a progress mutation (set, clear, delete).
func (m *Metrics) ProgressWrite(op string) {
	if m == nil {
		return
	}
	m.ProgressWrites.WithLabelValues(op).Inc()
}

// SubscriberDelta adjusts the live subscriber gauge.
func (m *Metrics) SubscriberDelta(transport string, delta float64) {
	if m == nil {
		return
	}
	m.RealtimeSubs.WithLabelValues(transport).Add(delta)
}

// EventDelivery records a fan-out delivery result.
func (m *Metrics) EventDelivery(result string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, StatusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(seconds)
}

// StatusClass maps 404 -> "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
