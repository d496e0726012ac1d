// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filemaker_mcp"

var (
	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls by tool name and result",
	}, []string{"tool", "result"})

	ToolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool call latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 12),
	}, []string{"tool"})

	BulkItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_items_total",
		Help:      "Records processed by bulk components, by outcome",
	}, []string{"component", "outcome"})

	RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_requests_total",
		Help:      "Data API requests by method and status class",
	}, []string{"method", "status"})

	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_request_duration_seconds",
		Help:      "Data API request latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"method"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "TTL cache lookups by result",
	}, []string{"result"})

	RateLimitChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_checks_total",
		Help:      "Advisory rate limit checks by operation and decision",
	}, []string{"operation", "decision"})
)

func init() {
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(ToolDuration)
	prometheus.MustRegister(BulkItems)
	prometheus.MustRegister(RemoteRequests)
	prometheus.MustRegister(RemoteLatency)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(RateLimitChecks)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveToolCall counts one finished tool call and records its latency.
func ObserveToolCall(tool, result string, elapsed time.Duration) {
	ToolCalls.WithLabelValues(tool, result).Inc()
	ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// AddBulkItems adds n processed items for a bulk component. Non-positive n
// is ignored.
func AddBulkItems(component, outcome string, n int) {
	if n <= 0 {
		return
	}
	BulkItems.WithLabelValues(component, outcome).Add(float64(n))
}

// ObserveRemoteRequest records one Data API round trip. A zero status means
// the request never produced a response.
func ObserveRemoteRequest(method string, status int, elapsed time.Duration) {
	RemoteRequests.WithLabelValues(method, statusClass(status)).Inc()
	RemoteLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveCacheLookup counts one cache get as a hit or a miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRateLimit counts one advisory limiter check. operation must come
// from a bounded set.
func ObserveRateLimit(operation string, limited bool) {
	decision := "allowed"
	if limited {
		decision = "limited"
	}
	RateLimitChecks.WithLabelValues(operation, decision).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
