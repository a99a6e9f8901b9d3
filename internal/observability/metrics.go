// Package observability exposes prometheus metrics for the client core.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	restRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_rest_requests_total",
			Help: "Total number of REST requests issued by the client.",
		},
		[]string{"method", "route", "status"},
	)
	restRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskflow_rest_request_duration_seconds",
			Help:    "REST request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	channelConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskflow_channel_connected",
			Help: "1 while the realtime channel is connected, 0 otherwise.",
		},
	)
	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_channel_events_total",
			Help: "Total number of realtime channel lifecycle events.",
		},
		[]string{"event"},
	)
	realtimeFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_realtime_frames_total",
			Help: "Total number of inbound realtime frames by type.",
		},
		[]string{"type"},
	)
	dedupDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_dedup_drops_total",
			Help: "Events dropped because their identifier was already applied.",
		},
		[]string{"kind"},
	)
	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_token_refreshes_total",
			Help: "Total number of access-token refresh exchanges.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		restRequestsTotal,
		restRequestDuration,
		channelConnected,
		channelEventsTotal,
		realtimeFramesTotal,
		dedupDropsTotal,
		tokenRefreshesTotal,
	)
}

func ObserveRESTRequest(method, route string, status int, elapsed time.Duration) {
	restRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	restRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func SetChannelConnected(connected bool) {
	if connected {
		channelConnected.Set(1)
		return
	}
	channelConnected.Set(0)
}

func IncChannelEvent(event string) {
	channelEventsTotal.WithLabelValues(event).Inc()
}

func IncRealtimeFrame(eventType string) {
	realtimeFramesTotal.WithLabelValues(eventType).Inc()
}

func IncDedupDrop(kind string) {
	dedupDropsTotal.WithLabelValues(kind).Inc()
}

func IncTokenRefresh(outcome string) {
	tokenRefreshesTotal.WithLabelValues(outcome).Inc()
}
