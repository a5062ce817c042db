package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termshare_proxy_requests_total",
			Help: "Tool-proxy requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	SessionBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "termshare_session_bytes_written_total",
			Help: "Bytes written to the session PTY",
		},
	)

	SessionBytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "termshare_session_bytes_read_total",
			Help: "Bytes of session output observed",
		},
	)

	RecorderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termshare_recorder_events_total",
			Help: "Events fanned out to recorders by type",
		},
		[]string{"type"},
	)

	RecordingsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termshare_recordings_active",
			Help: "Number of currently recording recorders",
		},
	)

	ProxyConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termshare_proxy_connections",
			Help: "Open tool-proxy connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProxyRequests,
		SessionBytesWritten,
		SessionBytesRead,
		RecorderEvents,
		RecordingsActive,
		ProxyConnections,
	)
}
