package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions      = promauto.NewGauge(prometheus.GaugeOpts{Name: "wsproxy_active_sessions", Help: "Sessions currently open"})
	TrackedIPs          = promauto.NewGauge(prometheus.GaugeOpts{Name: "wsproxy_tracked_ips", Help: "Source IPs holding at least one session"})
	AcceptedTotal       = promauto.NewCounter(prometheus.CounterOpts{Name: "wsproxy_accepted_total", Help: "Connections accepted by the listener"})
	RejectedTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsproxy_rejected_total", Help: "Connections rejected, by reason"}, []string{"reason"})
	TunnelsTotal        = promauto.NewCounter(prometheus.CounterOpts{Name: "wsproxy_tunnels_total", Help: "Tunnels established to a target"})
	RelayEndTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsproxy_relay_end_total", Help: "Relays finished, by reason"}, []string{"reason"})
	RelayBytesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsproxy_relay_bytes_total", Help: "Bytes relayed, by direction"}, []string{"direction"})
	AcceptErrorsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "wsproxy_accept_errors_total", Help: "Accept errors that did not stop the listener"})
	SessionDurationSecs = promauto.NewHistogram(prometheus.HistogramOpts{Name: "wsproxy_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 20)})
)
