// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections       prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	BroadcastsSent    prometheus.Counter
	BroadcastFailures prometheus.Counter
	SweeperEvictions  prometheus.Counter
	FlapsSuppressed   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_live_connections",
			Help: "Live websocket connections held by this process.",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Users with at least one live connection in this process.",
		}),
		BroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_broadcasts_sent_total",
			Help: "Presence and status events delivered to contact connections.",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_broadcast_failures_total",
			Help: "Per-connection delivery failures during fan-out.",
		}),
		SweeperEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_sweeper_evictions_total",
			Help: "Device records evicted by the staleness sweep.",
		}),
		FlapsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_offline_flaps_suppressed_total",
			Help: "Offline broadcasts suppressed by a reconnect inside the grace window.",
		}),
	}
}
