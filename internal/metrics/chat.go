package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users with at least one live connection",
		},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_live_connections",
			Help: "Number of live websocket connections",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted, by kind and room kind",
		},
		[]string{"kind", "room_kind"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Events enqueued on connection send buffers, by event type",
		},
		[]string{"event"},
	)

	Drops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_drops_total",
			Help: "Events dropped because a connection send buffer was full",
		},
		[]string{"event"},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_commands_total",
			Help: "Websocket commands handled, by type and result code",
		},
		[]string{"type", "code"},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notification_failures_total",
			Help: "Offline notifications that could not be recorded",
		},
	)
)
