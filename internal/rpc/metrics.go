package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsEnqueued = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_events_enqueued", Help: "Total events stored for delivery"},
		[]string{"event"})

	eventsDelivered = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_events_delivered", Help: "Total events handed to a transport"},
		[]string{"transport"})

	eventsAcknowledged = promauto.NewCounter( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_events_acknowledged", Help: "Total acknowledgments received"})

	ackTimeouts = promauto.NewCounter( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_ack_timeouts", Help: "Total waits that gave up before an ack"})

	eventsPurged = promauto.NewCounter( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_events_purged", Help: "Total events removed by retention"})

	syncFailures = promauto.NewCounter( //nolint:gochecknoglobals
		prometheus.CounterOpts{Name: "gflbans_rpc_sync_failures", Help: "Total summaries that could not be pushed"})

	pushConnections = promauto.NewGauge( //nolint:gochecknoglobals
		prometheus.GaugeOpts{Name: "gflbans_rpc_ws_connections", Help: "Connected websocket clients"})
)
