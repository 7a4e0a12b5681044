package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, relay (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (frames relayed, denials, drops)

var (
	// ActiveConnections tracks the current number of live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the member count per room code.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_code"})

	// FramesRelayed counts frames accepted from a member and fanned out.
	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Total frames accepted for relay",
	})

	// RateLimitDenials counts denied events by scope (frame, connect_ip).
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "relay",
		Name:      "rate_limit_denials_total",
		Help:      "Total rate limit denials",
	}, []string{"scope"})

	// SlowConsumersDropped counts members disconnected for queue overflow.
	SlowConsumersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "relay",
		Name:      "slow_consumers_dropped_total",
		Help:      "Total members disconnected because their outbound queue overflowed",
	})

	// RoomsSwept counts rooms reclaimed by the idle sweeper.
	RoomsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "swept_total",
		Help:      "Total rooms reclaimed by the idle sweeper",
	})

	// UpgradeRejections counts refused upgrade attempts by reason
	// (bad_request, auth_failed, room_full, connect_rate).
	UpgradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "upgrade_rejections_total",
		Help:      "Total rejected WebSocket upgrade attempts",
	}, []string{"reason"})

	// CircuitBreakerState tracks breaker state per dependency
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "dependency",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
