// Package monitoring registers the server's Prometheus metrics. Everything
// is package-level via promauto so call sites never thread a registry.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dice_http_requests_total",
			Help: "HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dice_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dice_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)

	// WebSocket fan-out
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dice_ws_connections",
			Help: "Open WebSocket connections",
		},
	)
	WSMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dice_ws_messages_total",
			Help: "Inbound WebSocket messages by type",
		},
		[]string{"type"},
	)
	WSBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dice_ws_broadcasts_total",
			Help: "Frames fanned out to session subscribers",
		},
	)

	// Room catalog
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dice_sessions_live",
			Help: "Sessions currently held by the catalog",
		},
	)
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dice_sessions_expired_total",
			Help: "Sessions destroyed by TTL cleanup",
		},
	)

	// Scheduler
	BotTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dice_bot_turns_total",
			Help: "Bot turns executed by profile",
		},
		[]string{"profile"},
	)
	TurnTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dice_turn_timeouts_total",
			Help: "Turns force-advanced by the deadline",
		},
	)

	// Store adapter
	SnapshotSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dice_snapshot_saves_total",
			Help: "Snapshot save attempts by outcome",
		},
		[]string{"outcome"},
	)
)
