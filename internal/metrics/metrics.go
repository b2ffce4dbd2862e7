package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection state metrics
var (
	ConnectedInstances = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accountsync_connected_instances",
			Help: "Number of streaming instances currently reporting connected, per account",
		},
		[]string{"account"},
	)

	Synchronized = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accountsync_synchronized",
			Help: "Synchronization verdict per account (1 = at least one instance connected)",
		},
		[]string{"account"},
	)

	InstanceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountsync_instance_events_total",
			Help: "Instance state events observed, by account and event kind",
		},
		[]string{"account", "event"},
	)

	OpenHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accountsync_open_handles",
			Help: "Open logical connection handles per account identifier",
		},
		[]string{"account"},
	)
)

// Synchronization wait metrics
var (
	WaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accountsync_wait_duration_seconds",
			Help:    "Duration of WaitSynchronized calls by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"outcome"}, // "ok", "timeout", "error"
	)

	WaitAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accountsync_wait_attempts",
			Help:    "Remote synchronization checks issued per WaitSynchronized call",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		},
	)
)

// Subscription fan-out metrics
var (
	SubscribeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountsync_subscribe_calls_total",
			Help: "EnsureSubscribe calls issued during connection setup, by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)
)

// Event feed metrics
var (
	FeedSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountsync_feed_sessions_total",
			Help: "Event feed dial attempts, by outcome",
		},
		[]string{"outcome"}, // "ok", "dial_error"
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountsync_feed_events_total",
			Help: "Event feed frames processed, by type",
		},
		[]string{"type"},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_feed_reconnects_total",
			Help: "Event feed reconnection attempts after a dropped socket",
		},
	)
)

// Journal metrics
var (
	JournalFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_journal_flushes_total",
			Help: "Journal batch flushes",
		},
	)

	JournalRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_journal_rows_total",
			Help: "Connection event rows written to the journal",
		},
	)

	JournalErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_journal_errors_total",
			Help: "Journal batch insert failures",
		},
	)
)

// Presence metrics
var (
	PresenceUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_presence_updates_total",
			Help: "Presence keys written to redis",
		},
	)

	PresenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountsync_presence_errors_total",
			Help: "Failed presence writes",
		},
	)
)

// State check metrics
var (
	StateChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountsync_state_checks_total",
			Help: "Terminal state checks against the local verdict, by outcome",
		},
		[]string{"outcome"}, // "ok", "drift", "error"
	)
)
