package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL            = "https://api.tradewire.io/terminal/v1"
	DefaultFeedURL            = "wss://feed.tradewire.io/terminal/v1/stream"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultReadTimeout        = 60 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultWaitTimeout        = 5 * time.Minute
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 5 * time.Second
	DefaultBufferSize         = 256
	DefaultKeyPrefix          = "accountsync:presence"
	DefaultPresenceTTL        = 30 * time.Second
	DefaultRefreshInterval    = 10 * time.Second
	DefaultWatchInterval      = 1 * time.Minute
	DefaultWatchConcurrency   = 10
	DefaultWatchTimeout       = 10 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultHealthPort         = 8080
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *SyncdConfig) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Feed defaults; the feed token falls back to the API token
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.Token == "" {
		c.Feed.Token = c.API.Token
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Sync defaults
	if c.Sync.DefaultWaitTimeout == 0 {
		c.Sync.DefaultWaitTimeout = DefaultWaitTimeout
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Postgres)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Presence defaults
	if c.Presence.NodeID == "" {
		c.Presence.NodeID = c.Instance.ID
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = DefaultKeyPrefix
	}
	if c.Presence.TTL == 0 {
		c.Presence.TTL = DefaultPresenceTTL
	}
	if c.Presence.RefreshInterval == 0 {
		c.Presence.RefreshInterval = DefaultRefreshInterval
	}

	// Watch defaults
	if c.Watch.Interval == 0 {
		c.Watch.Interval = DefaultWatchInterval
	}
	if c.Watch.Concurrency == 0 {
		c.Watch.Concurrency = DefaultWatchConcurrency
	}
	if c.Watch.Timeout == 0 {
		c.Watch.Timeout = DefaultWatchTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
