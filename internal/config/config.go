package config

import "time"

// SyncdConfig is the root configuration for a syncd instance.
type SyncdConfig struct {
	Instance InstanceConfig  `yaml:"instance"`
	API      APIConfig       `yaml:"api"`
	Feed     FeedConfig      `yaml:"feed"`
	Accounts []AccountConfig `yaml:"accounts"`
	Sync     SyncConfig      `yaml:"sync"`
	Journal  JournalConfig   `yaml:"journal"`
	Presence PresenceConfig  `yaml:"presence"`
	Watch    WatchConfig     `yaml:"watch"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Health   HealthConfig    `yaml:"health"`
	Log      LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this syncd node.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// APIConfig holds terminal REST API settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// FeedConfig holds state feed websocket settings.
type FeedConfig struct {
	URL                string        `yaml:"url"`
	Token              string        `yaml:"token"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// AccountConfig declares one account to keep connected. Regions maps a
// region name to the account id deployed there; the primary account id must
// appear among the values.
type AccountConfig struct {
	ID      string            `yaml:"id"`
	Regions map[string]string `yaml:"regions"`
}

// SyncConfig holds synchronization wait settings.
type SyncConfig struct {
	DefaultWaitTimeout time.Duration `yaml:"default_wait_timeout"`
}

// JournalConfig holds event journaling settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PresenceConfig holds cluster presence settings. NodeID falls back to
// instance.id when empty.
type PresenceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Redis           RedisConfig   `yaml:"redis"`
	NodeID          string        `yaml:"node_id"`
	KeyPrefix       string        `yaml:"key_prefix"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RedisConfig holds a redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WatchConfig holds terminal state check settings.
type WatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// HealthConfig holds health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
