package config

import "time"

// Response cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Default values for optional configuration fields.
const (
	DefaultBaseURL           = "https://funpay.com"
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultRefreshInterval   = 5 * time.Minute
	DefaultTimeout           = 15 * time.Second
	DefaultMinInterval       = 1 * time.Second
	DefaultCacheTTL          = 30 * time.Second
	DefaultCacheMaxEntries   = 100
	DefaultCacheBackend      = CacheBackendMemory
	DefaultMaxRetries        = 20
	DefaultBackoffBase       = 2 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultFatalThreshold    = 5
	DefaultRunnerInterval    = 6 * time.Second
	DefaultEscalatedInterval = 30 * time.Second
	DefaultErrorThreshold    = 5
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 1000
	DefaultHealthPort        = 3001
	DefaultAPIPort           = 3002
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// ApplyDefaults fills every zero-valued optional field.
func (c *Config) ApplyDefaults() {
	// Account defaults
	if c.Account.BaseURL == "" {
		c.Account.BaseURL = DefaultBaseURL
	}
	if c.Account.UserAgent == "" {
		c.Account.UserAgent = DefaultUserAgent
	}
	if c.Account.RefreshInterval == 0 {
		c.Account.RefreshInterval = DefaultRefreshInterval
	}

	// Transport defaults
	t := &c.Transport
	if t.Timeout == 0 {
		t.Timeout = DefaultTimeout
	}
	if t.MinInterval == 0 {
		t.MinInterval = DefaultMinInterval
	}
	if t.CacheTTL == 0 {
		t.CacheTTL = DefaultCacheTTL
	}
	if t.CacheMaxEntries == 0 {
		t.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if t.CacheBackend == "" {
		t.CacheBackend = DefaultCacheBackend
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.BackoffBase == 0 {
		t.BackoffBase = DefaultBackoffBase
	}
	if t.BackoffMax == 0 {
		t.BackoffMax = DefaultBackoffMax
	}
	if t.FatalThreshold == 0 {
		t.FatalThreshold = DefaultFatalThreshold
	}

	// Runner defaults
	if c.Runner.Interval == 0 {
		c.Runner.Interval = DefaultRunnerInterval
	}
	if c.Runner.EscalatedInterval == 0 {
		c.Runner.EscalatedInterval = DefaultEscalatedInterval
	}
	if c.Runner.ErrorThreshold == 0 {
		c.Runner.ErrorThreshold = DefaultErrorThreshold
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Server defaults
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = DefaultHealthPort
	}
	if c.Server.APIPort == 0 {
		c.Server.APIPort = DefaultAPIPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
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
