package config

import "time"

// Config is the root configuration for a seller bot instance.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Transport TransportConfig `yaml:"transport"`
	Runner    RunnerConfig    `yaml:"runner"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AccountConfig holds the marketplace session settings.
type AccountConfig struct {
	BaseURL         string        `yaml:"base_url"`
	GoldenKey       string        `yaml:"golden_key"` // session cookie, never logged
	UserAgent       string        `yaml:"user_agent"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ProxyConfig configures an optional outbound proxy.
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"` // http, https or socks5
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

// TransportConfig holds resilient transport settings.
type TransportConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MinInterval     time.Duration `yaml:"min_interval"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	CacheBackend    string        `yaml:"cache_backend"` // memory or redis
	RedisAddr       string        `yaml:"redis_addr"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	FatalThreshold  int           `yaml:"fatal_threshold"`
	Mock            bool          `yaml:"mock"`
}

// RunnerConfig holds polling runner settings.
type RunnerConfig struct {
	Interval          time.Duration `yaml:"interval"`
	EscalatedInterval time.Duration `yaml:"escalated_interval"`
	ErrorThreshold    int           `yaml:"error_threshold"`
}

// TelegramConfig holds operator alert settings.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// DatabaseConfig holds the optional journal database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
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

// JournalConfig holds batch journal writer settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// ServerConfig holds the health and REST API listeners.
type ServerConfig struct {
	HealthPort int    `yaml:"health_port"`
	APIPort    int    `yaml:"api_port"`
	APIKey     string `yaml:"api_key"` // empty disables the REST API
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // optional rotated log file
}
