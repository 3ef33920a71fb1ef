package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Account.GoldenKey == "" && !c.Transport.Mock {
		return errors.New("account.golden_key is required")
	}
	if _, err := url.ParseRequestURI(c.Account.BaseURL); err != nil {
		return fmt.Errorf("account.base_url is invalid: %w", err)
	}

	if err := c.Proxy.validate(); err != nil {
		return err
	}
	if err := c.Transport.validate(); err != nil {
		return err
	}

	if c.Runner.Interval <= 0 {
		return errors.New("runner.interval must be > 0")
	}
	if c.Runner.EscalatedInterval <= c.Runner.Interval {
		return fmt.Errorf("runner.escalated_interval (%s) must be longer than runner.interval (%s)",
			c.Runner.EscalatedInterval, c.Runner.Interval)
	}
	if c.Runner.ErrorThreshold < 1 {
		return errors.New("runner.error_threshold must be >= 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return errors.New("telegram.token is required")
		}
		if c.Telegram.ChatID == 0 {
			return errors.New("telegram.chat_id is required")
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if err := validatePort("server.health_port", c.Server.HealthPort); err != nil {
		return err
	}
	if err := validatePort("server.api_port", c.Server.APIPort); err != nil {
		return err
	}
	if c.Server.APIPort == c.Server.HealthPort {
		return fmt.Errorf("server.api_port and server.health_port must differ, both are %d", c.Server.APIPort)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (p *ProxyConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	switch p.Type {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("proxy.type must be http, https or socks5, got %q", p.Type)
	}
	if p.Host == "" {
		return errors.New("proxy.host is required")
	}
	return validatePort("proxy.port", p.Port)
}

func (t *TransportConfig) validate() error {
	if t.Timeout <= 0 {
		return errors.New("transport.timeout must be > 0")
	}
	if t.MaxRetries < 1 {
		return errors.New("transport.max_retries must be >= 1")
	}
	if t.BackoffMax < t.BackoffBase {
		return fmt.Errorf("transport.backoff_max (%s) cannot be shorter than transport.backoff_base (%s)",
			t.BackoffMax, t.BackoffBase)
	}
	if t.FatalThreshold < 1 {
		return errors.New("transport.fatal_threshold must be >= 1")
	}
	if t.CacheMaxEntries < 1 {
		return errors.New("transport.cache_max_entries must be >= 1")
	}
	switch t.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if t.RedisAddr == "" {
			return errors.New("transport.redis_addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("transport.cache_backend must be memory or redis, got %q", t.CacheBackend)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
