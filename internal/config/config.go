// Package config provides configuration loading for chartd.
//
// Configuration is layered: hardcoded defaults, then an optional YAML
// file, then CHARTD_* environment variables on top.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete chartd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Remote        RemoteConfig        `koanf:"remote"`
	Cache         CacheConfig         `koanf:"cache"`
	Autosave      AutosaveConfig      `koanf:"autosave"`
	Events        EventsConfig        `koanf:"events"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Catalog       CatalogConfig       `koanf:"catalog"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RemoteConfig holds the record backend client configuration.
type RemoteConfig struct {
	// BaseURL is the backend API root, e.g. https://records.example.com/api.
	BaseURL string `koanf:"base_url"`

	// Token authenticates as a static bearer token. Mutually exclusive
	// with the client-credentials fields.
	Token Secret `koanf:"token"`

	// ClientID/ClientSecret/TokenURL switch auth to the OAuth2 client
	// credentials flow when all three are set.
	ClientID     string `koanf:"client_id"`
	ClientSecret Secret `koanf:"client_secret"`
	TokenURL     string `koanf:"token_url"`

	// Timeout bounds each backend request.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is how many times a failed request is retried with
	// exponential backoff before the repository falls back locally.
	MaxRetries int `koanf:"max_retries"`

	// RateLimitPerSecond and RateLimitBurst shape outbound traffic.
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`
	RateLimitBurst     int     `koanf:"rate_limit_burst"`

	// HealthCheckInterval is how often the health monitor probes.
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
}

// CacheConfig holds the durable local cache configuration.
type CacheConfig struct {
	// Path is the SQLite database file. Default:
	// ~/.config/chartd/cache.db
	Path string `koanf:"path"`
}

// AutosaveConfig holds the draft autosave configuration.
type AutosaveConfig struct {
	// Debounce is how long after the last edit a save fires.
	Debounce time.Duration `koanf:"debounce"`
}

// EventsConfig holds the NATS event bus configuration.
type EventsConfig struct {
	// Enabled turns event publishing on. The daemon runs fine with it
	// off; SSE streams and the notification feed stay empty.
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server address. Default: nats://127.0.0.1:4222
	URL string `koanf:"url"`
}

// NotificationsConfig holds the notification feed configuration.
type NotificationsConfig struct {
	// MaxEntries caps the persisted feed; older entries are dropped.
	MaxEntries int `koanf:"max_entries"`
}

// CatalogConfig holds the diagnostic test catalog configuration.
type CatalogConfig struct {
	// Path is an optional user catalog merged over the built-in one.
	// Default: ~/.config/chartd/catalog.toml
	Path string `koanf:"path"`
}

// ObservabilityConfig holds OpenTelemetry and logging configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	LogLevel        string `koanf:"log_level"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Remote.MaxRetries < 0 {
		return errors.New("remote max_retries must be non-negative")
	}
	if c.Remote.RateLimitPerSecond <= 0 {
		return errors.New("remote rate_limit_per_second must be positive")
	}
	partialOAuth := (c.Remote.ClientID != "") != (c.Remote.TokenURL != "")
	if partialOAuth {
		return errors.New("remote client_id and token_url must be set together")
	}

	if c.Autosave.Debounce < 100*time.Millisecond {
		return fmt.Errorf("autosave debounce too small: %s (minimum 100ms)", c.Autosave.Debounce)
	}

	if c.Notifications.MaxEntries < 1 {
		return errors.New("notifications max_entries must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
