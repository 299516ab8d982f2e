package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate. Tests
// mutate a copy to exercise individual rules.
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8044,
			ShutdownTimeout: 10 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:            "https://records.example.com/api",
			Timeout:            10 * time.Second,
			MaxRetries:         3,
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		Autosave: AutosaveConfig{
			Debounce: 2 * time.Second,
		},
		Notifications: NotificationsConfig{
			MaxEntries: 200,
		},
		Observability: ObservabilityConfig{
			ServiceName: "chartd",
			LogLevel:    "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "invalid shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: true,
			errMsg:  "shutdown timeout",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Remote.BaseURL = "" },
			wantErr: true,
			errMsg:  "base_url is required",
		},
		{
			name:    "negative max retries",
			mutate:  func(c *Config) { c.Remote.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "max_retries",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Remote.RateLimitPerSecond = 0 },
			wantErr: true,
			errMsg:  "rate_limit_per_second",
		},
		{
			name:    "client id without token url",
			mutate:  func(c *Config) { c.Remote.ClientID = "chartd-client" },
			wantErr: true,
			errMsg:  "must be set together",
		},
		{
			name:    "token url without client id",
			mutate:  func(c *Config) { c.Remote.TokenURL = "https://auth.example.com/token" },
			wantErr: true,
			errMsg:  "must be set together",
		},
		{
			name: "client credentials pair is valid",
			mutate: func(c *Config) {
				c.Remote.ClientID = "chartd-client"
				c.Remote.ClientSecret = "hunter2"
				c.Remote.TokenURL = "https://auth.example.com/token"
			},
			wantErr: false,
		},
		{
			name:    "debounce too small",
			mutate:  func(c *Config) { c.Autosave.Debounce = 10 * time.Millisecond },
			wantErr: true,
			errMsg:  "debounce too small",
		},
		{
			name:    "zero notification cap",
			mutate:  func(c *Config) { c.Notifications.MaxEntries = 0 },
			wantErr: true,
			errMsg:  "max_entries",
		},
		{
			name: "telemetry without service name",
			mutate: func(c *Config) {
				c.Observability.EnableTelemetry = true
				c.Observability.ServiceName = ""
			},
			wantErr: true,
			errMsg:  "service name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && tt.errMsg != "" {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %q, want to contain %q", err.Error(), tt.errMsg)
				}
			}
		})
	}
}

// TestLoad_Defaults verifies hardcoded defaults when no file and no
// environment overrides are present.
func TestLoad_Defaults(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8044 {
		t.Errorf("Server.Port = %d, want 8044", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Remote.BaseURL != "http://localhost:8700/api" {
		t.Errorf("Remote.BaseURL = %q, want http://localhost:8700/api", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("Remote.Timeout = %v, want 10s", cfg.Remote.Timeout)
	}
	if cfg.Remote.MaxRetries != 3 {
		t.Errorf("Remote.MaxRetries = %d, want 3", cfg.Remote.MaxRetries)
	}
	if cfg.Remote.RateLimitPerSecond != 10 {
		t.Errorf("Remote.RateLimitPerSecond = %v, want 10", cfg.Remote.RateLimitPerSecond)
	}
	if cfg.Remote.RateLimitBurst != 20 {
		t.Errorf("Remote.RateLimitBurst = %d, want 20", cfg.Remote.RateLimitBurst)
	}
	if cfg.Remote.HealthCheckInterval != 30*time.Second {
		t.Errorf("Remote.HealthCheckInterval = %v, want 30s", cfg.Remote.HealthCheckInterval)
	}
	wantCache := home + "/.config/chartd/cache.db"
	if cfg.Cache.Path != wantCache {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, wantCache)
	}
	if cfg.Autosave.Debounce != 2*time.Second {
		t.Errorf("Autosave.Debounce = %v, want 2s", cfg.Autosave.Debounce)
	}
	if cfg.Events.Enabled {
		t.Error("Events.Enabled = true, want false (disabled by default)")
	}
	if cfg.Events.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Events.URL = %q, want nats://127.0.0.1:4222", cfg.Events.URL)
	}
	if cfg.Notifications.MaxEntries != 200 {
		t.Errorf("Notifications.MaxEntries = %d, want 200", cfg.Notifications.MaxEntries)
	}
	if cfg.Observability.EnableTelemetry {
		t.Error("Observability.EnableTelemetry = true, want false (disabled by default)")
	}
	if cfg.Observability.ServiceName != "chartd" {
		t.Errorf("Observability.ServiceName = %q, want chartd", cfg.Observability.ServiceName)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("Observability.LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-token")

	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%v", s); got != "[REDACTED]" {
		t.Errorf("%%v = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%#v", s); got != "Secret([REDACTED])" {
		t.Errorf("%%#v = %q, want Secret([REDACTED])", got)
	}
	if got := s.Value(); got != "super-secret-token" {
		t.Errorf("Value() = %q, want the raw secret", got)
	}
	if !s.IsSet() {
		t.Error("IsSet() = false, want true")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(data) != `"[REDACTED]"` {
		t.Errorf("json.Marshal() = %s, want \"[REDACTED]\"", data)
	}

	text, err := s.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(text) != "[REDACTED]" {
		t.Errorf("MarshalText() = %q, want [REDACTED]", text)
	}
}

func TestSecret_Empty(t *testing.T) {
	var s Secret

	if got := s.String(); got != "" {
		t.Errorf("String() = %q, want empty", got)
	}
	if s.IsSet() {
		t.Error("IsSet() = true, want false")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(data) != `""` {
		t.Errorf("json.Marshal() = %s, want \"\"", data)
	}
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"raw-value"`), &s); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if s.Value() != "raw-value" {
		t.Errorf("Value() = %q, want raw-value", s.Value())
	}

	var s2 Secret
	if err := s2.UnmarshalText([]byte("text-value")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if s2.Value() != "text-value" {
		t.Errorf("Value() = %q, want text-value", s2.Value())
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "5s", 5 * time.Second, false},
		{"milliseconds", "250ms", 250 * time.Millisecond, false},
		{"compound", "1m30s", 90 * time.Second, false},
		{"negative rejected", "-5s", 0, true},
		{"garbage rejected", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.text))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalText(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration() != tt.want {
				t.Errorf("Duration() = %v, want %v", d.Duration(), tt.want)
			}
		})
	}
}

func TestDuration_Marshal(t *testing.T) {
	d := Duration(90 * time.Second)

	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q, want 1m30s", text)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Errorf("json.Marshal() = %s, want \"1m30s\"", data)
	}
}
