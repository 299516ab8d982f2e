package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix scopes which environment variables the loader reads.
	envPrefix = "CHARTD_"
)

// Load loads configuration from a YAML file, then overrides with
// CHARTD_* environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CHARTD_SERVER_HTTP_PORT, CHARTD_REMOTE_BASE_URL, ...)
//  2. YAML config file (~/.config/chartd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty,
// the default path is used and a missing file is not an error.
//
// # Security
//
// The config file must have 0600 or 0400 permissions, live under
// ~/.config/chartd/ or /etc/chartd/, and be at most 1MB. The file can
// hold backend credentials, so weaker permissions are rejected.
//
// # Environment variable mapping
//
// After the prefix, the first underscore separates section from field:
//
//	CHARTD_SERVER_HTTP_PORT      -> server.http_port
//	CHARTD_REMOTE_BASE_URL       -> remote.base_url
//	CHARTD_AUTOSAVE_DEBOUNCE     -> autosave.debounce
//	CHARTD_EVENTS_URL            -> events.url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "chartd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// check-then-open race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// CHARTD_SERVER_HTTP_PORT -> server.http_port: strip the
		// prefix, lowercase, split on the first underscore only.
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the chartd config directory if it doesn't
// exist, with 0700 permissions. Called during startup so first runs
// have somewhere to put the cache and config.
func EnsureConfigDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// Dir returns the chartd config directory (~/.config/chartd).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "chartd"), nil
}

// validateConfigPath checks that path is inside an allowed directory.
// Runs even when the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot smuggle a file in from outside
	// the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet; validate the literal path.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "chartd"),
		"/etc/chartd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/chartd/ or /etc/chartd/")
}

// validateConfigFileProperties checks permissions and size of an
// existing config file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills in missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8044
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://localhost:8700/api"
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 10 * time.Second
	}
	if cfg.Remote.MaxRetries == 0 {
		cfg.Remote.MaxRetries = 3
	}
	if cfg.Remote.RateLimitPerSecond == 0 {
		cfg.Remote.RateLimitPerSecond = 10
	}
	if cfg.Remote.RateLimitBurst == 0 {
		cfg.Remote.RateLimitBurst = 20
	}
	if cfg.Remote.HealthCheckInterval == 0 {
		cfg.Remote.HealthCheckInterval = 30 * time.Second
	}

	if cfg.Cache.Path == "" {
		if dir, err := Dir(); err == nil {
			cfg.Cache.Path = filepath.Join(dir, "cache.db")
		}
	}

	if cfg.Autosave.Debounce == 0 {
		cfg.Autosave.Debounce = 2 * time.Second
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}

	if cfg.Notifications.MaxEntries == 0 {
		cfg.Notifications.MaxEntries = 200
	}

	if cfg.Catalog.Path == "" {
		if dir, err := Dir(); err == nil {
			cfg.Catalog.Path = filepath.Join(dir, "catalog.toml")
		}
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "chartd"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
}
