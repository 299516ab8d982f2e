package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome creates a temporary home directory for testing.
// Returns the home dir path and a cleanup function.
func setupTestHome(t *testing.T) (string, func()) {
	t.Helper()

	tmpHome := t.TempDir()

	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpHome)

	cleanup := func() {
		if originalHome != "" {
			os.Setenv("HOME", originalHome)
		} else {
			os.Unsetenv("HOME")
		}
	}

	return tmpHome, cleanup
}

// writeTestConfig writes a config file into the allowed directory under
// the given home, with the given permissions.
func writeTestConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()

	configDir := filepath.Join(home, ".config", "chartd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

// TestLoad_ValidYAML tests loading configuration from a valid YAML file.
func TestLoad_ValidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 9090
  shutdown_timeout: 5s

remote:
  base_url: https://records.example.com/api
  token: ehr-token-123
  timeout: 3s

autosave:
  debounce: 500ms

observability:
  enable_telemetry: true
  service_name: chartd-test
`

	configPath := writeTestConfig(t, home, yamlContent, 0600)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Remote.BaseURL != "https://records.example.com/api" {
		t.Errorf("Remote.BaseURL = %q, want https://records.example.com/api", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Token.Value() != "ehr-token-123" {
		t.Errorf("Remote.Token.Value() = %q, want ehr-token-123", cfg.Remote.Token.Value())
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("Remote.Timeout = %v, want 3s", cfg.Remote.Timeout)
	}
	if cfg.Autosave.Debounce != 500*time.Millisecond {
		t.Errorf("Autosave.Debounce = %v, want 500ms", cfg.Autosave.Debounce)
	}
	if !cfg.Observability.EnableTelemetry {
		t.Error("Observability.EnableTelemetry = false, want true")
	}
	if cfg.Observability.ServiceName != "chartd-test" {
		t.Errorf("Observability.ServiceName = %q, want chartd-test", cfg.Observability.ServiceName)
	}
}

// TestLoad_EnvironmentOverride tests that environment variables override YAML.
func TestLoad_EnvironmentOverride(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 9090

remote:
  base_url: https://yaml.example.com/api

observability:
  service_name: yaml-service
`

	configPath := writeTestConfig(t, home, yamlContent, 0600)

	os.Setenv("CHARTD_SERVER_HTTP_PORT", "7777")
	os.Setenv("CHARTD_REMOTE_BASE_URL", "https://env.example.com/api")
	os.Setenv("CHARTD_OBSERVABILITY_SERVICE_NAME", "env-service")
	defer os.Unsetenv("CHARTD_SERVER_HTTP_PORT")
	defer os.Unsetenv("CHARTD_REMOTE_BASE_URL")
	defer os.Unsetenv("CHARTD_OBSERVABILITY_SERVICE_NAME")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://env.example.com/api" {
		t.Errorf("Remote.BaseURL = %q, want https://env.example.com/api (from env override)", cfg.Remote.BaseURL)
	}
	if cfg.Observability.ServiceName != "env-service" {
		t.Errorf("Observability.ServiceName = %q, want env-service (from env override)", cfg.Observability.ServiceName)
	}
}

// TestLoad_MissingFile tests handling of missing config file.
func TestLoad_MissingFile(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	// Path in allowed directory but file doesn't exist.
	configPath := filepath.Join(home, ".config", "chartd", "config.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config for missing file")
	}

	// Defaults should be applied.
	if cfg.Server.Port != 8044 {
		t.Errorf("Server.Port = %d, want 8044 (default)", cfg.Server.Port)
	}
	if cfg.Autosave.Debounce != 2*time.Second {
		t.Errorf("Autosave.Debounce = %v, want 2s (default)", cfg.Autosave.Debounce)
	}
}

// TestLoad_DefaultPath tests using the default config path.
func TestLoad_DefaultPath(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 9191
`
	writeTestConfig(t, home, yamlContent, 0600)

	// Empty path should resolve to ~/.config/chartd/config.yaml.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v, want nil", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191 (from default-path file)", cfg.Server.Port)
	}
}

// TestLoad_InvalidYAML tests handling of malformed YAML.
func TestLoad_InvalidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	invalidYAML := `server:
  http_port: not-a-number
  invalid syntax here
`

	configPath := writeTestConfig(t, home, invalidYAML, 0600)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should error on invalid YAML, got nil")
	}
}

// TestLoad_Validation tests configuration validation after load.
func TestLoad_Validation(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 99999
`

	configPath := writeTestConfig(t, home, yamlContent, 0600)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should error on invalid port, got nil")
	}
}

// TestLoad_PathTraversal tests path traversal attack prevention.
func TestLoad_PathTraversal(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()

	_, err := Load("../../../../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/chartd/ or /etc/chartd/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

// TestLoad_InsecurePermissions tests file permission enforcement.
func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 9090
`

	// World readable. The file can carry backend credentials.
	configPath := writeTestConfig(t, home, yamlContent, 0644)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure") && !strings.Contains(err.Error(), "permissions") {
		t.Errorf("Expected 'insecure permissions' error, got: %v", err)
	}
}

// TestLoad_SecurePermissions tests that 0600 permissions are accepted.
func TestLoad_SecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	home, cleanup := setupTestHome(t)
	defer cleanup()

	yamlContent := `server:
  http_port: 9090
`

	configPath := writeTestConfig(t, home, yamlContent, 0600)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() should succeed with 0600 permissions, got error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

// TestLoad_FileTooLarge tests file size limit enforcement.
func TestLoad_FileTooLarge(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	// 2MB file exceeds the 1MB limit.
	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	configPath := writeTestConfig(t, home, string(largeContent), 0600)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}
