// Package main implements the chartctl CLI for manual operations
// against the chartd daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the chartd daemon
	serverURL string
	// version information
	version = "dev"
)

// httpClient is shared by every command.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chartctl",
	Short: "CLI for the chartd clinical-documentation daemon",
	Long: `chartctl is a command-line interface for the chartd daemon.
It provides commands for browsing patient records, inspecting open
sessions, reading the notification feed, searching the test catalog,
and driving journal sync.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:7171", "chartd daemon URL")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks daemon and backend health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check chartd daemon and backend health",
	Long: `Check the health of the chartd daemon and its record backend.

Examples:
  # Check health
  chartctl health

  # Check health on a different daemon
  chartctl health --server http://127.0.0.1:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status      string     `json:"status"`
	Backend     string     `json:"backend"`
	LastCheck   *time.Time `json:"lastCheck,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	PendingSync int        `json:"pendingSync"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var resp HealthResponse
	if err := apiGet("/healthz", &resp); err != nil {
		return err
	}

	fmt.Printf("Daemon:       %s\n", serverURL)
	fmt.Printf("Backend:      %s (%s)\n", resp.Backend, resp.Status)
	if resp.LastCheck != nil {
		fmt.Printf("Last Check:   %s\n", formatTime(*resp.LastCheck))
	}
	if resp.LastError != "" {
		fmt.Printf("Last Error:   %s\n", resp.LastError)
	}
	fmt.Printf("Pending Sync: %d\n", resp.PendingSync)

	return nil
}

// apiGet fetches path from the daemon and decodes the JSON response
// into out.
func apiGet(path string, out interface{}) error {
	return apiDo(http.MethodGet, path, nil, out)
}

// apiDo sends one request to the daemon. body is marshalled to JSON
// when non-nil; out, when non-nil, receives the decoded response.
func apiDo(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w (is chartd running?)", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, errorMessage(raw))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the message from an echo error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return string(body)
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to maxLen runes with an ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatTime renders timestamps the way the tables expect.
func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
