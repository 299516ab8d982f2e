// Package remote implements the HTTP client for the records backend.
// It authenticates from config (static bearer token or OAuth2 client
// credentials), rate-limits outbound requests, and retries transient
// failures with exponential backoff. A 404 from the backend maps to
// records.ErrNotFound so the repository can treat it as authoritative.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/verdanthealth/chartd/internal/config"
	"github.com/verdanthealth/chartd/internal/records"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10.0
	defaultBurst     = 20
	baseBackoff      = 250 * time.Millisecond
)

// Client talks to the records backend over HTTP. It implements
// records.RemoteClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

// New creates a backend client from the remote config section.
func New(ctx context.Context, cfg config.RemoteConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	perSecond := cfg.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = defaultRateLimit
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = defaultBurst
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(ctx, cfg),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		maxRetries: maxRetries,
		logger:     logger.Named("remote"),
	}, nil
}

// newHTTPClient picks the auth flow from config: OAuth2 client
// credentials when the full triple is set, static bearer token when a
// token is set, plain client otherwise (local development backends).
func newHTTPClient(ctx context.Context, cfg config.RemoteConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch {
	case cfg.ClientID != "" && cfg.ClientSecret.IsSet() && cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			TokenURL:     cfg.TokenURL,
		}
		client := cc.Client(ctx)
		client.Timeout = timeout
		return client
	case cfg.Token.IsSet():
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		client := oauth2.NewClient(ctx, ts)
		client.Timeout = timeout
		return client
	default:
		return &http.Client{Timeout: timeout}
	}
}

// CreatePatient creates a patient on the backend.
func (c *Client) CreatePatient(ctx context.Context, in records.PatientInput) (records.PatientRecord, error) {
	in.Extensions = nil // extension fields stay client-side
	var rec records.PatientRecord
	if err := c.do(ctx, http.MethodPost, "/patients", in, &rec); err != nil {
		return records.PatientRecord{}, err
	}
	return rec, nil
}

// GetPatient fetches a patient by id.
func (c *Client) GetPatient(ctx context.Context, id string) (records.PatientRecord, error) {
	var rec records.PatientRecord
	if err := c.do(ctx, http.MethodGet, "/patients/"+url.PathEscape(id), nil, &rec); err != nil {
		return records.PatientRecord{}, err
	}
	return rec, nil
}

// UpdatePatient replaces a patient's canonical fields.
func (c *Client) UpdatePatient(ctx context.Context, id string, in records.PatientInput) (records.PatientRecord, error) {
	in.Extensions = nil
	var rec records.PatientRecord
	if err := c.do(ctx, http.MethodPut, "/patients/"+url.PathEscape(id), in, &rec); err != nil {
		return records.PatientRecord{}, err
	}
	return rec, nil
}

// DeletePatient removes a patient.
func (c *Client) DeletePatient(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/patients/"+url.PathEscape(id), nil, nil)
}

// ListPatients fetches all patients.
func (c *Client) ListPatients(ctx context.Context) ([]records.PatientRecord, error) {
	var recs []records.PatientRecord
	if err := c.do(ctx, http.MethodGet, "/patients", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// CreateSession creates an autosave session.
func (c *Client) CreateSession(ctx context.Context, in records.SessionInput) (records.Session, error) {
	var ses records.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", in, &ses); err != nil {
		return records.Session{}, err
	}
	return ses, nil
}

// UpdateSession replaces a session's draft state.
func (c *Client) UpdateSession(ctx context.Context, id string, in records.SessionInput) (records.Session, error) {
	var ses records.Session
	if err := c.do(ctx, http.MethodPut, "/sessions/"+url.PathEscape(id), in, &ses); err != nil {
		return records.Session{}, err
	}
	return ses, nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (records.Session, error) {
	var ses records.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &ses); err != nil {
		return records.Session{}, err
	}
	return ses, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// CreateEncounter stores a finalized encounter.
func (c *Client) CreateEncounter(ctx context.Context, in records.EncounterInput) (records.EncounterRecord, error) {
	var rec records.EncounterRecord
	if err := c.do(ctx, http.MethodPost, "/encounters", in, &rec); err != nil {
		return records.EncounterRecord{}, err
	}
	return rec, nil
}

// ListEncounters fetches a patient's finalized encounters.
func (c *Client) ListEncounters(ctx context.Context, patientID string) ([]records.EncounterRecord, error) {
	var recs []records.EncounterRecord
	path := "/patients/" + url.PathEscape(patientID) + "/encounters"
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// do runs one backend request with rate limiting and retries.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	// One idempotency key per logical write, held across retries so the
	// backend can deduplicate a retried create.
	var idempotencyKey string
	if method != http.MethodGet {
		idempotencyKey = uuid.New().String()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.logger.Debug("retrying backend request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt))
		}

		err := c.doRequest(ctx, method, path, payload, idempotencyKey, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request against the backend.
func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte, idempotencyKey string, out any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("backend request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return records.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("backend error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable checks if an error should be retried.
func isRetryable(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if unwrapper, ok := e.(interface{ Unwrap() error }); ok {
			e = unwrapper.Unwrap()
		} else {
			break
		}
	}
	return false
}

// Ensure interface is implemented at compile time.
var _ records.RemoteClient = (*Client)(nil)
