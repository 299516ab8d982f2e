package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/config"
	"github.com/verdanthealth/chartd/internal/extensions"
	"github.com/verdanthealth/chartd/internal/records"
)

func testRemoteConfig(baseURL string) config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL:            baseURL,
		Token:              config.Secret("test-token"),
		Timeout:            2 * time.Second,
		MaxRetries:         0,
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RemoteConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     testRemoteConfig("http://localhost:8700/api"),
			wantErr: false,
		},
		{
			name:    "missing base URL",
			cfg:     config.RemoteConfig{},
			wantErr: true,
		},
		{
			name: "no auth configured is fine for local backends",
			cfg: config.RemoteConfig{
				BaseURL:            "http://localhost:8700/api",
				RateLimitPerSecond: 10,
				RateLimitBurst:     20,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(context.Background(), tt.cfg, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, client)
			} else {
				require.NoError(t, err)
				require.NotNil(t, client)
			}
		})
	}
}

func TestNew_NilLogger(t *testing.T) {
	client, err := New(context.Background(), testRemoteConfig("http://localhost:8700/api"), nil)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestClient_CreatePatient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/patients", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Greg", body["firstName"])
		assert.NotContains(t, body, "extensions")

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(records.PatientRecord{
			ID:        "pat_1712009992731_ab12cd34",
			FirstName: "Greg",
			LastName:  "House",
		})
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	rec, err := client.CreatePatient(context.Background(), records.PatientInput{
		FirstName:  "Greg",
		LastName:   "House",
		Extensions: extensions.Fields{"insurancePlan": "PPO"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pat_1712009992731_ab12cd34", rec.ID)
	assert.Equal(t, "Greg", rec.FirstName)
}

func TestClient_GetPatient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetPatient(context.Background(), "pat_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestClient_DeletePatient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	err = client.DeletePatient(context.Background(), "pat_missing")
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	var attempts int
	var keys []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()

		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(records.PatientRecord{ID: "pat_1", FirstName: "Greg"})
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.MaxRetries = 3
	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	rec, err := client.CreatePatient(context.Background(), records.PatientInput{FirstName: "Greg"})
	require.NoError(t, err)
	assert.Equal(t, "pat_1", rec.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	// Idempotency key must be stable across retries of one write
	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestClient_RetriesRateLimited(t *testing.T) {
	var mu sync.Mutex
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(records.Session{ID: "ses_1"})
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.MaxRetries = 2
	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ses, err := client.CreateSession(context.Background(), records.SessionInput{PatientID: "pat_1"})
	require.NoError(t, err)
	assert.Equal(t, "ses_1", ses.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var mu sync.Mutex
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"dateOfBirth is not a valid date"}`))
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.MaxRetries = 3
	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = client.CreatePatient(context.Background(), records.PatientInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend error (400)")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.MaxRetries = 1
	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetPatient(context.Background(), "pat_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.MaxRetries = 5
	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.GetPatient(ctx, "pat_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_UpdateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/sessions/ses_42", r.URL.Path)

		var in records.SessionInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, uint64(7), in.Seq)

		_ = json.NewEncoder(w).Encode(records.Session{ID: "ses_42", PatientID: in.PatientID, Seq: in.Seq})
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	ses, err := client.UpdateSession(context.Background(), "ses_42", records.SessionInput{
		PatientID: "pat_1",
		Seq:       7,
	})
	require.NoError(t, err)
	assert.Equal(t, "ses_42", ses.ID)
	assert.Equal(t, uint64(7), ses.Seq)
}

func TestClient_ListEncounters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/patients/pat_1/encounters", r.URL.Path)
		// Reads carry no idempotency key
		assert.Empty(t, r.Header.Get("Idempotency-Key"))

		_ = json.NewEncoder(w).Encode([]records.EncounterRecord{
			{ID: "enc_1", PatientID: "pat_1"},
			{ID: "enc_2", PatientID: "pat_1"},
		})
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	recs, err := client.ListEncounters(context.Background(), "pat_1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "enc_1", recs[0].ID)
}

func TestClient_ClientCredentialsFlow(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-granted-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-granted-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]records.PatientRecord{})
	}))
	defer apiServer.Close()

	cfg := config.RemoteConfig{
		BaseURL:            apiServer.URL,
		ClientID:           "chartd-daemon",
		ClientSecret:       config.Secret("shhh"),
		TokenURL:           tokenServer.URL + "/oauth/token",
		Timeout:            2 * time.Second,
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
	}

	client, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = client.ListPatients(context.Background())
	require.NoError(t, err)
}

func TestClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client, err := New(context.Background(), testRemoteConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetPatient(context.Background(), "pat_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestIsRetryable(t *testing.T) {
	retryable := &retryableError{err: fmt.Errorf("server error (503)")}
	assert.True(t, isRetryable(retryable))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", retryable)))
	assert.False(t, isRetryable(fmt.Errorf("plain error")))
	assert.False(t, isRetryable(nil))
}
