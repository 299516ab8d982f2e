// internal/logging/integration_test.go
package logging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/verdanthealth/chartd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestIntegration_FullLoggingPipeline(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Format = "json"
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false
	cfg.Sampling.Enabled = false // Disable for predictable test

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer func() {
		_ = logger.Sync()
	}()

	ctx := WithPatientID(context.Background(), "pat_1712009992731_ab12cd34")
	ctx = WithSessionID(ctx, "ses_integration_123")
	ctx = WithRequestID(ctx, "req_456")

	// Log at all levels with various fields
	logger.Trace(ctx, "trace message", zap.String("detail", "ultra-verbose"))
	logger.Debug(ctx, "debug message", zap.String("cache", "hit"))
	logger.Info(ctx, "info message", zap.Duration("duration", 45*time.Millisecond))
	logger.Warn(ctx, "warn message", zap.Int("retry_attempt", 2))
	logger.Error(ctx, "error message", zap.Error(fmt.Errorf("test error")))

	// Secret redaction through an object marshaler
	logger.Info(ctx, "config loaded",
		zap.Object("backend", &testBackendConfig{
			BaseURL: "https://records.example.com/api",
			Token:   config.Secret("super-secret"),
		}),
	)

	child := logger.With(zap.String("component", "records"))
	child.Info(ctx, "child log")

	named := logger.Named("autosave")
	named.Info(ctx, "named log")

	// Sync may fail on stdout/stderr in some environments; we only
	// ensure no panic occurs.
	_ = logger.Sync()
}

// testBackendConfig for testing Secret marshaling
type testBackendConfig struct {
	BaseURL string
	Token   config.Secret
}

func (c *testBackendConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("base_url", c.BaseURL)
	if err := (&secretMarshaler{key: "token", val: c.Token}).MarshalLogObject(enc); err != nil {
		return err
	}
	return nil
}

func TestIntegration_ContextFieldInjection(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithPatientID(context.Background(), "pat_123")
	ctx = WithSessionID(ctx, "ses_123")

	tl.Info(ctx, "request", zap.String("method", "GET"))

	tl.AssertLogged(t, zapcore.InfoLevel, "request")
	tl.AssertField(t, "request", "patient.id", "pat_123")
	tl.AssertField(t, "request", "session.id", "ses_123")
	tl.AssertField(t, "request", "method", "GET")
}

func TestIntegration_SecretRedaction(t *testing.T) {
	tl := NewTestLogger()

	secret := config.Secret("my-secret-token")
	tl.Info(context.Background(), "auth",
		Secret("credentials", secret),
	)

	tl.AssertLogged(t, zapcore.InfoLevel, "auth")
	tl.AssertNoSecrets(t)
}
