// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, patient, session)
//   - Defense-in-depth redaction of secrets and patient identifiers
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithPatientID(ctx, "pat_1712009992731_ab12cd34")
//	ctx = logging.WithSessionID(ctx, "ses_1712009993000_ef56ab78")
//	logger.Info(ctx, "draft persisted", zap.Duration("duration", d))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-25T10:15:30Z",
//	  "level": "info",
//	  "msg": "draft persisted",
//	  "trace_id": "abc123",
//	  "patient.id": "pat_1712009992731_ab12cd34",
//	  "session.id": "ses_1712009993000_ef56ab78",
//	  "duration": "45ms"
//	}
//
// # Redaction
//
// Log lines must never carry credentials or direct patient identifiers.
// Record IDs (pat_*, ses_*, enc_*) are pseudonymous and safe to log;
// names, birth dates, MRNs, phone numbers and the like are not.
// Redaction happens at multiple layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering (password, first_name, mrn, ...)
//  3. Encoder-level pattern matching (bearer tokens, SSN shapes)
//
// Use helpers for manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Sampling
//
// Level-aware sampling prevents log floods:
//   - Trace: first 1 per second, drop rest
//   - Debug: first 10 per second, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoSecrets(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
