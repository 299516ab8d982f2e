package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestContextFields_Empty(t *testing.T) {
	ctx := context.Background()
	fields := ContextFields(ctx)
	assert.Empty(t, fields)
}

func TestContextFields_OTELTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	fields := ContextFields(ctx)

	var hasTraceID, hasSpanID bool
	for _, f := range fields {
		if f.Key == "trace_id" {
			hasTraceID = true
			assert.NotEmpty(t, f.String, "trace_id should not be empty")
		}
		if f.Key == "span_id" {
			hasSpanID = true
			assert.NotEmpty(t, f.String, "span_id should not be empty")
		}
	}
	assert.True(t, hasTraceID, "trace_id field missing from context fields")
	assert.True(t, hasSpanID, "span_id field missing from context fields")
}

func TestContextFields_Patient(t *testing.T) {
	ctx := WithPatientID(context.Background(), "pat_1712009992731_ab12cd34")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "patient.id", "pat_1712009992731_ab12cd34")
}

func TestContextFields_Session(t *testing.T) {
	ctx := WithSessionID(context.Background(), "ses_123")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "session.id", "ses_123")
}

func TestContextFields_Request(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_456")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "request.id", "req_456")
}

func TestWithPatientID_RejectsInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "pat 123"},
		{"newline", "pat\n123"},
		{"too long", strings.Repeat("a", maxIDLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				WithPatientID(context.Background(), tt.id)
			})
		})
	}
}

func TestWithSessionID_RejectsInvalidIDs(t *testing.T) {
	assert.Panics(t, func() {
		WithSessionID(context.Background(), "")
	})
	assert.Panics(t, func() {
		WithSessionID(context.Background(), "ses;drop")
	})
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NotNil(t, logger)

	// Does not panic on use.
	logger.Info(context.Background(), "nop message")
}

func TestFromContext_RoundTrip(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)

	got := FromContext(ctx)
	assert.Same(t, tl.Logger, got)
}

func assertFieldExists(t *testing.T, fields []zap.Field, key, expected string) {
	t.Helper()
	for _, field := range fields {
		if field.Key == key && field.String == expected {
			return
		}
	}
	t.Errorf("field %q with value %q not found", key, expected)
}
