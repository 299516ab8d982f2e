// Package telemetry provides OpenTelemetry instrumentation for chartd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection
// using the OpenTelemetry Go SDK. It exports telemetry data to an OTEL
// Collector over OTLP (gRPC or HTTP).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.FromObservability(appCfg.Observability)
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("chartd.records")
//	ctx, span := tracer.Start(ctx, "records.create_patient")
//	defer span.End()
//
//	meter := tel.Meter("chartd.records")
//	counter, _ := meter.Int64Counter("chartd_records_operations_total")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  service_name: "chartd"
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op
// providers; Health() reports the reason.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
