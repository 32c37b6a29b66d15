// Package telemetry provides OpenTelemetry instrumentation for recall.
//
// # Overview
//
// This package wires distributed tracing and metrics through the
// OpenTelemetry Go SDK, exporting over OTLP to a collector. Everything
// is off by default: indexing a personal conversation log does not need
// a collector, and the global no-op providers cost nothing. Enabling
// telemetry installs real providers globally, so the per-package
// otel.Tracer and otel.Meter handles pick them up unchanged.
//
// # Usage
//
// Create a telemetry instance from configuration:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, "recalld", version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"
//	  sample_rate: 1.0
//	  metrics_enabled: true
//	  export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures never take the process down. If an exporter cannot
// be built, the instance degrades to the no-op providers and indexing
// continues without instrumentation.
//
// # Testing
//
// Use TestTelemetry for in-memory span and metric capture:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
