package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/recall/internal/config"
)

func TestNew_DisabledTelemetry(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: false}

	tel, err := New(context.Background(), cfg, "recall", "0.1.0")
	require.NoError(t, err)
	require.NotNil(t, tel)

	// Should return no-op providers
	tracer := tel.Tracer("test")
	assert.NotNil(t, tracer)

	meter := tel.Meter("test")
	assert.NotNil(t, meter)

	assert.False(t, tel.IsEnabled())
}

func TestNew_MissingEndpoint(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:    true,
		SampleRate: 1.0,
	}

	tel, err := New(context.Background(), cfg, "recall", "0.1.0")
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_MissingServiceName(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 1.0,
	}

	_, err := New(context.Background(), cfg, "", "0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name")
}

func TestNew_InsecureRemoteEndpoint(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "collector.example.com:4317",
		Insecure:   true,
		SampleRate: 1.0,
	}

	_, err := New(context.Background(), cfg, "recall", "0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure connections to remote endpoints")
}

func TestNew_SampleRateOutOfRange(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 1.5,
	}

	_, err := New(context.Background(), cfg, "recall", "0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_rate")
}

func TestTelemetry_Health(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, "recall", "0.1.0")
	require.NoError(t, err)

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.False(t, health.Degraded)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.Health()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_Shutdown(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, "recall", "0.1.0")
	require.NoError(t, err)

	err = tel.Shutdown(context.Background())
	require.NoError(t, err)

	health := tel.Health()
	assert.False(t, health.Healthy)
}

func TestTelemetry_ShutdownWithTimeout(t *testing.T) {
	cfg := config.TelemetryConfig{
		ShutdownGrace: config.Duration(100 * time.Millisecond),
	}

	tel, err := New(context.Background(), cfg, "recall", "0.1.0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = tel.Shutdown(ctx)
	require.NoError(t, err)
}

func TestTelemetry_ForceFlush_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, "recall", "0.1.0")
	require.NoError(t, err)

	err = tel.ForceFlush(context.Background())
	require.NoError(t, err)
}

func TestTestTelemetry_SpanRecording(t *testing.T) {
	tt := NewTestTelemetry()
	require.NotNil(t, tt)

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "test-span")
	span.SetAttributes(attribute.String("key", "value"))
	span.End()

	tt.AssertSpanExists(t, "test-span")
	tt.AssertSpanAttribute(t, "test-span", "key", "value")
}

func TestTestTelemetry_SpanNotFound(t *testing.T) {
	tt := NewTestTelemetry()

	span := tt.SpanByName("non-existent")
	assert.Nil(t, span)
}

func TestTestTelemetry_MultipleSpans(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")

	_, span1 := tracer.Start(context.Background(), "span1")
	span1.SetAttributes(attribute.Int64("count", 1))
	span1.End()

	_, span2 := tracer.Start(context.Background(), "span2")
	span2.SetAttributes(attribute.Int64("count", 2))
	span2.End()

	assert.Len(t, tt.Spans(), 2)
	tt.AssertSpanExists(t, "span1")
	tt.AssertSpanExists(t, "span2")

	tt.AssertSpanAttribute(t, "span1", "count", int64(1))
	tt.AssertSpanAttribute(t, "span2", "count", int64(2))
}

func TestTestTelemetry_SpanAttributeTypes(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "test-span")
	span.SetAttributes(
		attribute.String("string-key", "value"),
		attribute.Int64("int-key", 42),
		attribute.Float64("float-key", 3.14),
		attribute.Bool("bool-key", true),
	)
	span.End()

	tt.AssertSpanAttribute(t, "test-span", "string-key", "value")
	tt.AssertSpanAttribute(t, "test-span", "int-key", int64(42))
	tt.AssertSpanAttribute(t, "test-span", "float-key", 3.14)
	tt.AssertSpanAttribute(t, "test-span", "bool-key", true)
}

func TestTestTelemetry_MeterRecording(t *testing.T) {
	tt := NewTestTelemetry()
	require.NotNil(t, tt)

	meter := tt.Meter("test")
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)

	counter.Add(context.Background(), 1)
	counter.Add(context.Background(), 2)

	err = tt.MetricReader.ForceFlush(context.Background())
	require.NoError(t, err)

	metrics := tt.MetricReader.Metrics()
	assert.NotEmpty(t, metrics)
}

func TestTelemetry_ForceFlush_WithTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "flush-test")
	span.End()

	err := tt.ForceFlush(context.Background())
	require.NoError(t, err)
}

func TestTelemetry_ShutdownWithProviders(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "test-span")
	span.End()

	meter := tt.Meter("test")
	counter, _ := meter.Int64Counter("test.counter")
	counter.Add(context.Background(), 1)

	err := tt.Shutdown(context.Background())
	require.NoError(t, err)

	health := tt.Health()
	assert.False(t, health.Healthy)
}
