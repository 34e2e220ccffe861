// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func restoreGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewProvider_DisabledInstallsNoop(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := NewProvider(context.Background(), config.TelemetryConfig{Exporter: "grpc"}, "v0.1.0")
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer("photocast/test").Start(context.Background(), "render.frame")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProvider_RejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "photocast",
		Exporter:    "zipkin",
	}, "v0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"zipkin"`)
}

func TestNewProvider_HTTPExporterRecordsSpans(t *testing.T) {
	restoreGlobalProvider(t)

	// The OTLP exporter connects lazily; nothing is sent before the first batch.
	p, err := NewProvider(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "photocast",
		Exporter:     "http",
		Endpoint:     "127.0.0.1:4318",
		SamplingRate: 1,
	}, "v0.1.0")
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, span := Tracer("photocast/test").Start(context.Background(), "catalog.reindex")
	assert.True(t, span.IsRecording())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := sampler(tt.rate).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, "root:"+tt.want, "rate %v", tt.rate)
	}
}

func TestProvider_ShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
