// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{name: "background context", ctx: context.Background(), id: "req-2"},
		{name: "empty id", ctx: context.Background(), id: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.id)
			assert.Equal(t, tt.id, RequestIDFromContext(ctx))
		})
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Version: "test"})

	ctx := ContextWithTargetID(ContextWithRequestID(context.Background(), "abc"), "living-room")
	l := WithComponentFromContext(ctx, "cast")
	l.Info().Str(FieldEvent, "probe").Msg("hello")

	got := lastLine(t, &buf)
	assert.Equal(t, "abc", got[FieldRequestID])
	assert.Equal(t, "living-room", got[FieldTargetID])
	assert.Equal(t, "cast", got[FieldComponent])
	assert.Equal(t, "photocast", got["service"])
	assert.Equal(t, "test", got["version"])
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "info", Output: &buf})

	l := WithContext(context.Background(), WithComponent("x"))
	l.Info().Msg("plain")

	got := lastLine(t, &buf)
	_, hasReq := got[FieldRequestID]
	assert.False(t, hasReq)
}

func TestConfigureIsFirstWins(t *testing.T) {
	var first, second bytes.Buffer
	Reconfigure(Config{Level: "info", Output: &first})
	Configure(Config{Level: "info", Output: &second})

	logger := WithComponent("test")
	logger.Info().Msg("one")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf})

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("x"))
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/start", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := lastLine(t, &buf)
	assert.Equal(t, "request.handled", got[FieldEvent])
	assert.Equal(t, float64(http.StatusTeapot), got["status"])
	assert.Equal(t, "warn", got["level"])
	assert.Equal(t, "/api/start", got[FieldPath])
}

func TestLevelFallsBackToEnvThenInfo(t *testing.T) {
	t.Setenv(envLevel, "warn")
	assert.Equal(t, "warn", parseLevel(Config{}).String())
	assert.Equal(t, "debug", parseLevel(Config{Level: "debug"}).String())

	t.Setenv(envLevel, "")
	assert.Equal(t, "info", parseLevel(Config{}).String())
	assert.Equal(t, "info", parseLevel(Config{Level: "loud"}).String())
}
