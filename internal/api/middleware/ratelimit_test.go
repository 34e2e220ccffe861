// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func post(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BlocksPerClient(t *testing.T) {
	h := rateLimit(2, time.Second)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	assert.Equal(t, http.StatusOK, post(h, "/api/start", "192.168.1.1:1000").Code)
	assert.Equal(t, http.StatusOK, post(h, "/api/start", "192.168.1.1:1001").Code)

	blocked := post(h, "/api/start", "192.168.1.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "1", blocked.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", blocked.Header().Get("Content-Type"))

	// Another client has its own window.
	assert.Equal(t, http.StatusOK, post(h, "/api/start", "192.168.1.2:1000").Code)
}

func TestControlRateLimit_DefaultsToThirtyPerMinute(t *testing.T) {
	h := ControlRateLimit(0)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	for i := range defaultControlPerMinute {
		if code := post(h, "/api/next", "10.0.0.1:5000").Code; code != http.StatusOK {
			t.Fatalf("request %d: got %d", i+1, code)
		}
	}
	rec := post(h, "/api/next", "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
