// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// defaultControlPerMinute applies when the configured limit is zero.
const defaultControlPerMinute = 30

// ControlRateLimit throttles the mutating control routes per client IP with
// a sliding one-minute window. perMinute <= 0 selects the default of 30.
func ControlRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = defaultControlPerMinute
	}
	return rateLimit(perMinute, time.Minute)
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			h := w.Header()
			h.Set("Content-Type", "application/json")
			h.Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many control requests"}`))
		}),
	)
}
