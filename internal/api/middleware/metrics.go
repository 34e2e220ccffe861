// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "photocast_http_request_duration_seconds",
		Help:    "Latency of API and frame requests by route",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})

	requestsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photocast_http_requests_in_flight",
		Help: "Requests currently being served",
	})

	// Receivers pull every slide over HTTP, so image bytes are the bulk of traffic.
	imageBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocast_http_image_bytes_total",
		Help: "Bytes of JPEG payload written to receivers and clients",
	}, []string{"route"})
)

// route returns the chi pattern for r, or its raw path before routing.
func route(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Metrics records latency per route pattern and counts image bytes served.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestsActive.Inc()
			defer requestsActive.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			began := time.Now()
			next.ServeHTTP(rec, r)

			pattern := route(r)
			requestSeconds.
				WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status())).
				Observe(time.Since(began).Seconds())
			if rec.bytes > 0 && strings.HasSuffix(pattern, ".jpg") {
				imageBytes.WithLabelValues(pattern).Add(float64(rec.bytes))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
