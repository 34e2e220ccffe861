// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Catalog metrics
	catalogAssets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "photocast_catalog_assets",
		Help: "Assets in the current catalog generation by usability",
	}, []string{"state"}) // state=usable|unusable

	catalogGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photocast_catalog_generation",
		Help: "Identifier of the current catalog generation",
	})

	reindexDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "photocast_reindex_duration_seconds",
		Help:    "Duration of catalog reindex passes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	reindexTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocast_reindex_total",
		Help: "Catalog reindex passes by outcome",
	}, []string{"outcome"}) // outcome=success|failure|cancelled

	sourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocast_source_failures_total",
		Help: "Source connector failures by source",
	}, []string{"source"})

	probeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocast_probe_failures_total",
		Help: "Assets whose header probe failed",
	})

	// Render metrics
	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "photocast_render_duration_seconds",
		Help:    "Frame render latency by outcome",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"outcome"}) // outcome=hit|l2_hit|rendered|error

	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocast_decode_failures_total",
		Help: "Assets that failed to decode during render",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocast_frame_cache_evictions_total",
		Help: "Frames evicted from the in-memory cache because it was full",
	})

	// Cast metrics
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "photocast_session_state",
		Help: "Current session state per target (1 for the active state)",
	}, []string{"target", "state"})

	devicePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocast_device_pushes_total",
		Help: "Frames pushed to devices by outcome",
	}, []string{"target", "outcome"}) // outcome=success|failure|skipped

	deviceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocast_device_reconnects_total",
		Help: "Reconnect attempts per target",
	}, []string{"target"})
)

func RecordCatalog(generation uint64, usable, unusable int) {
	catalogGeneration.Set(float64(generation))
	catalogAssets.WithLabelValues("usable").Set(float64(usable))
	catalogAssets.WithLabelValues("unusable").Set(float64(unusable))
}

func RecordReindex(outcome string, d time.Duration) {
	reindexTotal.WithLabelValues(outcome).Inc()
	reindexDuration.Observe(d.Seconds())
}

func IncSourceFailure(source string) { sourceFailures.WithLabelValues(source).Inc() }
func IncProbeFailure()               { probeFailures.Inc() }
func IncDecodeFailure()              { decodeFailures.Inc() }
func IncCacheEviction()              { cacheEvictions.Inc() }

func ObserveRender(outcome string, d time.Duration) {
	renderDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSessionState sets the gauge for state to 1 and every other known
// state of the target to 0.
func RecordSessionState(target, state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(target, s).Set(v)
	}
}

func IncDevicePush(target, outcome string) { devicePushes.WithLabelValues(target, outcome).Inc() }
func IncDeviceReconnect(target string)     { deviceReconnects.WithLabelValues(target).Inc() }
