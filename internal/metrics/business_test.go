// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordCatalog(t *testing.T) {
	RecordCatalog(7, 10, 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(catalogGeneration))
	assert.Equal(t, 10.0, testutil.ToFloat64(catalogAssets.WithLabelValues("usable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(catalogAssets.WithLabelValues("unusable")))
}

func TestRecordSessionStateIsOneHot(t *testing.T) {
	states := []string{"connecting", "playing", "error"}
	RecordSessionState("tv", "playing", states)
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionState.WithLabelValues("tv", "playing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sessionState.WithLabelValues("tv", "error")))

	RecordSessionState("tv", "error", states)
	assert.Equal(t, 0.0, testutil.ToFloat64(sessionState.WithLabelValues("tv", "playing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionState.WithLabelValues("tv", "error")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(devicePushes.WithLabelValues("tv", "success"))
	IncDevicePush("tv", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(devicePushes.WithLabelValues("tv", "success")))

	RecordReindex("success", 20*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(reindexTotal.WithLabelValues("success")), 1.0)
}
