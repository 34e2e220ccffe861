// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ManuGH/photocast/internal/cast"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/engine"
	"github.com/ManuGH/photocast/internal/health"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op      string
	targets []string
}

// fakeController records commands and serves canned frames.
type fakeController struct {
	mu       sync.Mutex
	calls    []call
	cmdErr   error
	inFlight bool
	playlist string
	frames   map[string]*render.Frame
	imageErr error
}

func (f *fakeController) record(op string, targets []string) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: op, targets: targets})
	return f.status(), f.cmdErr
}

func (f *fakeController) status() engine.Status {
	return engine.Status{
		Running: true,
		Targets: []cast.Snapshot{{Target: "kitchen", State: cast.StatePlaying, CurrentPath: "a.jpg"}},
		Reindex: engine.ReindexStatus{InFlight: f.inFlight},
	}
}

func (f *fakeController) Start(_ context.Context, t ...string) (engine.Status, error) {
	return f.record("start", t)
}
func (f *fakeController) Stop(_ context.Context, t ...string) (engine.Status, error) {
	return f.record("stop", t)
}
func (f *fakeController) Pause(_ context.Context, t ...string) (engine.Status, error) {
	return f.record("pause", t)
}
func (f *fakeController) Resume(_ context.Context, t ...string) (engine.Status, error) {
	return f.record("resume", t)
}
func (f *fakeController) Next(_ context.Context, t ...string) (engine.Status, error) {
	return f.record("next", t)
}

func (f *fakeController) Reindex() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fresh := !f.inFlight
	f.inFlight = true
	return fresh
}

func (f *fakeController) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status()
}

func (f *fakeController) Image(_ context.Context, id string) (*render.Frame, error) {
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	fr, ok := f.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownAsset, id)
	}
	return fr, nil
}

func (f *fakeController) Frame(_ context.Context, key string) (*render.Frame, bool) {
	fr, ok := f.frames[key]
	return fr, ok
}

func (f *fakeController) WritePlaylist(w io.Writer) (bool, error) {
	if f.playlist == "" {
		return false, nil
	}
	_, err := io.WriteString(w, f.playlist)
	return true, err
}

func newTestServer(t *testing.T, ctl *fakeController) *httptest.Server {
	t.Helper()
	hm := health.NewManager("test")
	srv := httptest.NewServer(New(ctl, hm, Config{RateLimit: 1000}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCommandRoutes(t *testing.T) {
	ctl := &fakeController{}
	srv := newTestServer(t, ctl)

	for _, op := range []string{"start", "stop", "pause", "resume", "next"} {
		resp := post(t, srv.URL+"/api/"+op, `{"devices":["kitchen"]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode, op)

		var body commandResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.OK)
		require.Len(t, body.Status.Targets, 1)
		assert.Equal(t, cast.StatePlaying, body.Status.Targets[0].State)
	}

	resp := post(t, srv.URL+"/api/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, ctl.calls, 6)
	assert.Equal(t, call{op: "start", targets: []string{"kitchen"}}, ctl.calls[0])
	assert.Equal(t, "next", ctl.calls[4].op)
	assert.Empty(t, ctl.calls[5].targets, "empty body means every target")
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed body", body: `{"devices":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"device":["x"]}`, status: http.StatusBadRequest},
		{name: "unknown target", body: `{"devices":["garage"]}`, err: fmt.Errorf("%w: garage", engine.ErrUnknownTarget), status: http.StatusNotFound},
		{name: "device failure is not a request failure", body: `{}`, err: fmt.Errorf("kitchen: %w", cast.ErrDeviceUnreachable), status: http.StatusOK},
		{name: "closed", body: `{}`, err: engine.ErrClosed, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeController{cmdErr: tt.err})
			resp := post(t, srv.URL+"/api/start", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestCommandPartialFailureReported(t *testing.T) {
	srv := newTestServer(t, &fakeController{cmdErr: errors.New("hall: device unreachable")})
	resp := post(t, srv.URL+"/api/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body commandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.OK)
	assert.Equal(t, "hall: device unreachable", body.Error)
}

func TestReindexCoalescedResponse(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	var first, second reindexResponse
	require.NoError(t, json.NewDecoder(post(t, srv.URL+"/api/reindex", "").Body).Decode(&first))
	require.NoError(t, json.NewDecoder(post(t, srv.URL+"/api/reindex", "").Body).Decode(&second))

	assert.True(t, first.Accepted)
	assert.False(t, first.Joined)
	assert.True(t, second.Accepted)
	assert.True(t, second.Joined)
	assert.True(t, second.Status.Reindex.InFlight)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, &fakeController{})
	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st engine.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Running)
	assert.Equal(t, "a.jpg", st.Targets[0].CurrentPath)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestPlaylistRoute(t *testing.T) {
	ctl := &fakeController{}
	srv := newTestServer(t, ctl)

	resp, err := http.Get(srv.URL + "/api/playlist.m3u")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "#EXTM3U\n", string(body), "empty before the first build")

	ctl.playlist = "#EXTM3U\n#EXTINF:10 group-title=\"home\",a.jpg\nhttp://x/image/1.jpg\n"
	resp, err = http.Get(srv.URL + "/api/playlist.m3u")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "audio/x-mpegurl", resp.Header.Get("Content-Type"))
	assert.Equal(t, ctl.playlist, string(body))
}

func TestFrameAndImageRoutes(t *testing.T) {
	frame := &render.Frame{Key: "abc-1920q88c", Data: []byte("\xff\xd8jpeg"), ContentType: render.ContentType}
	ctl := &fakeController{frames: map[string]*render.Frame{"abc-1920q88c": frame, "asset1": frame}}
	srv := newTestServer(t, ctl)

	for _, path := range []string{"/frames/abc-1920q88c.jpg", "/image/asset1.jpg"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
		assert.Equal(t, `"abc-1920q88c"`, resp.Header.Get("ETag"))
		assert.Equal(t, frame.Data, body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/frames/abc-1920q88c.jpg", nil)
	req.Header.Set("If-None-Match", `"abc-1920q88c"`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	for _, path := range []string{"/frames/nope.jpg", "/image/nope.jpg"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestImageRenderFailures(t *testing.T) {
	decodeErr := &render.Error{Key: catalog.Key{SourceID: "home", Path: "a.jpg"}, Op: "decode", Err: render.ErrDecode}
	srv := newTestServer(t, &fakeController{imageErr: decodeErr})
	resp, err := http.Get(srv.URL + "/image/a.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	srv = newTestServer(t, &fakeController{imageErr: errors.New("fetch: source unavailable")})
	resp, err = http.Get(srv.URL + "/image/a.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t, &fakeController{})
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestControlRoutesRejectGet(t *testing.T) {
	srv := newTestServer(t, &fakeController{})
	resp, err := http.Get(srv.URL + "/api/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
