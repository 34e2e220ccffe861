// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/photocast/internal/cache"
	"github.com/ManuGH/photocast/internal/cast"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/ManuGH/photocast/internal/source"
	"github.com/ManuGH/photocast/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const baseURL = "http://photocast.test:8080"

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// receiver records every URL loaded on it.
type receiver struct {
	mu    sync.Mutex
	loads []string
}

func (r *receiver) Dial(context.Context, config.DeviceConfig) (cast.Transport, error) {
	return &receiverConn{r: r}, nil
}

func (r *receiver) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loads...)
}

type receiverConn struct{ r *receiver }

func (c *receiverConn) Connect(ctx context.Context) error { return ctx.Err() }
func (c *receiverConn) Load(_ context.Context, url, _ string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.loads = append(c.r.loads, url)
	return nil
}
func (c *receiverConn) Status(context.Context) (cast.DeviceStatus, error) {
	return cast.DeviceStatus{PlayerState: "PLAYING"}, nil
}
func (c *receiverConn) Close() error { return nil }

// gatedSource blocks List until released.
type gatedSource struct {
	*testutil.MemorySource
	gate chan struct{}
}

func (g *gatedSource) List(ctx context.Context) ([]source.Entry, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemorySource.List(ctx)
}

type fixture struct {
	engine  *Engine
	src     *testutil.MemorySource
	catalog *catalog.Catalog
	dev     *receiver
	export  string
}

func newFixture(t *testing.T, conn source.Connector, src *testutil.MemorySource) *fixture {
	t.Helper()
	if conn == nil {
		conn = src
	}
	conns := []source.Connector{conn}
	cat := catalog.New(catalog.Options{Prober: catalog.ImageProber{}, RetryBudget: 3, Now: func() time.Time { return epoch }})
	lru, err := cache.NewLRU(16)
	require.NoError(t, err)

	var eng *Engine
	renderer := render.New(render.Options{
		Connectors: conns,
		Cache:      lru,
		Reporter:   render.ReporterFunc(func(a catalog.Asset, reason string) { eng.MarkUnusable(a, reason) }),
	})
	host := cast.NewFrameHost(baseURL)
	dev := &receiver{}
	display := config.DisplayConfig{MaxLongEdge: 64, JPEGQuality: 80, IntervalSeconds: 3600}
	sessions := cast.NewManager(
		[]config.DeviceConfig{{Name: "kitchen"}, {Name: "hall"}},
		func(d config.DeviceConfig) render.Profile { return render.ProfileFor(display, d) },
		cast.Timing{Interval: time.Hour, HeartbeatInterval: time.Hour, DeviceTimeout: time.Second},
		cast.Deps{Dialer: dev, Renderer: renderer, Host: host},
	)
	exportPath := filepath.Join(t.TempDir(), "playlist.m3u")
	seed := int64(1)
	eng = New(Options{
		Connectors: conns,
		Catalog:    cat,
		Renderer:   renderer,
		Sessions:   sessions,
		Host:       host,
		Filters:    playlist.Filters{Order: playlist.OrderSequential, Seed: &seed},
		Profile:    render.DefaultProfile(display),
		Export: &Exporter{
			Path:         exportPath,
			SlideSeconds: display.IntervalSeconds,
			ImageURL:     func(id string) string { return baseURL + "/image/" + id + ".jpg" },
		},
		Now: func() time.Time { return epoch.Add(time.Minute) },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, eng.Close(ctx))
	})
	return &fixture{engine: eng, src: src, catalog: cat, dev: dev, export: exportPath}
}

func photos(t *testing.T, names ...string) *testutil.MemorySource {
	t.Helper()
	src := testutil.NewMemorySource("home")
	for i, n := range names {
		src.Put(n, testutil.JPEG(t, 40, 30), epoch.Add(time.Duration(i)*time.Hour))
	}
	return src
}

func (f *fixture) waitLoads(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.dev.Loads()) >= n }, 5*time.Second, 5*time.Millisecond)
	return f.dev.Loads()
}

func TestStartIndexesWhenNeverPopulated(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg", "b.jpg"))
	assert.False(t, f.engine.Ready())

	st, err := f.engine.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, f.engine.Ready())
	assert.True(t, st.Running)
	assert.Equal(t, uint64(1), st.Catalog.Generation)
	require.NotNil(t, st.Playlist)
	assert.Equal(t, 2, st.Playlist.Length)
	assert.Equal(t, playlist.OrderSequential, st.Playlist.Order)

	loads := f.waitLoads(t, 2)
	for _, u := range loads {
		assert.True(t, strings.HasPrefix(u, baseURL+"/frames/"), u)
	}
	require.Eventually(t, func() bool {
		for _, s := range f.engine.Status().Targets {
			if s.State != cast.StatePlaying || s.CurrentPath != "a.jpg" {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStartIsReentrant(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))
	ctx := context.Background()

	first, err := f.engine.Start(ctx, "kitchen")
	require.NoError(t, err)
	f.waitLoads(t, 1)

	second, err := f.engine.Start(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, first.Playlist.ID, second.Playlist.ID)
	assert.Equal(t, 1, f.src.Lists(), "no second reindex")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.dev.Loads(), 1, "active target left alone")
}

func TestStartUnknownTarget(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))

	st, err := f.engine.Start(context.Background(), "kitchen", "garage")
	require.ErrorIs(t, err, ErrUnknownTarget)
	assert.False(t, st.Running)
	assert.Equal(t, 0, f.src.Lists(), "nothing touched")
	for _, s := range st.Targets {
		assert.Equal(t, cast.StateDiscovered, s.State)
	}
}

func TestStopPauseResumeNext(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg", "b.jpg"))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, "kitchen")
	require.NoError(t, err)
	f.waitLoads(t, 1)

	st, err := f.engine.Pause(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, cast.StatePaused, st.Targets[0].State)

	// Resume shows the next asset straight away, Next the one after it.
	current := func() string { return f.engine.Status().Targets[0].CurrentPath }
	_, err = f.engine.Resume(ctx, "kitchen")
	require.NoError(t, err)
	f.waitLoads(t, 2)
	require.Eventually(t, func() bool { return current() == "b.jpg" }, 5*time.Second, 5*time.Millisecond)

	_, err = f.engine.Next(ctx, "kitchen")
	require.NoError(t, err)
	f.waitLoads(t, 3)
	require.Eventually(t, func() bool { return current() == "a.jpg" }, 5*time.Second, 5*time.Millisecond)

	st, err = f.engine.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, cast.StateDisconnected, st.Targets[0].State)

	_, err = f.engine.Pause(ctx, "garage")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestReindexCoalesces(t *testing.T) {
	src := photos(t, "a.jpg")
	gated := &gatedSource{MemorySource: src, gate: make(chan struct{})}
	f := newFixture(t, gated, src)

	assert.True(t, f.engine.Reindex())
	require.Eventually(t, func() bool { return f.engine.Status().Reindex.InFlight }, time.Second, time.Millisecond)
	assert.False(t, f.engine.Reindex(), "joined the pass in flight")

	ch := f.engine.reindexAsync()
	close(gated.gate)
	res := <-ch
	require.NoError(t, res.Err)

	assert.Equal(t, 1, src.Lists())
	st := f.engine.Status()
	assert.False(t, st.Reindex.InFlight)
	assert.Equal(t, uint64(1), st.Catalog.Generation)
	require.NotNil(t, st.Playlist)
	assert.Equal(t, 1, st.Playlist.Length)
	assert.False(t, st.Reindex.LastFinished.IsZero())
}

func TestReindexStagesOnActiveSessions(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))
	ctx := context.Background()

	first, err := f.engine.Start(ctx)
	require.NoError(t, err)
	f.waitLoads(t, 2)

	f.src.Put("b.jpg", testutil.JPEG(t, 40, 30), epoch.Add(2*time.Hour))
	res := <-f.engine.reindexAsync()
	require.NoError(t, res.Err)

	st := f.engine.Status()
	require.NotNil(t, st.Playlist)
	assert.NotEqual(t, first.Playlist.ID, st.Playlist.ID)
	assert.Equal(t, 2, st.Playlist.Length)
	for _, s := range st.Targets {
		assert.Equal(t, first.Playlist.ID, s.PlaylistID, "old playlist until wrap")
		assert.Equal(t, st.Playlist.ID, s.StagedPlaylist)
		assert.Equal(t, 1, s.PlaylistLength)
	}
}

func TestSourceFailureCounted(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))
	require.NoError(t, (<-f.engine.reindexAsync()).Err)

	f.src.FailList(true)
	require.NoError(t, (<-f.engine.reindexAsync()).Err)

	st := f.engine.Status()
	assert.Equal(t, int64(1), st.Failures.Source)
	require.Len(t, st.Catalog.Sources, 1)
	assert.Equal(t, catalog.SourceUnavailable, st.Catalog.Sources[0].Status)
	assert.Equal(t, 1, st.Catalog.Usable, "assets carried forward")
}

func TestMarkUnusableAffectsNextPlaylist(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg", "b.jpg"))
	require.NoError(t, (<-f.engine.reindexAsync()).Err)
	before := f.engine.Playlist()
	require.Equal(t, 2, before.Len())

	a, ok := f.catalog.Current().Lookup(catalog.Key{SourceID: "home", Path: "a.jpg"})
	require.True(t, ok)
	f.engine.MarkUnusable(a, "decode: truncated")

	require.NoError(t, (<-f.engine.reindexAsync()).Err)
	assert.Equal(t, 2, before.Len(), "built playlist unchanged")
	after := f.engine.Playlist()
	require.Equal(t, 1, after.Len())
	assert.Equal(t, "b.jpg", after.At(0).Path)
	assert.Equal(t, int64(1), f.engine.Status().Failures.Decode)
}

func TestImageAndFrame(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))
	ctx := context.Background()
	require.NoError(t, (<-f.engine.reindexAsync()).Err)

	id := catalog.Key{SourceID: "home", Path: "a.jpg"}.ID()
	frame, err := f.engine.Image(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, render.ContentType, frame.ContentType)
	assert.Equal(t, 40, frame.Width)

	_, err = f.engine.Image(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	cached, ok := f.engine.Frame(ctx, frame.Key)
	require.True(t, ok)
	assert.Equal(t, frame.Data, cached.Data)

	_, ok = f.engine.Frame(ctx, "missing")
	assert.False(t, ok)
}

func TestPlaylistExport(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg", "b.jpg"))

	var buf bytes.Buffer
	ok, err := f.engine.WritePlaylist(&buf)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, (<-f.engine.reindexAsync()).Err)

	ok, err = f.engine.WritePlaylist(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, `#EXTINF:3600 group-title="home",a.jpg`, lines[1])
	assert.Equal(t, baseURL+"/image/"+catalog.Key{SourceID: "home", Path: "a.jpg"}.ID()+".jpg", lines[2])

	onDisk, err := os.ReadFile(f.export)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(onDisk))
}

func TestStartAfterClose(t *testing.T) {
	f := newFixture(t, nil, photos(t, "a.jpg"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.engine.Close(ctx))

	_, err := f.engine.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
