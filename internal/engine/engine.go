// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine is the control surface: it owns the catalog generation in
// use, the current playlist and the cast sessions, and serialises commands
// against them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/photocast/internal/cast"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/ManuGH/photocast/internal/source"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownTarget is returned when a command names a target that is not configured.
	ErrUnknownTarget = cast.ErrUnknownTarget
	// ErrUnknownAsset is returned for an asset id missing from the current generation.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Options wires an Engine.
type Options struct {
	Connectors []source.Connector
	Catalog    *catalog.Catalog
	Renderer   *render.Renderer
	Sessions   *cast.Manager
	Host       *cast.FrameHost
	Filters    playlist.Filters
	Profile    render.Profile // used for /image requests
	Export     *Exporter      // optional; also serves /api/playlist.m3u
	Now        func() time.Time
}

type reindexRecord struct {
	started  time.Time
	finished time.Time
	duration time.Duration
	err      string
}

// Engine is the single orchestration context of the daemon.
type Engine struct {
	conns    []source.Connector
	catalog  *catalog.Catalog
	renderer *render.Renderer
	sessions *cast.Manager
	host     *cast.FrameHost
	filters  playlist.Filters
	profile  render.Profile
	export   *Exporter
	now      func() time.Time
	logger   zerolog.Logger

	lifetime context.Context
	closeFn  context.CancelFunc

	group      singleflight.Group
	reindexing atomic.Bool

	sourceFailures atomic.Int64
	decodeFailures atomic.Int64

	mu       sync.RWMutex
	playlist *playlist.Playlist
	last     reindexRecord
}

// New creates an engine. Sessions started through it live until Close.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Engine{
		conns:    opts.Connectors,
		catalog:  opts.Catalog,
		renderer: opts.Renderer,
		sessions: opts.Sessions,
		host:     opts.Host,
		filters:  opts.Filters,
		profile:  opts.Profile,
		export:   opts.Export,
		now:      opts.Now,
		logger:   log.WithComponent("engine"),
		lifetime: lifetime,
		closeFn:  cancel,
	}
}

// MarkUnusable forwards a render failure to the catalog and counts it.
func (e *Engine) MarkUnusable(a catalog.Asset, reason string) {
	e.decodeFailures.Add(1)
	e.catalog.MarkUnusable(a, reason)
}

// Run restores persisted state, indexes once and blocks until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.catalog.Restore(ctx); err != nil {
		e.logger.Warn().Err(err).Str(log.FieldEvent, "engine.restore_failed").Msg("could not restore catalog, starting empty")
	}
	e.Reindex()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Close(shutdownCtx)
}

// Close stops every session and waits for background reindexing to end.
func (e *Engine) Close(ctx context.Context) error {
	err := e.sessions.Shutdown(ctx)
	e.closeFn()

	// Joining the reindex key waits for a pass still in flight.
	select {
	case <-e.group.DoChan("reindex", func() (any, error) { return nil, nil }):
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Start begins playback on the named targets, or on all of them. When nothing
// has been indexed yet it waits for the first reindex. Targets that are
// already active are left alone.
func (e *Engine) Start(ctx context.Context, targets ...string) (Status, error) {
	if e.lifetime.Err() != nil {
		return Status{}, ErrClosed
	}
	if _, err := e.sessions.Resolve(targets); err != nil {
		return e.Status(), err
	}

	pl, err := e.currentPlaylist(ctx)
	if err != nil {
		return e.Status(), err
	}
	e.logger.Info().Str(log.FieldEvent, "engine.start").Strs("targets", targets).
		Str(log.FieldPlaylistID, pl.ID).Int("length", pl.Len()).Msg("starting targets")
	err = e.sessions.Start(e.lifetime, targets, pl)
	return e.Status(), err
}

// currentPlaylist returns the playlist new sessions start on, building it on
// first use.
func (e *Engine) currentPlaylist(ctx context.Context) (*playlist.Playlist, error) {
	e.mu.RLock()
	pl := e.playlist
	e.mu.RUnlock()
	if pl != nil {
		return pl, nil
	}

	gen := e.catalog.Current()
	if gen == nil {
		ch := e.reindexAsync()
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, fmt.Errorf("initial reindex: %w", res.Err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		gen = e.catalog.Current()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playlist != nil {
		return e.playlist, nil
	}
	built, err := playlist.Build(e.catalog, gen, e.filters, e.now())
	if err != nil {
		return nil, err
	}
	e.playlist = built
	e.exportPlaylist(built)
	return built, nil
}

// Stop ends playback on the named targets, or on all of them.
func (e *Engine) Stop(ctx context.Context, targets ...string) (Status, error) {
	err := e.sessions.Stop(ctx, targets)
	e.logger.Info().Str(log.FieldEvent, "engine.stop").Strs("targets", targets).Msg("stopped targets")
	return e.Status(), err
}

// Pause holds the current frame on the named targets.
func (e *Engine) Pause(ctx context.Context, targets ...string) (Status, error) {
	err := e.sessions.Pause(ctx, targets)
	return e.Status(), err
}

// Resume continues paused targets.
func (e *Engine) Resume(ctx context.Context, targets ...string) (Status, error) {
	err := e.sessions.Resume(ctx, targets)
	return e.Status(), err
}

// Next skips the named targets to their next asset.
func (e *Engine) Next(ctx context.Context, targets ...string) (Status, error) {
	err := e.sessions.Next(ctx, targets)
	return e.Status(), err
}

// Reindex triggers a background reindex. It reports false when the request
// joined one already in flight.
func (e *Engine) Reindex() bool {
	fresh := !e.reindexing.Load()
	e.reindexAsync()
	return fresh
}

func (e *Engine) reindexAsync() <-chan singleflight.Result {
	return e.group.DoChan("reindex", func() (any, error) {
		e.reindexing.Store(true)
		defer e.reindexing.Store(false)
		return e.reindex(e.lifetime)
	})
}

func (e *Engine) reindex(ctx context.Context) (*catalog.Generation, error) {
	start := e.now()
	e.mu.Lock()
	e.last.started = start
	e.mu.Unlock()

	gen, err := e.catalog.Reindex(ctx, e.conns)

	rec := reindexRecord{started: start, finished: e.now()}
	rec.duration = rec.finished.Sub(start)
	if err != nil {
		rec.err = err.Error()
		e.mu.Lock()
		e.last = rec
		e.mu.Unlock()
		e.logger.Error().Err(err).Str(log.FieldEvent, "engine.reindex_failed").Msg("reindex failed")
		return nil, err
	}
	for _, s := range gen.Sources {
		if s.Status == catalog.SourceUnavailable {
			e.sourceFailures.Add(1)
		}
	}

	pl, err := playlist.Build(e.catalog, gen, e.filters, e.now())
	if err != nil {
		rec.err = err.Error()
		e.mu.Lock()
		e.last = rec
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.last = rec
	e.playlist = pl
	e.mu.Unlock()

	e.sessions.Stage(pl)
	e.exportPlaylist(pl)
	e.logger.Info().Str(log.FieldEvent, "engine.playlist_built").
		Uint64(log.FieldGeneration, gen.ID).Str(log.FieldPlaylistID, pl.ID).
		Int("length", pl.Len()).Msg("playlist rebuilt")
	return gen, nil
}

func (e *Engine) exportPlaylist(pl *playlist.Playlist) {
	if e.export == nil {
		return
	}
	if err := e.export.Write(pl); err != nil {
		e.logger.Warn().Err(err).Str(log.FieldEvent, "engine.export_failed").Msg("could not write playlist export")
	}
}

// Playlist returns the playlist new sessions would start on; nil before the
// first reindex.
func (e *Engine) Playlist() *playlist.Playlist {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.playlist
}

// Image renders an asset of the current generation with the default profile.
func (e *Engine) Image(ctx context.Context, assetID string) (*render.Frame, error) {
	a, ok := e.catalog.Current().ByID(assetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return e.renderer.Render(ctx, a, e.profile)
}

// Frame returns a frame published to a device, or a cached one.
func (e *Engine) Frame(ctx context.Context, key string) (*render.Frame, bool) {
	if f, ok := e.host.Get(key); ok {
		return f, true
	}
	return e.renderer.Cached(ctx, key)
}

// WritePlaylist writes the current playlist as M3U. It reports false when
// no playlist has been built yet.
func (e *Engine) WritePlaylist(w io.Writer) (bool, error) {
	pl := e.Playlist()
	if pl == nil || e.export == nil {
		return false, nil
	}
	return true, e.export.WriteTo(w, pl)
}

// Ready reports whether the catalog has been populated.
func (e *Engine) Ready() bool {
	return e.catalog.Current() != nil
}

// OnSourceChange is the watcher callback.
func (e *Engine) OnSourceChange() {
	if e.lifetime.Err() != nil {
		return
	}
	e.logger.Debug().Str(log.FieldEvent, "engine.source_changed").Msg("source change detected")
	e.Reindex()
}
