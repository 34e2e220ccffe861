// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package render turns catalog assets into display-ready JPEG frames.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/ManuGH/photocast/internal/cache"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/metrics"
	"github.com/ManuGH/photocast/internal/source"
	"github.com/ManuGH/photocast/internal/telemetry"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/singleflight"
)

const (
	// ContentType of every rendered frame.
	ContentType = "image/jpeg"

	renderTimeout = 2 * time.Minute
	storeTimeout  = 3 * time.Second
)

// Frame is an encoded, display-ready image.
type Frame struct {
	Key         string
	AssetID     string
	Data        []byte
	Width       int
	Height      int
	ContentType string
	RenderedAt  time.Time // zero when served from a cache
}

// Reporter receives content failures so the asset leaves future playlists.
type Reporter interface {
	MarkUnusable(a catalog.Asset, reason string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(a catalog.Asset, reason string)

func (f ReporterFunc) MarkUnusable(a catalog.Asset, reason string) { f(a, reason) }

// Options configures a Renderer.
type Options struct {
	Connectors []source.Connector
	Converter  catalog.Converter // camera-native formats; optional
	Cache      cache.FrameCache  // nil disables the memory cache
	Store      cache.Store       // optional second level
	Reporter   Reporter          // optional
	Now        func() time.Time
}

// Renderer produces frames, deduplicating concurrent renders of one key.
type Renderer struct {
	conns     map[string]source.Connector
	converter catalog.Converter
	cache     cache.FrameCache
	store     cache.Store
	reporter  Reporter
	now       func() time.Time
	logger    zerolog.Logger

	group singleflight.Group
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	conns := make(map[string]source.Connector, len(opts.Connectors))
	for _, c := range opts.Connectors {
		conns[c.ID()] = c
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNoOpCache()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Renderer{
		conns:     conns,
		converter: opts.Converter,
		cache:     opts.Cache,
		store:     opts.Store,
		reporter:  opts.Reporter,
		now:       opts.Now,
		logger:    log.WithComponent("render"),
	}
}

// CacheStats returns the memory cache counters.
func (r *Renderer) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Cached returns a frame by key from the caches without rendering.
func (r *Renderer) Cached(ctx context.Context, key string) (*Frame, bool) {
	if data, ok := r.cache.Get(key); ok {
		if f, err := frameFromBytes(key, "", data); err == nil {
			return f, true
		}
	}
	if r.store == nil {
		return nil, false
	}
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	f, err := frameFromBytes(key, "", data)
	if err != nil {
		return nil, false
	}
	_ = r.cache.Put(key, data)
	return f, true
}

// Render returns the frame of a under profile p, from cache when possible.
func (r *Renderer) Render(ctx context.Context, a catalog.Asset, p Profile) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	key := FrameKey(a, p)

	if data, ok := r.cache.Get(key); ok {
		if f, err := frameFromBytes(key, a.ID(), data); err == nil {
			metrics.ObserveRender("hit", time.Since(start))
			return f, nil
		}
		r.cache.Remove(key)
	}

	ch := r.group.DoChan(key, func() (any, error) {
		// Shared by every waiter; one caller going away must not abort it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()
		return r.produce(rctx, key, a, p)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.ObserveRender("error", time.Since(start))
			return nil, res.Err
		}
		out := res.Val.(produced)
		metrics.ObserveRender(out.outcome, time.Since(start))
		return out.frame, nil
	}
}

type produced struct {
	frame   *Frame
	outcome string
}

func (r *Renderer) produce(ctx context.Context, key string, a catalog.Asset, p Profile) (produced, error) {
	if r.store != nil {
		data, err := r.store.Get(ctx, key)
		switch {
		case err == nil:
			if f, ferr := frameFromBytes(key, a.ID(), data); ferr == nil {
				r.install(key, data)
				return produced{frame: f, outcome: "l2_hit"}, nil
			}
		case !errors.Is(err, cache.ErrNotFound):
			logger := log.WithContext(ctx, r.logger)
			logger.Warn().Err(err).Str(log.FieldEvent, "render.store_get_failed").
				Str("key", key).Msg("frame store lookup failed")
		}
	}

	ctx, span := telemetry.Tracer("photocast/render").Start(ctx, "render.frame")
	defer span.End()
	span.SetAttributes(telemetry.AssetAttributes(a.SourceID, a.Path)...)

	f, err := r.renderFresh(ctx, key, a, p)
	if err != nil {
		span.RecordError(err)
		errType := "fetch"
		if IsDecode(err) {
			errType = "decode"
		}
		span.SetAttributes(telemetry.ErrorAttributes(err, errType)...)
		span.SetStatus(codes.Error, err.Error())
		r.reportFailure(a, err)
		return produced{}, err
	}
	span.SetAttributes(telemetry.RenderAttributes(p.Key(), "rendered", len(f.Data))...)
	r.install(key, f.Data)
	if r.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		if err := r.store.Put(sctx, key, f.Data); err != nil {
			logger := log.WithContext(ctx, r.logger)
			logger.Warn().Err(err).Str(log.FieldEvent, "render.store_put_failed").
				Str("key", key).Msg("frame store write failed")
		}
		cancel()
	}
	return produced{frame: f, outcome: "rendered"}, nil
}

func (r *Renderer) install(key string, data []byte) {
	if err := r.cache.Put(key, data); errors.Is(err, cache.ErrCacheFull) {
		r.logger.Debug().Str(log.FieldEvent, "render.cache_evicted").Str("key", key).Msg("frame cache full, evicted oldest frame")
	}
}

func (r *Renderer) reportFailure(a catalog.Asset, err error) {
	logger := r.logger.With().Str(log.FieldSourceID, a.SourceID).Str(log.FieldPath, a.Path).Logger()
	if !IsDecode(err) {
		logger.Warn().Err(err).Str(log.FieldEvent, "render.fetch_failed").Msg("could not fetch asset")
		return
	}
	metrics.IncDecodeFailure()
	logger.Warn().Err(err).Str(log.FieldEvent, "render.decode_failed").Msg("asset could not be decoded")
	if r.reporter != nil {
		r.reporter.MarkUnusable(a, err.Error())
	}
}

func (r *Renderer) renderFresh(ctx context.Context, key string, a catalog.Asset, p Profile) (*Frame, error) {
	img, err := r.decode(ctx, a)
	if err != nil {
		return nil, err
	}

	var canvas *image.NRGBA
	if p.MaxLongEdge > 0 {
		// Fit never enlarges an image already inside the box.
		canvas = imaging.Fit(img, p.MaxLongEdge, p.MaxLongEdge, imaging.Lanczos)
	} else {
		canvas = imaging.Clone(img)
	}
	if p.Caption {
		drawCaption(canvas, CaptionText(p.CaptionFormat, a))
	}

	quality := p.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, &Error{Key: a.Key(), Op: "encode", Err: err}
	}
	b := canvas.Bounds()
	return &Frame{
		Key:         key,
		AssetID:     a.ID(),
		Data:        buf.Bytes(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		ContentType: ContentType,
		RenderedAt:  r.now(),
	}, nil
}

// decode fetches the whole asset before decoding so a broken transfer is never
// mistaken for broken content.
func (r *Renderer) decode(ctx context.Context, a catalog.Asset) (image.Image, error) {
	conn, ok := r.conns[a.SourceID]
	if !ok {
		return nil, &Error{Key: a.Key(), Op: "fetch", Err: fmt.Errorf("%w: source %q not configured", source.ErrSourceUnavailable, a.SourceID)}
	}
	locator := a.Locator
	if locator == "" {
		locator = a.Path
	}
	rc, err := conn.Open(ctx, locator)
	if err != nil {
		return nil, &Error{Key: a.Key(), Op: "fetch", Err: err}
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, &Error{Key: a.Key(), Op: "fetch", Err: fmt.Errorf("%w: read %s: %w", source.ErrSourceUnavailable, a.Path, err)}
	}

	if catalog.NeedsConversion(a.Path) {
		if r.converter == nil {
			return nil, &Error{Key: a.Key(), Op: "decode", Err: fmt.Errorf("%w: no converter for %s", ErrDecode, a.Path)}
		}
		data, err = r.converter.ToJPEG(ctx, bytes.NewReader(data))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Key: a.Key(), Op: "fetch", Err: ctx.Err()}
			}
			return nil, &Error{Key: a.Key(), Op: "decode", Err: fmt.Errorf("%w: %w", ErrDecode, err)}
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &Error{Key: a.Key(), Op: "decode", Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return img, nil
}

func frameFromBytes(key, assetID string, data []byte) (*Frame, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Frame{
		Key:         key,
		AssetID:     assetID,
		Data:        data,
		Width:       cfg.Width,
		Height:      cfg.Height,
		ContentType: ContentType,
	}, nil
}
