// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ManuGH/photocast/internal/api"
	"github.com/ManuGH/photocast/internal/cache"
	"github.com/ManuGH/photocast/internal/cast"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/daemon"
	"github.com/ManuGH/photocast/internal/engine"
	"github.com/ManuGH/photocast/internal/health"
	"github.com/ManuGH/photocast/internal/infra/ffmpeg"
	plog "github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/ManuGH/photocast/internal/source"
)

type closer struct {
	name  string
	close daemon.ShutdownHook
}

// runtime is the assembled object graph of one daemon process.
type runtime struct {
	engine  *engine.Engine
	watcher daemon.Runner // nil without local sources or when watching is off
	handler http.Handler
	closers []closer
}

func filtersFrom(f config.FilterConfig) playlist.Filters {
	return playlist.Filters{
		MinWidth:   f.MinWidth,
		MinHeight:  f.MinHeight,
		MaxAgeDays: f.MaxAgeDays,
		Order:      playlist.Order(f.Order),
		Seed:       f.Seed,
	}
}

func timingFrom(cfg config.AppConfig) cast.Timing {
	return cast.Timing{
		Interval:          time.Duration(cfg.Display.IntervalSeconds) * time.Second,
		HeartbeatInterval: cfg.Cast.HeartbeatInterval,
		DeviceTimeout:     cfg.Cast.DeviceTimeout,
		Backoff: cast.BackoffConfig{
			Initial: cfg.Cast.BackoffInitial,
			Max:     cfg.Cast.BackoffMax,
		},
	}
}

func imageURL(base string) func(string) string {
	return func(assetID string) string {
		return base + "/image/" + assetID + ".jpg"
	}
}

// wire builds every component from cfg. On error the stores opened so far are
// closed again.
func wire(ctx context.Context, cfg config.AppConfig) (rt *runtime, err error) {
	rt = &runtime{}
	defer func() {
		if err == nil {
			return
		}
		for i := len(rt.closers) - 1; i >= 0; i-- {
			_ = rt.closers[i].close(context.Background())
		}
	}()
	addCloser := func(name string, fn func() error) {
		rt.closers = append(rt.closers, closer{name: name, close: func(context.Context) error { return fn() }})
	}

	conns, err := source.BuildAll(cfg.Sources)
	if err != nil {
		return rt, fmt.Errorf("build sources: %w", err)
	}

	dataDir := cfg.Storage.DataDir
	store, err := catalog.NewStore(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return rt, fmt.Errorf("open catalog store: %w", err)
	}
	addCloser("catalog-store", store.Close)

	converter := ffmpeg.NewConverter(cfg.FFmpeg.Bin, cfg.FFmpeg.Timeout, plog.WithComponent("ffmpeg"))
	cat := catalog.New(catalog.Options{
		Prober:       catalog.ImageProber{Converter: converter},
		Store:        store,
		RetryBudget:  cfg.Catalog.RetryBudget,
		ProbeWorkers: cfg.Catalog.ProbeWorkers,
	})

	lru, err := cache.NewLRU(cfg.Cache.MaxEntries)
	if err != nil {
		return rt, fmt.Errorf("frame cache: %w", err)
	}
	frameStore, err := cache.OpenStore(cfg.Cache)
	if err != nil {
		return rt, err
	}
	if frameStore != nil {
		addCloser("frame-store", frameStore.Close)
	}

	var eng *engine.Engine
	renderer := render.New(render.Options{
		Connectors: conns,
		Converter:  converter,
		Cache:      lru,
		Store:      frameStore,
		Reporter:   render.ReporterFunc(func(a catalog.Asset, reason string) { eng.MarkUnusable(a, reason) }),
	})

	resume, err := cast.OpenResumeStore(filepath.Join(dataDir, "resume.json"))
	if err != nil {
		return rt, fmt.Errorf("open resume store: %w", err)
	}

	baseURL := cfg.Server.PublicBaseURL()
	host := cast.NewFrameHost(baseURL)
	display := cfg.Display
	sessions := cast.NewManager(
		cfg.Devices,
		func(d config.DeviceConfig) render.Profile { return render.ProfileFor(display, d) },
		timingFrom(cfg),
		cast.Deps{
			Dialer:   cast.NewChromecastDialer(ctx, cfg.Cast.DiscoveryTimeout),
			Renderer: renderer,
			Host:     host,
			Resume:   resume,
		},
	)

	eng = engine.New(engine.Options{
		Connectors: conns,
		Catalog:    cat,
		Renderer:   renderer,
		Sessions:   sessions,
		Host:       host,
		Filters:    filtersFrom(cfg.Filters),
		Profile:    render.DefaultProfile(display),
		Export: &engine.Exporter{
			Path:         filepath.Join(dataDir, "playlist.m3u"),
			SlideSeconds: display.IntervalSeconds,
			ImageURL:     imageURL(baseURL),
		},
	})
	rt.engine = eng

	if cfg.Catalog.Watch {
		if w := source.NewWatcher(conns, cfg.Catalog.WatchDebounce, eng.OnSourceChange); w != nil {
			rt.watcher = w
		}
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewIndexChecker(func() (time.Time, string) {
		st := eng.Status()
		return st.Catalog.CreatedAt, st.Reindex.LastError
	}, 0))
	hm.RegisterChecker(health.NewPingChecker("catalog_store", false, store.Ping))
	var framePing func(context.Context) error
	if frameStore != nil {
		framePing = frameStore.Ping
	}
	hm.RegisterChecker(health.NewPingChecker("frame_store", true, framePing))

	rt.handler = api.New(eng, hm, api.Config{
		TracingService: cfg.Telemetry.ServiceName,
		RateLimit:      cfg.Server.RateLimit,
	}).Handler()

	return rt, nil
}
