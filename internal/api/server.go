// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api translates HTTP requests into engine commands. It holds no
// orchestration state of its own.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/ManuGH/photocast/internal/api/middleware"
	"github.com/ManuGH/photocast/internal/engine"
	"github.com/ManuGH/photocast/internal/health"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/go-chi/chi/v5"
)

// Controller is the engine surface the routes use.
type Controller interface {
	Start(ctx context.Context, targets ...string) (engine.Status, error)
	Stop(ctx context.Context, targets ...string) (engine.Status, error)
	Pause(ctx context.Context, targets ...string) (engine.Status, error)
	Resume(ctx context.Context, targets ...string) (engine.Status, error)
	Next(ctx context.Context, targets ...string) (engine.Status, error)
	Reindex() bool
	Status() engine.Status
	Image(ctx context.Context, assetID string) (*render.Frame, error)
	Frame(ctx context.Context, key string) (*render.Frame, bool)
	WritePlaylist(w io.Writer) (bool, error)
}

// Config selects the optional parts of the router.
type Config struct {
	TracingService string // empty disables tracing
	RateLimit      int    // control requests per minute per IP
}

// Server holds the HTTP routes.
type Server struct {
	ctl    Controller
	health *health.Manager
	cfg    Config
}

// New creates the API server. hm may be nil when probes are served elsewhere.
func New(ctl Controller, hm *health.Manager, cfg Config) *Server {
	return &Server{ctl: ctl, health: hm, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/playlist.m3u", s.handlePlaylist)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ControlRateLimit(s.cfg.RateLimit))
			r.Post("/start", s.handleCommand(s.ctl.Start))
			r.Post("/stop", s.handleCommand(s.ctl.Stop))
			r.Post("/pause", s.handleCommand(s.ctl.Pause))
			r.Post("/resume", s.handleCommand(s.ctl.Resume))
			r.Post("/next", s.handleCommand(s.ctl.Next))
			r.Post("/reindex", s.handleReindex)
		})
	})

	r.Get("/image/{assetID}.jpg", s.handleImage)
	r.Get("/frames/{key}.jpg", s.handleFrame)
	return r
}
