// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the process lifecycle: the HTTP servers, the engine
// loop, the source watcher and the ordered shutdown hooks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
)

// ShutdownHook releases a resource during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager runs the HTTP listeners and the shutdown sequence.
type Manager interface {
	// Start binds every listener and blocks until ctx ends or a server fails.
	Start(ctx context.Context) error

	// Shutdown drains the servers, then runs the hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook adds a hook; later hooks run first.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// listener is one bound HTTP server.
type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps
	logger    zerolog.Logger

	mu        sync.Mutex
	listeners []listener
	hooks     []namedHook
	started   bool
	stopping  bool
}

// detachedShutdownTimeout bounds the shutdown triggered from Start.
const detachedShutdownTimeout = 30 * time.Second

// NewManager validates deps and returns a Manager for serverCfg.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldEvent, "manager.starting").
		Str("listen", m.serverCfg.ListenAddr).
		Str("metrics_listen", m.deps.MetricsAddr).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	// Bind synchronously so an occupied port fails Start instead of a goroutine.
	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		if err := m.bind("metrics", m.deps.MetricsAddr, m.metricsServer()); err != nil {
			m.closeListeners()
			return err
		}
	}
	if err := m.bind("api", m.serverCfg.ListenAddr, m.apiServer()); err != nil {
		m.closeListeners()
		return err
	}

	errCh := make(chan error, len(m.listeners))
	for _, l := range m.listeners {
		go m.serve(l, errCh)
	}

	var cause error
	select {
	case cause = <-errCh:
		m.logger.Error().Err(cause).Str(log.FieldEvent, "manager.server_failed").Msg("server error, initiating shutdown")
	case <-ctx.Done():
		m.logger.Info().Str(log.FieldEvent, "manager.signal").Msg("shutdown signal received")
	}

	// The parent is already cancelled here; shutdown gets its own bounded context.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedShutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		if cause != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(cause, err))
		}
		return err
	}
	return cause
}

func (m *manager) apiServer() *http.Server {
	return &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}
}

func (m *manager) metricsServer() *http.Server {
	return &http.Server{
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
	}
}

func (m *manager) bind(name, addr string, srv *http.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s server: listen %s: %w", name, addr, err)
	}
	srv.Addr = ln.Addr().String()
	m.mu.Lock()
	m.listeners = append(m.listeners, listener{name: name, srv: srv, ln: ln})
	m.mu.Unlock()
	return nil
}

// boundAddr reports where the named server listens, or "" before bind.
func (m *manager) boundAddr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		if l.name == name {
			return l.srv.Addr
		}
	}
	return ""
}

func (m *manager) closeListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		_ = l.ln.Close()
	}
	m.listeners = nil
}

func (m *manager) serve(l listener, errCh chan<- error) {
	m.logger.Info().
		Str(log.FieldEvent, l.name+".server.listening").
		Str("addr", l.srv.Addr).
		Msgf("%s server listening", l.name)

	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error().
			Err(err).
			Str(log.FieldEvent, l.name+".server.failed").
			Msgf("%s server failed", l.name)
		errCh <- fmt.Errorf("%s server: %w", l.name, err)
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	listeners := m.listeners
	hooks := m.hooks
	m.mu.Unlock()

	m.logger.Info().Str(log.FieldEvent, "manager.stopping").Msg("shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, l := range listeners {
		if err := l.srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", l.name, err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		began := time.Now()
		err := h.hook(shutdownCtx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str(log.FieldEvent, "manager.hook").
			Str("hook", h.name).
			Int64(log.FieldDuration, time.Since(began).Milliseconds()).
			Msg("shutdown hook finished")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str(log.FieldEvent, "manager.stopped").Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}
