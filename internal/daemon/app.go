// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
)

// Runner is a long-lived subsystem that blocks until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (engine loop, source watcher)
// and delegates server management to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager
	engine  Runner
	watcher Runner
}

// NewApp creates a new App orchestrator. watcher may be nil.
func NewApp(logger zerolog.Logger, manager Manager, engine Runner, watcher Runner) *App {
	return &App{
		logger:  logger,
		manager: manager,
		engine:  engine,
		watcher: watcher,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.engine == nil {
		return ErrMissingEngine
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(ctx)
	})

	// The watcher is best-effort: without it, reindexing stays manual.
	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "watcher.failed").
					Msg("source watcher stopped, reindex manually")
			}
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
