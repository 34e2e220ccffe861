// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// envLevel is read when Config.Level is empty.
const envLevel = "PHOTOCAST_LOG_LEVEL"

// Config selects level, sink and the static fields on every entry.
type Config struct {
	Level   string
	Output  io.Writer // os.Stdout when nil
	Service string    // "photocast" when empty
	Version string
}

var (
	base    atomic.Pointer[zerolog.Logger]
	setupMu sync.Mutex
)

// Configure installs the process logger unless one is already installed.
func Configure(cfg Config) {
	setupMu.Lock()
	defer setupMu.Unlock()
	if base.Load() == nil {
		install(cfg)
	}
}

// Reconfigure replaces the process logger. The daemon calls it after the
// config file is loaded.
func Reconfigure(cfg Config) {
	setupMu.Lock()
	defer setupMu.Unlock()
	install(cfg)
}

func parseLevel(cfg Config) zerolog.Level {
	raw := cfg.Level
	if raw == "" {
		raw = os.Getenv(envLevel)
	}
	if lvl, err := zerolog.ParseLevel(raw); err == nil && raw != "" {
		return lvl
	}
	return zerolog.InfoLevel
}

func install(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "photocast"
	}
	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
	base.Store(&l)
}

func current() zerolog.Logger {
	if l := base.Load(); l != nil {
		return *l
	}
	Configure(Config{})
	return *base.Load()
}

// WithComponent returns a child of the process logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return current().With().Str(FieldComponent, component).Logger()
}
