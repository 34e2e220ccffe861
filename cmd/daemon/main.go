// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/daemon"
	"github.com/ManuGH/photocast/internal/health"
	plog "github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/telemetry"
	"github.com/ManuGH/photocast/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	plog.Configure(plog.Config{
		Level:   "info",
		Service: "photocast",
		Version: version.Version,
	})
	logger := plog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with precedence: ENV > File > Defaults
	effectiveConfigPath := strings.TrimSpace(*configPath)
	cfg, err := config.NewLoader(effectiveConfigPath, version.Version).Load()
	if err != nil {
		event := "config.load_failed"
		if errors.Is(err, config.ErrUnknownConfigField) {
			event = "config.unknown_field"
		}
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, event).
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	plog.Reconfigure(plog.Config{
		Level:   cfg.Logging.Level,
		Service: "photocast",
		Version: cfg.Version,
	})
	logger = plog.WithComponent("daemon")

	if effectiveConfigPath != "" {
		logger.Info().
			Str(plog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(plog.FieldPath, effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(plog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	// -------------------------------------------------------------------------
	// Pre-flight Checks (Fail Fast)
	// -------------------------------------------------------------------------
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str(plog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting photocast")

	for _, src := range cfg.Sources {
		where := src.Root
		if src.Endpoint != "" {
			where = maskURL(src.Endpoint)
		}
		logger.Info().Msgf("→ Source %s: %s %s (enabled: %v)", src.ID, src.Type, where, src.IsEnabled())
	}
	for _, dev := range cfg.Devices {
		addr := dev.Address
		if addr == "" {
			addr = "discovery"
		}
		logger.Info().Msgf("→ Device %s: %s", dev.Name, addr)
	}
	logger.Info().Msgf("→ Frames served from: %s", maskURL(cfg.Server.PublicBaseURL()))
	logger.Info().Msgf("→ Frame cache: %s (%d in memory)", cfg.Cache.Backend, cfg.Cache.MaxEntries)
	logger.Info().Msgf("→ Data dir: %s", cfg.Storage.DataDir)

	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry, version.Version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	rt, err := wire(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, "wiring.failed").
			Msg("failed to build runtime")
	}

	metricsHandler := promhttp.Handler()
	deps := daemon.Deps{
		Logger:         logger,
		APIHandler:     rt.handler,
		MetricsHandler: metricsHandler,
		MetricsAddr:    strings.TrimSpace(cfg.Server.MetricsAddr),
	}

	mgr, err := daemon.NewManager(cfg.Server, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	// Hooks run in reverse order: the engine stops before the stores it
	// writes to are closed, and traces flush last.
	mgr.RegisterShutdownHook("telemetry", func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})
	for _, c := range rt.closers {
		mgr.RegisterShutdownHook(c.name, c.close)
	}
	mgr.RegisterShutdownHook("engine", rt.engine.Close)

	// Start daemon app (blocks until shutdown)
	app := daemon.NewApp(logger, mgr, rt.engine, rt.watcher)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(plog.FieldEvent, "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}
