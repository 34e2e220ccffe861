// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. Missing optional tools only produce warnings.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks_begin").Msg("running pre-flight startup checks")

	// 1. Data Directory Permissions
	if err := checkDataDir(logger, cfg.Storage.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Targeted Validations
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("data directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Msg("data directory is writable")
	return nil
}

// checkTargetedValidations performs runtime-critical validations the config
// validator cannot do without touching the host.
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	// a. Listen Address (Parseable)
	if cfg.Server.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cfg.Server.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, cfg.Server.ListenAddr)
		}
	}

	// b. Base URL (devices fetch frames from it)
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got: %q", u.Scheme)
	}
	if host := u.Hostname(); host == "localhost" || strings.HasPrefix(host, "127.") {
		logger.Warn().Str(log.FieldBaseURL, cfg.Server.BaseURL).
			Msg("base URL points at loopback; receivers will not be able to fetch frames")
	}

	// c. Local source roots
	for _, src := range cfg.Sources {
		if src.Type != config.SourceLocal || !src.IsEnabled() {
			continue
		}
		info, err := os.Stat(src.Root)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str(log.FieldSourceID, src.ID).Str(log.FieldPath, src.Root).
				Msg("local source root not accessible; it will be reported unavailable")
		case !info.IsDir():
			return fmt.Errorf("source %q root is not a directory: %s", src.ID, src.Root)
		}
	}

	// d. Converter for camera-native formats (optional)
	ffmpegBin := strings.TrimSpace(cfg.FFmpeg.Bin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if _, err := exec.LookPath(ffmpegBin); err != nil {
		logger.Warn().Str("ffmpeg", ffmpegBin).
			Msg("ffmpeg not found; HEIC and RAW assets will be marked unusable")
	}

	// e. Persistence safety
	if cfg.Cache.Backend == config.CacheMemory || cfg.Cache.Backend == "" {
		logger.Info().Msg("frame cache is memory-only; rendered frames are not kept across restarts")
	}
	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.Storage.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.Storage.DataDir).
			Msg("data directory is under temp; catalog and resume state may be lost on reboot")
	}

	return nil
}
