// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load runs defaults, strict file parse, env overrides and validation in that
// order. Every failure wraps ErrConfigInvalid.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: load config file: %w", ErrConfigInvalid, err)
		}
	}

	mergeEnv(&cfg)
	expandCredentials(&cfg)
	fillDerived(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return cfg, nil
}

// Defaults returns the baseline configuration.
func Defaults() AppConfig {
	return AppConfig{
		Filters: FilterConfig{Order: OrderShuffle},
		Display: DisplayConfig{
			MaxLongEdge:     1920,
			CaptionEnabled:  true,
			CaptionFormat:   DefaultCaptionFormat,
			IntervalSeconds: 10,
			JPEGQuality:     88,
		},
		Cache: CacheConfig{
			MaxEntries: 64,
			Backend:    CacheMemory,
			TTL:        24 * time.Hour,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MetricsAddr:     "",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       60,
		},
		Cast: CastConfig{
			HeartbeatInterval: 5 * time.Second,
			DeviceTimeout:     5 * time.Second,
			BackoffInitial:    time.Second,
			BackoffMax:        time.Minute,
			DiscoveryTimeout:  3 * time.Second,
		},
		Catalog: CatalogConfig{
			RetryBudget:   3,
			ProbeWorkers:  4,
			WatchDebounce: 2 * time.Second,
		},
		Storage:   StorageConfig{DataDir: "data"},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "photocast", Exporter: "grpc", SamplingRate: 1.0},
		FFmpeg:    FFmpegConfig{Bin: "ffmpeg", Timeout: 30 * time.Second},
	}
}

// loadFile decodes the YAML file over the defaults already in cfg.
// Unknown fields are a hard error.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.Server.ListenAddr = ParseString(EnvPrefix+"LISTEN", cfg.Server.ListenAddr)
	cfg.Server.MetricsAddr = ParseString(EnvPrefix+"METRICS_LISTEN", cfg.Server.MetricsAddr)
	cfg.Server.BaseURL = ParseString(EnvPrefix+"BASE_URL", cfg.Server.BaseURL)
	cfg.Storage.DataDir = ParseString(EnvPrefix+"DATA_DIR", cfg.Storage.DataDir)
	cfg.Logging.Level = ParseString(EnvPrefix+"LOG_LEVEL", cfg.Logging.Level)

	cfg.Display.IntervalSeconds = ParseInt(EnvPrefix+"SLIDE_SECONDS", cfg.Display.IntervalSeconds)
	cfg.Display.MaxLongEdge = ParseInt(EnvPrefix+"MAX_LONG_EDGE", cfg.Display.MaxLongEdge)
	cfg.Display.JPEGQuality = ParseInt(EnvPrefix+"JPEG_QUALITY", cfg.Display.JPEGQuality)
	cfg.Display.CaptionEnabled = ParseBool(EnvPrefix+"SHOW_CAPTION", cfg.Display.CaptionEnabled)
	cfg.Display.CaptionFormat = ParseString(EnvPrefix+"CAPTION_FORMAT", cfg.Display.CaptionFormat)

	shuffle := ParseBool(EnvPrefix+"SHUFFLE", cfg.Filters.Order == OrderShuffle)
	if shuffle {
		cfg.Filters.Order = OrderShuffle
	} else {
		cfg.Filters.Order = OrderSequential
	}
	cfg.Filters.MaxAgeDays = ParseInt(EnvPrefix+"MAX_AGE_DAYS", cfg.Filters.MaxAgeDays)

	cfg.Cache.Backend = ParseString(EnvPrefix+"CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.MaxEntries = ParseInt(EnvPrefix+"CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.RedisAddr = ParseString(EnvPrefix+"REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = ParseString(EnvPrefix+"REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.Cast.HeartbeatInterval = ParseDuration(EnvPrefix+"HEARTBEAT_INTERVAL", cfg.Cast.HeartbeatInterval)
	cfg.Cast.DeviceTimeout = ParseDuration(EnvPrefix+"DEVICE_TIMEOUT", cfg.Cast.DeviceTimeout)

	cfg.Catalog.Watch = ParseBool(EnvPrefix+"WATCH", cfg.Catalog.Watch)
	cfg.FFmpeg.Bin = ParseString(EnvPrefix+"FFMPEG_BIN", cfg.FFmpeg.Bin)

	cfg.Telemetry.Enabled = ParseBool(EnvPrefix+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(EnvPrefix+"OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
}

// expandCredentials resolves ${NAME} references so secrets can stay out of
// the config file.
func expandCredentials(cfg *AppConfig) {
	for i := range cfg.Sources {
		c := &cfg.Sources[i].Credentials
		c.Username = os.ExpandEnv(c.Username)
		c.Password = os.ExpandEnv(c.Password)
		c.AccessKey = os.ExpandEnv(c.AccessKey)
		c.SecretKey = os.ExpandEnv(c.SecretKey)
	}
	cfg.Cache.RedisPassword = os.ExpandEnv(cfg.Cache.RedisPassword)
}

func fillDerived(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.Storage.DataDir); err == nil {
		cfg.Storage.DataDir = abs
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.Storage.DataDir, "frames")
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = guessBaseURL(cfg.Server.ListenAddr)
	}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if len(s.IncludeExt) == 0 {
			s.IncludeExt = []string{".jpg", ".jpeg", ".png", ".heic"}
		}
		for j, ext := range s.IncludeExt {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.IncludeExt[j] = ext
		}
		if s.Timeout == 0 {
			s.Timeout = 30 * time.Second
		}
		if s.Type == SourceLocal {
			if abs, err := filepath.Abs(s.Root); err == nil {
				s.Root = abs
			}
		}
	}
}

// guessBaseURL derives a loopback URL from the listen address. Real receivers
// cannot reach it, so deployments with devices set server.baseURL explicitly.
func guessBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
