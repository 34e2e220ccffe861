// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/validate"
)

var captionField = regexp.MustCompile(`\{([^{}]*)\}`)

// Validate checks the merged configuration and returns a validate.ValidationError
// describing every problem found.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if len(cfg.Sources) == 0 {
		v.AddError("sources", "at least one source is required", nil)
	}
	ids := make([]string, 0, len(cfg.Sources))
	for i, s := range cfg.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		v.NotEmpty(field+".id", s.ID)
		ids = append(ids, s.ID)
		v.OneOf(field+".type", s.Type, []string{SourceLocal, SourceWebDAV, SourceS3})
		v.NonNegative(field+".maxDepth", s.MaxDepth)
		if s.RequestsPerSecond < 0 {
			v.AddError(field+".requestsPerSecond", "value cannot be negative", s.RequestsPerSecond)
		}
		switch s.Type {
		case SourceLocal:
			if s.IsEnabled() {
				v.Directory(field+".root", s.Root, true)
			}
		case SourceWebDAV:
			v.URL(field+".endpoint", s.Endpoint, []string{"http", "https"})
		case SourceS3:
			v.NotEmpty(field+".endpoint", s.Endpoint)
			v.NotEmpty(field+".bucket", s.Bucket)
			if strings.Contains(s.Endpoint, "://") {
				v.AddError(field+".endpoint", "s3 endpoint is host[:port] without scheme", s.Endpoint)
			}
		}
	}
	v.Unique("sources.id", ids)

	v.NonNegative("filters.minWidth", cfg.Filters.MinWidth)
	v.NonNegative("filters.minHeight", cfg.Filters.MinHeight)
	v.NonNegative("filters.maxAgeDays", cfg.Filters.MaxAgeDays)
	v.OneOf("filters.order", cfg.Filters.Order, []string{OrderShuffle, OrderSequential})

	v.Positive("display.maxLongEdge", cfg.Display.MaxLongEdge)
	v.Positive("display.intervalSeconds", cfg.Display.IntervalSeconds)
	v.Range("display.jpegQuality", cfg.Display.JPEGQuality, 1, 100)
	for _, m := range captionField.FindAllStringSubmatch(cfg.Display.CaptionFormat, -1) {
		if !slices.Contains(CaptionPlaceholders, m[1]) {
			v.AddError("display.captionFormat", fmt.Sprintf("unknown placeholder {%s}", m[1]), cfg.Display.CaptionFormat)
		}
	}

	names := make([]string, 0, len(cfg.Devices))
	for i, d := range cfg.Devices {
		v.NotEmpty(fmt.Sprintf("devices[%d].name", i), d.Name)
		v.NonNegative(fmt.Sprintf("devices[%d].maxLongEdge", i), d.MaxLongEdge)
		names = append(names, d.Name)
	}
	v.Unique("devices.name", names)

	v.Positive("cache.maxEntries", cfg.Cache.MaxEntries)
	v.OneOf("cache.backend", cfg.Cache.Backend, []string{CacheMemory, CacheBadger, CacheRedis})
	if cfg.Cache.Backend == CacheRedis {
		v.NotEmpty("cache.redisAddr", cfg.Cache.RedisAddr)
	}
	if cfg.Cache.Backend != CacheMemory {
		v.PositiveDuration("cache.ttl", cfg.Cache.TTL)
	}

	v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	if cfg.Server.MetricsAddr != "" {
		v.ListenAddr("server.metricsAddr", cfg.Server.MetricsAddr)
	}
	v.URL("server.baseURL", cfg.Server.BaseURL, []string{"http", "https"})
	v.NonNegative("server.rateLimit", cfg.Server.RateLimit)

	v.PositiveDuration("cast.heartbeatInterval", cfg.Cast.HeartbeatInterval)
	v.PositiveDuration("cast.deviceTimeout", cfg.Cast.DeviceTimeout)
	v.PositiveDuration("cast.backoffInitial", cfg.Cast.BackoffInitial)
	v.PositiveDuration("cast.backoffMax", cfg.Cast.BackoffMax)
	if cfg.Cast.BackoffMax < cfg.Cast.BackoffInitial {
		v.AddError("cast.backoffMax", "must not be smaller than cast.backoffInitial", cfg.Cast.BackoffMax)
	}

	v.NonNegative("catalog.retryBudget", cfg.Catalog.RetryBudget)
	v.Positive("catalog.probeWorkers", cfg.Catalog.ProbeWorkers)

	v.Directory("storage.dataDir", cfg.Storage.DataDir, false)
	v.OneOf("logging.level", cfg.Logging.Level, []string{"debug", "info", "warn", "error"})

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	if err := v.Err(); err != nil {
		return err
	}

	if len(cfg.Devices) == 0 {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("event", "config.no_devices").
			Msg("no devices configured; start will have nothing to cast to")
	}
	return nil
}
