// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Source connector types.
const (
	SourceLocal  = "local"
	SourceWebDAV = "webdav"
	SourceS3     = "s3"
)

// Playlist orders.
const (
	OrderShuffle    = "shuffle"
	OrderSequential = "sequential"
)

// Frame cache backends.
const (
	CacheMemory = "memory"
	CacheBadger = "badger"
	CacheRedis  = "redis"
)

// AppConfig is the complete, validated daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Sources   []SourceConfig  `yaml:"sources"`
	Filters   FilterConfig    `yaml:"filters"`
	Display   DisplayConfig   `yaml:"display"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Cast      CastConfig      `yaml:"cast"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
}

// SourceConfig describes one media source. Root is a directory for local
// sources, a collection path for WebDAV and a key prefix for S3.
type SourceConfig struct {
	ID                string           `yaml:"id"`
	Type              string           `yaml:"type"`
	Root              string           `yaml:"root"`
	Endpoint          string           `yaml:"endpoint"`
	Bucket            string           `yaml:"bucket"`
	Region            string           `yaml:"region"`
	Insecure          bool             `yaml:"insecure"`
	Credentials       CredentialConfig `yaml:"credentials"`
	Enabled           *bool            `yaml:"enabled"`
	IncludeExt        []string         `yaml:"includeExt"`
	MaxDepth          int              `yaml:"maxDepth"`
	RequestsPerSecond float64          `yaml:"requestsPerSecond"`
	Timeout           time.Duration    `yaml:"timeout"`
}

// IsEnabled reports whether the source takes part in indexing. Sources are
// enabled unless explicitly switched off.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CredentialConfig holds secrets for remote sources. Values may reference
// environment variables as ${NAME}.
type CredentialConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// FilterConfig selects and orders playlist entries.
type FilterConfig struct {
	MinWidth   int    `yaml:"minWidth"`
	MinHeight  int    `yaml:"minHeight"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Order      string `yaml:"order"`
	Seed       *int64 `yaml:"seed"`
}

// DisplayConfig is the default display profile.
type DisplayConfig struct {
	MaxLongEdge     int  `yaml:"maxLongEdge"`
	CaptionEnabled  bool `yaml:"captionEnabled"`
	IntervalSeconds int  `yaml:"intervalSeconds"`
	JPEGQuality     int  `yaml:"jpegQuality"`

	// CaptionFormat is the caption text with {placeholder} fields, see
	// CaptionPlaceholders.
	CaptionFormat string `yaml:"captionFormat"`
}

// DefaultCaptionFormat shows capture time and file name.
const DefaultCaptionFormat = "{datetime} · {filename}"

// CaptionPlaceholders are the fields a caption format may reference.
var CaptionPlaceholders = []string{"datetime", "date", "time", "filename", "folder", "path", "source"}

// DeviceConfig names a cast target. Address is host or host:port; when empty
// the device is resolved by name through discovery.
type DeviceConfig struct {
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	MaxLongEdge int    `yaml:"maxLongEdge"`
	Caption     *bool  `yaml:"caption"`
}

// CacheConfig configures the rendered frame cache.
type CacheConfig struct {
	MaxEntries    int           `yaml:"maxEntries"`
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
}

// CastConfig tunes device sessions.
type CastConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	DeviceTimeout     time.Duration `yaml:"deviceTimeout"`
	BackoffInitial    time.Duration `yaml:"backoffInitial"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
	DiscoveryTimeout  time.Duration `yaml:"discoveryTimeout"`
}

// CatalogConfig tunes indexing.
type CatalogConfig struct {
	RetryBudget   int           `yaml:"retryBudget"`
	ProbeWorkers  int           `yaml:"probeWorkers"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watchDebounce"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// FFmpegConfig locates the converter used for camera-native formats.
type FFmpegConfig struct {
	Bin     string        `yaml:"bin"`
	Timeout time.Duration `yaml:"timeout"`
}
