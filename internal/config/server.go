// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"
	"time"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	BaseURL         string        `yaml:"baseURL"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes  int           `yaml:"maxHeaderBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
}

// PublicBaseURL returns BaseURL without a trailing slash. Devices fetch frames
// from this address, so it must be reachable from the receiver's network.
func (s ServerConfig) PublicBaseURL() string {
	return strings.TrimRight(s.BaseURL, "/")
}
