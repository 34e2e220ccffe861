// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys and multi-document files are rejected. The resulting AppConfig
// is read once at startup and never reloaded.
package config
