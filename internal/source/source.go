// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source lists and opens images held by photo backends.
//
// Every backend is wrapped in a Connector. Paths handed out by a connector are
// slash separated, relative to the configured root and NFC normalised, so the
// same photo has the same identity regardless of the backend's native form.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

// Kind identifies a connector implementation.
type Kind string

const (
	KindLocal  Kind = config.SourceLocal
	KindWebDAV Kind = config.SourceWebDAV
	KindS3     Kind = config.SourceS3
)

// DefaultMaxDepth bounds recursion when a source does not set one.
const DefaultMaxDepth = 32

var (
	// ErrSourceUnavailable reports a timeout, auth rejection or unreachable
	// backend. It is scoped to one source; other sources keep working.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidPath is returned when Open is asked for a path outside the root.
	ErrInvalidPath = errors.New("invalid source path")
)

// Entry is one listed file.
type Entry struct {
	// Path is the normalised identity of the file within its source.
	Path string
	// Locator is the backend-native key used by Open. It differs from Path
	// only when the backend stores names in a non-NFC form.
	Locator string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Connector is the uniform capability every backend implements.
type Connector interface {
	ID() string
	Kind() Kind
	// List returns every matching file below the root. Failures reaching the
	// backend wrap ErrSourceUnavailable.
	List(ctx context.Context) ([]Entry, error)
	// Open streams one file. The caller must close the reader.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// Build constructs the connector for one configured source.
func Build(cfg config.SourceConfig) (Connector, error) {
	switch Kind(cfg.Type) {
	case KindLocal:
		return NewLocal(cfg), nil
	case KindWebDAV:
		return NewWebDAV(cfg), nil
	case KindS3:
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// BuildAll constructs connectors for every enabled source.
func BuildAll(cfgs []config.SourceConfig) ([]Connector, error) {
	out := make([]Connector, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.IsEnabled() {
			continue
		}
		conn, err := Build(c)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", c.ID, err)
		}
		out = append(out, conn)
	}
	return out, nil
}

func unavailable(sourceID, op string, err error) error {
	return fmt.Errorf("%w: %s: %s: %w", ErrSourceUnavailable, sourceID, op, err)
}

// NormalizePath converts a backend path to the canonical slash separated NFC form.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return norm.NFC.String(p)
}

// matcher filters entries by extension.
type matcher struct {
	exts []string
}

func newMatcher(exts []string) matcher {
	m := matcher{exts: make([]string, 0, len(exts))}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m.exts = append(m.exts, e)
	}
	return m
}

func (m matcher) match(name string) bool {
	if len(m.exts) == 0 {
		return true
	}
	if strings.HasPrefix(path.Base(name), ".") {
		return false
	}
	return slices.Contains(m.exts, strings.ToLower(path.Ext(name)))
}

func maxDepth(cfg config.SourceConfig) int {
	if cfg.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return cfg.MaxDepth
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func entry(rel string, size int64, mod time.Time, etag string) Entry {
	return Entry{
		Path:    NormalizePath(rel),
		Locator: rel,
		Size:    size,
		ModTime: mod.UTC().Truncate(time.Second),
		ETag:    strings.Trim(etag, `"`),
	}
}

// cancelOnClose releases a per-call context once the stream is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
