// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
	"github.com/studio-b12/gowebdav"
	"golang.org/x/time/rate"
)

// WebDAV lists a collection tree on a WebDAV server.
type WebDAV struct {
	id       string
	root     string
	maxDepth int
	match    matcher
	client   *gowebdav.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewWebDAV creates a connector. The client is lazy; nothing is dialled here.
func NewWebDAV(cfg config.SourceConfig) *WebDAV {
	c := gowebdav.NewClient(cfg.Endpoint, cfg.Credentials.Username, cfg.Credentials.Password)
	c.SetTimeout(cfg.Timeout)
	root := "/" + strings.Trim(cfg.Root, "/")
	return &WebDAV{
		id:       cfg.ID,
		root:     root,
		maxDepth: maxDepth(cfg),
		match:    newMatcher(cfg.IncludeExt),
		client:   c,
		limiter:  newLimiter(cfg.RequestsPerSecond),
		logger:   log.WithComponent("source").With().Str(log.FieldSourceID, cfg.ID).Logger(),
	}
}

func (w *WebDAV) ID() string { return w.id }
func (w *WebDAV) Kind() Kind { return KindWebDAV }

type etagger interface{ ETag() string }

func (w *WebDAV) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	visited := make(map[string]struct{})

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if _, seen := visited[dir]; seen {
			return nil
		}
		visited[dir] = struct{}{}

		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		infos, err := w.client.ReadDir(dir)
		if err != nil {
			if depth == 0 || !gowebdav.IsErrNotFound(err) {
				return unavailable(w.id, "propfind "+dir, err)
			}
			w.logger.Warn().Err(err).Str(log.FieldEvent, "source.walk.error").Str(log.FieldPath, dir).Msg("collection vanished during walk")
			return nil
		}

		for _, fi := range infos {
			child := path.Join(dir, fi.Name())
			if fi.IsDir() {
				if strings.HasPrefix(fi.Name(), ".") || depth+1 > w.maxDepth {
					continue
				}
				if err := walk(child, depth+1); err != nil {
					return err
				}
				continue
			}
			if !w.match.match(fi.Name()) {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(child, w.root), "/")
			out = append(out, entry(rel, fi.Size(), fi.ModTime(), etagOf(fi)))
		}
		return nil
	}

	if err := walk(w.root, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func etagOf(fi os.FileInfo) string {
	if e, ok := fi.(etagger); ok {
		return e.ETag()
	}
	return ""
}

func (w *WebDAV) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	clean := path.Clean("/" + locator)
	if clean == "/" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, locator)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	rc, err := w.client.ReadStream(path.Join(w.root, clean))
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, fmt.Errorf("source %s: open %s: %w", w.id, clean, os.ErrNotExist)
		}
		return nil, unavailable(w.id, "get", err)
	}
	return rc, nil
}
