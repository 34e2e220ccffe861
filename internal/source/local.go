// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
)

// Local reads photos from a directory tree. Directory symlinks are followed;
// a visited set of resolved paths keeps cycles from recursing forever.
type Local struct {
	id       string
	root     string
	maxDepth int
	match    matcher
	logger   zerolog.Logger
}

// NewLocal creates a connector for a local directory.
func NewLocal(cfg config.SourceConfig) *Local {
	return &Local{
		id:       cfg.ID,
		root:     cfg.Root,
		maxDepth: maxDepth(cfg),
		match:    newMatcher(cfg.IncludeExt),
		logger:   log.WithComponent("source").With().Str(log.FieldSourceID, cfg.ID).Logger(),
	}
}

func (l *Local) ID() string { return l.id }
func (l *Local) Kind() Kind { return KindLocal }

// Root returns the configured directory.
func (l *Local) Root() string { return l.root }

func (l *Local) List(ctx context.Context) ([]Entry, error) {
	rootResolved, err := filepath.EvalSymlinks(l.root)
	if err != nil {
		return nil, unavailable(l.id, "resolve root", err)
	}
	info, err := os.Stat(rootResolved)
	if err != nil {
		return nil, unavailable(l.id, "stat root", err)
	}
	if !info.IsDir() {
		return nil, unavailable(l.id, "stat root", fmt.Errorf("%s is not a directory", l.root))
	}

	w := &localWalk{
		l:       l,
		visited: map[string]struct{}{rootResolved: {}},
	}
	if err := w.dir(ctx, rootResolved, "", 0); err != nil {
		return nil, err
	}
	if w.skipped > 0 {
		l.logger.Debug().Str(log.FieldEvent, "source.list.skipped").Int("skipped", w.skipped).Msg("entries skipped during walk")
	}
	return w.out, nil
}

type localWalk struct {
	l       *Local
	visited map[string]struct{}
	out     []Entry
	skipped int
}

// dir lists one directory. abs is the resolved directory, rel its slash
// separated path below the root as reached by the walk.
func (w *localWalk) dir(ctx context.Context, abs, rel string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if depth == 0 {
			return unavailable(w.l.id, "read root", err)
		}
		w.skipped++
		w.l.logger.Warn().Err(err).Str(log.FieldEvent, "source.walk.error").Str(log.FieldPath, rel).Msg("cannot read directory")
		return nil
	}

	for _, d := range entries {
		childRel := path.Join(rel, d.Name())
		childAbs := filepath.Join(abs, d.Name())

		info, err := os.Stat(childAbs) // follows symlinks
		if err != nil {
			w.skipped++
			continue
		}

		if info.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || depth+1 > w.l.maxDepth {
				continue
			}
			resolved, err := filepath.EvalSymlinks(childAbs)
			if err != nil {
				w.skipped++
				continue
			}
			if _, seen := w.visited[resolved]; seen {
				continue
			}
			w.visited[resolved] = struct{}{}
			if err := w.dir(ctx, resolved, childRel, depth+1); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() || !w.l.match.match(d.Name()) {
			continue
		}
		w.out = append(w.out, entry(childRel, info.Size(), info.ModTime(), ""))
	}
	return nil
}

func (l *Local) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + locator)[1:]
	if clean == "" || !fs.ValidPath(clean) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, locator)
	}
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(clean))) // #nosec G304 -- confined to the source root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source %s: open %s: %w", l.id, clean, err)
		}
		return nil, unavailable(l.id, "open", err)
	}
	return f, nil
}
