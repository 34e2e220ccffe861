// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/photocast/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes local source roots and calls onChange once per burst of
// filesystem events. fsnotify is not recursive, so every directory below the
// roots is registered and new directories are added as they appear.
type Watcher struct {
	roots    []string
	debounce time.Duration
	onChange func()
	logger   zerolog.Logger
}

// NewWatcher returns a watcher for the local connectors in conns. It returns
// nil when none of them is local.
func NewWatcher(conns []Connector, debounce time.Duration, onChange func()) *Watcher {
	var roots []string
	for _, c := range conns {
		if l, ok := c.(*Local); ok {
			roots = append(roots, l.Root())
		}
	}
	if len(roots) == 0 {
		return nil
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		roots:    roots,
		debounce: debounce,
		onChange: onChange,
		logger:   log.WithComponent("watcher"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	visited := make(map[string]struct{})
	for _, root := range w.roots {
		w.addTree(fw, root, visited)
	}
	w.logger.Info().Str(log.FieldEvent, "watcher.started").Strs("roots", w.roots).Msg("watching local sources")

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(fw, event.Name, make(map[string]struct{}))
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.logger.Debug().Str(log.FieldEvent, "watcher.changed").Msg("source change detected")
			w.onChange()
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// addTree registers dir and every directory below it. Directory symlinks are
// followed like Local.List follows them; visited holds resolved paths so a
// link back to an ancestor is registered once.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string, visited map[string]struct{}) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return
	}
	if _, seen := visited[resolved]; seen {
		return
	}
	visited[resolved] = struct{}{}

	if err := fw.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str(log.FieldPath, dir).Msg("cannot watch directory")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, d := range entries {
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		child := filepath.Join(dir, d.Name())
		info, err := os.Stat(child) // follows symlinks
		if err != nil || !info.IsDir() {
			continue
		}
		w.addTree(fw, child, visited)
	}
}
