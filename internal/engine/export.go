// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"io"

	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/google/renameio/v2"
)

// Exporter renders a playlist as M3U, either to a file on every rebuild or
// to a response writer on demand.
type Exporter struct {
	Path         string // empty disables the file export
	SlideSeconds int
	ImageURL     func(assetID string) string
}

// WriteTo writes pl as M3U to w.
func (x *Exporter) WriteTo(w io.Writer, pl *playlist.Playlist) error {
	return playlist.WriteM3U(w, pl.M3UItems(x.SlideSeconds, x.ImageURL))
}

// Write replaces the export file atomically.
func (x *Exporter) Write(pl *playlist.Playlist) error {
	if x.Path == "" {
		return nil
	}
	pending, err := renameio.NewPendingFile(x.Path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending M3U file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("engine")
			logger.Debug().Err(err).Msg("cleanup pending M3U file")
		}
	}()

	if err := x.WriteTo(pending, pl); err != nil {
		return fmt.Errorf("write M3U data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace M3U file: %w", err)
	}
	return nil
}
