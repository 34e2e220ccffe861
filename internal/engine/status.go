// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/photocast/internal/cache"
	"github.com/ManuGH/photocast/internal/cast"
	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/playlist"
)

// Status is a point-in-time copy of the orchestration state.
type Status struct {
	Running  bool            `json:"running"`
	Targets  []cast.Snapshot `json:"targets"`
	Catalog  CatalogStatus   `json:"catalog"`
	Playlist *PlaylistStatus `json:"playlist,omitempty"`
	Reindex  ReindexStatus   `json:"reindex"`
	Cache    cache.Stats     `json:"cache"`
	Failures FailureCounts   `json:"failures"`
}

type CatalogStatus struct {
	Generation uint64                 `json:"generation"`
	CreatedAt  time.Time              `json:"created_at,omitzero"`
	AgeSeconds float64                `json:"age_seconds"`
	Usable     int                    `json:"usable"`
	Unusable   int                    `json:"unusable"`
	Sources    []catalog.SourceResult `json:"sources"`
}

type PlaylistStatus struct {
	ID           string         `json:"id"`
	GenerationID uint64         `json:"generation"`
	Length       int            `json:"length"`
	Order        playlist.Order `json:"order"`
	Seed         *int64         `json:"seed,omitempty"`
	BuiltAt      time.Time      `json:"built_at"`
}

type ReindexStatus struct {
	InFlight     bool      `json:"in_flight"`
	LastStarted  time.Time `json:"last_started,omitzero"`
	LastFinished time.Time `json:"last_finished,omitzero"`
	DurationMS   int64     `json:"duration_ms"`
	LastError    string    `json:"last_error,omitempty"`
}

type FailureCounts struct {
	Source int64 `json:"source"`
	Decode int64 `json:"decode"`
}

// Status copies the current state. Session snapshots are taken from each
// session's own lock; the engine lock is held only for the shared fields.
func (e *Engine) Status() Status {
	st := Status{
		Running: e.sessions.AnyActive(),
		Targets: e.sessions.Snapshots(),
		Reindex: ReindexStatus{InFlight: e.reindexing.Load()},
		Cache:   e.renderer.CacheStats(),
		Failures: FailureCounts{
			Source: e.sourceFailures.Load(),
			Decode: e.decodeFailures.Load(),
		},
	}

	if gen := e.catalog.Current(); gen != nil {
		usable, unusable := gen.Counts()
		st.Catalog = CatalogStatus{
			Generation: gen.ID,
			CreatedAt:  gen.CreatedAt,
			AgeSeconds: e.now().Sub(gen.CreatedAt).Seconds(),
			Usable:     usable,
			Unusable:   unusable,
			Sources:    gen.Sources,
		}
	}

	e.mu.RLock()
	pl := e.playlist
	last := e.last
	e.mu.RUnlock()

	if pl != nil {
		st.Playlist = &PlaylistStatus{
			ID:           pl.ID,
			GenerationID: pl.GenerationID,
			Length:       pl.Len(),
			Order:        pl.Filters.Order,
			Seed:         pl.Filters.Seed,
			BuiltAt:      pl.BuiltAt,
		}
	}
	st.Reindex.LastStarted = last.started
	st.Reindex.LastFinished = last.finished
	st.Reindex.DurationMS = last.duration.Milliseconds()
	st.Reindex.LastError = last.err
	return st
}
