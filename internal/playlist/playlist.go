// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist derives ordered slideshows from a catalog generation.
package playlist

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/google/uuid"
)

// Order selects how matching assets are arranged.
type Order string

const (
	OrderShuffle    Order = "shuffle"
	OrderSequential Order = "sequential"
)

var (
	// ErrNoGeneration is returned when Build is called before any reindex.
	ErrNoGeneration = errors.New("no catalog generation")
	// ErrInvalidOrder is returned for an order other than shuffle or sequential.
	ErrInvalidOrder = errors.New("invalid playlist order")
)

// Filters are hard predicates plus the ordering. Zero values disable a predicate.
type Filters struct {
	MinWidth   int    `json:"min_width"`
	MinHeight  int    `json:"min_height"`
	MaxAgeDays int    `json:"max_age_days"`
	Order      Order  `json:"order"`
	Seed       *int64 `json:"seed,omitempty"`
}

// Querier yields the usable assets of a generation.
type Querier interface {
	Query(gen *catalog.Generation, f catalog.Filter) iter.Seq[catalog.Asset]
}

// Playlist is an immutable ordered view of one generation.
type Playlist struct {
	ID           string
	GenerationID uint64
	Filters      Filters // Seed holds the seed actually used for shuffle
	BuiltAt      time.Time

	items []catalog.Asset
	index map[catalog.Key]int
}

// Build filters and orders the usable assets of gen. An empty result is a
// valid, zero-length playlist.
func Build(q Querier, gen *catalog.Generation, f Filters, now time.Time) (*Playlist, error) {
	if gen == nil {
		return nil, ErrNoGeneration
	}
	switch f.Order {
	case "":
		f.Order = OrderShuffle
	case OrderShuffle, OrderSequential:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrder, f.Order)
	}

	var cutoff time.Time
	if f.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -f.MaxAgeDays)
	}

	var items []catalog.Asset
	for a := range q.Query(gen, catalog.Filter{}) {
		if f.MinWidth > 0 && a.Width < f.MinWidth {
			continue
		}
		if f.MinHeight > 0 && a.Height < f.MinHeight {
			continue
		}
		if !cutoff.IsZero() && a.ModTime.Before(cutoff) {
			continue
		}
		items = append(items, a)
	}

	switch f.Order {
	case OrderSequential:
		slices.SortStableFunc(items, func(a, b catalog.Asset) int {
			return cmp.Or(
				a.CapturedAt.Compare(b.CapturedAt),
				cmp.Compare(a.Path, b.Path),
				cmp.Compare(a.SourceID, b.SourceID),
			)
		})
	case OrderShuffle:
		seed := now.UnixNano()
		if f.Seed != nil {
			seed = *f.Seed
		}
		f.Seed = &seed
		Shuffle(items, seed)
	}

	return newPlaylist(gen.ID, f, now, items), nil
}

// Shuffle permutes items deterministically for a given seed.
func Shuffle[T any](items []T, seed int64) {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	r.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

func newPlaylist(genID uint64, f Filters, now time.Time, items []catalog.Asset) *Playlist {
	p := &Playlist{
		ID:           uuid.NewString(),
		GenerationID: genID,
		Filters:      f,
		BuiltAt:      now,
		items:        items,
		index:        make(map[catalog.Key]int, len(items)),
	}
	for i, a := range items {
		if _, dup := p.index[a.Key()]; !dup {
			p.index[a.Key()] = i
		}
	}
	return p
}

// Empty returns a zero-length playlist, used before anything was indexed.
func Empty(now time.Time) *Playlist {
	return newPlaylist(0, Filters{}, now, nil)
}

// Len returns the number of entries; nil playlists are empty.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// At returns the asset at index i.
func (p *Playlist) At(i int) catalog.Asset {
	return p.items[i]
}

// IndexOf returns the position of the asset with key k, or -1.
func (p *Playlist) IndexOf(k catalog.Key) int {
	if p == nil {
		return -1
	}
	if i, ok := p.index[k]; ok {
		return i
	}
	return -1
}

// Items returns a copy of the entries.
func (p *Playlist) Items() []catalog.Asset {
	if p == nil {
		return nil
	}
	return slices.Clone(p.items)
}
