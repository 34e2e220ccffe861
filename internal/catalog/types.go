// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog maintains the versioned inventory of images across all
// sources. Each reindex produces a new immutable Generation; generations are
// replaced wholesale and never edited.
package catalog

import (
	"cmp"
	"crypto/sha1" // #nosec G505 -- identifier, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"
)

// SourceStatus is the outcome of listing one source during a reindex.
type SourceStatus string

const (
	SourceOK          SourceStatus = "ok"          // Listed and probed without errors
	SourceDegraded    SourceStatus = "degraded"    // Listed; some assets failed to probe
	SourceUnavailable SourceStatus = "unavailable" // Listing failed; previous assets carried forward
)

// Key identifies an asset across generations.
type Key struct {
	SourceID string `json:"source_id"`
	Path     string `json:"path"`
}

func (k Key) String() string { return k.SourceID + ":" + k.Path }

// ID is the short, URL-safe identifier of the asset.
func (k Key) ID() string {
	sum := sha1.Sum([]byte(k.String())) // #nosec G401
	return hex.EncodeToString(sum[:])[:16]
}

// Asset is one image known to the catalog.
type Asset struct {
	SourceID string    `json:"source_id"`
	Path     string    `json:"path"`
	Locator  string    `json:"-"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	ETag     string    `json:"etag,omitempty"`

	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Probed     bool      `json:"probed"`
	CapturedAt time.Time `json:"captured_at"`

	// ContentHash fingerprints the listing metadata. It changes whenever the
	// file changes, which retires rendered frames keyed on it.
	ContentHash string `json:"content_hash"`

	Usable        bool   `json:"usable"`
	FailCount     int    `json:"fail_count,omitempty"`
	RetryAfterGen uint64 `json:"retry_after_gen,omitempty"`
	LastError     string `json:"last_error,omitempty"`

	// LastSeenGen is the generation whose listing last contained the asset.
	// Assets carried from an unavailable source keep an older value.
	LastSeenGen uint64 `json:"last_seen_gen"`
}

func (a Asset) Key() Key   { return Key{SourceID: a.SourceID, Path: a.Path} }
func (a Asset) ID() string { return a.Key().ID() }

// Fingerprint derives the content hash from listing metadata. Reading whole
// files to hash them would defeat incremental reindexing on remote sources.
func Fingerprint(sourceID, path string, size int64, mod time.Time, etag string) string {
	h := sha256.New()
	for _, part := range []string{sourceID, path, strconv.FormatInt(size, 10), strconv.FormatInt(mod.UTC().Unix(), 10), etag} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// SourceResult reports how one source fared in a reindex.
type SourceResult struct {
	SourceID string        `json:"source_id"`
	Status   SourceStatus  `json:"status"`
	Listed   int           `json:"listed"`
	Carried  int           `json:"carried"`
	Probed   int           `json:"probed"`
	Failed   int           `json:"failed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Generation is an immutable snapshot of the catalog.
type Generation struct {
	ID        uint64
	CreatedAt time.Time
	Sources   []SourceResult

	assets []Asset
	byKey  map[Key]int
	byID   map[string]int
}

func compareAssets(a, b Asset) int {
	return cmp.Or(cmp.Compare(a.SourceID, b.SourceID), cmp.Compare(a.Path, b.Path))
}

func newGeneration(id uint64, created time.Time, assets []Asset, sources []SourceResult) *Generation {
	slices.SortFunc(assets, compareAssets)
	slices.SortFunc(sources, func(a, b SourceResult) int { return cmp.Compare(a.SourceID, b.SourceID) })
	g := &Generation{
		ID:        id,
		CreatedAt: created,
		Sources:   sources,
		assets:    assets,
		byKey:     make(map[Key]int, len(assets)),
		byID:      make(map[string]int, len(assets)),
	}
	for i, a := range assets {
		g.byKey[a.Key()] = i
		g.byID[a.ID()] = i
	}
	return g
}

// Len returns the number of assets, usable or not.
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.assets)
}

// All yields every asset ordered by (source, path).
func (g *Generation) All() iter.Seq[Asset] {
	return func(yield func(Asset) bool) {
		if g == nil {
			return
		}
		for _, a := range g.assets {
			if !yield(a) {
				return
			}
		}
	}
}

// Assets returns a copy of the asset slice.
func (g *Generation) Assets() []Asset {
	if g == nil {
		return nil
	}
	return slices.Clone(g.assets)
}

// Lookup finds an asset by key.
func (g *Generation) Lookup(k Key) (Asset, bool) {
	if g == nil {
		return Asset{}, false
	}
	i, ok := g.byKey[k]
	if !ok {
		return Asset{}, false
	}
	return g.assets[i], true
}

// ByID finds an asset by its short identifier.
func (g *Generation) ByID(id string) (Asset, bool) {
	if g == nil {
		return Asset{}, false
	}
	i, ok := g.byID[id]
	if !ok {
		return Asset{}, false
	}
	return g.assets[i], true
}

// Counts returns usable and unusable totals.
func (g *Generation) Counts() (usable, unusable int) {
	for a := range g.All() {
		if a.Usable {
			usable++
		} else {
			unusable++
		}
	}
	return usable, unusable
}

func (g *Generation) String() string {
	if g == nil {
		return "generation(nil)"
	}
	return fmt.Sprintf("generation(%d, %d assets)", g.ID, len(g.assets))
}
