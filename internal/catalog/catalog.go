// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/metrics"
	"github.com/ManuGH/photocast/internal/source"
	"github.com/ManuGH/photocast/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrReindexRunning is returned by TryReindex while another pass is active.
var ErrReindexRunning = errors.New("reindex already running")

// Persister saves and restores generations across restarts.
type Persister interface {
	SaveGeneration(ctx context.Context, g *Generation) error
	LoadLatest(ctx context.Context) (*Generation, error)
}

// Options configures a Catalog.
type Options struct {
	Prober       Prober
	Store        Persister // optional
	RetryBudget  int       // generations an unusable asset waits before re-probing
	ProbeWorkers int
	Now          func() time.Time
}

type quarantined struct {
	hash   string
	reason string
}

// Catalog owns the current generation and the quarantine of assets reported
// unusable since it was built.
type Catalog struct {
	prober       Prober
	store        Persister
	retryBudget  uint64
	probeWorkers int
	now          func() time.Time
	logger       zerolog.Logger

	scanMu sync.Mutex

	mu         sync.RWMutex
	current    *Generation
	quarantine map[Key]quarantined
}

// New creates an empty catalog.
func New(opts Options) *Catalog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = 4
	}
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	return &Catalog{
		prober:       opts.Prober,
		store:        opts.Store,
		retryBudget:  uint64(opts.RetryBudget),
		probeWorkers: opts.ProbeWorkers,
		now:          opts.Now,
		logger:       log.WithComponent("catalog"),
		quarantine:   make(map[Key]quarantined),
	}
}

// Current returns the latest generation, or nil before the first reindex.
func (c *Catalog) Current() *Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Restore loads the last persisted generation so the next reindex can carry
// unchanged assets forward without probing them again.
func (c *Catalog) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	g, err := c.store.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	c.mu.Lock()
	if c.current == nil || c.current.ID < g.ID {
		c.current = g
	}
	c.mu.Unlock()
	usable, unusable := g.Counts()
	metrics.RecordCatalog(g.ID, usable, unusable)
	c.logger.Info().Str(log.FieldEvent, "catalog.restored").Uint64(log.FieldGeneration, g.ID).
		Int("assets", g.Len()).Msg("restored catalog generation")
	return nil
}

// TryReindex is Reindex without waiting for a pass already in flight.
func (c *Catalog) TryReindex(ctx context.Context, conns []source.Connector) (*Generation, error) {
	if !c.scanMu.TryLock() {
		return nil, ErrReindexRunning
	}
	defer c.scanMu.Unlock()
	return c.reindex(ctx, conns)
}

// Reindex rescans every connector and installs a new generation. Passes are
// serialised. A cancelled pass leaves the current generation in place.
func (c *Catalog) Reindex(ctx context.Context, conns []source.Connector) (*Generation, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.reindex(ctx, conns)
}

func (c *Catalog) reindex(ctx context.Context, conns []source.Connector) (*Generation, error) {
	ctx, span := telemetry.Tracer("photocast/catalog").Start(ctx, "catalog.reindex")
	defer span.End()

	start := time.Now()
	c.mu.RLock()
	prev := c.current
	quarantine := make(map[Key]quarantined, len(c.quarantine))
	for k, q := range c.quarantine {
		quarantine[k] = q
	}
	c.mu.RUnlock()

	var genID uint64 = 1
	if prev != nil {
		genID = prev.ID + 1
	}

	results := make([]scanOutcome, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		g.Go(func() error {
			out, err := c.scanSource(gctx, conn, prev, genID, quarantine)
			results[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordReindex("cancelled", time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		assets  []Asset
		sources []SourceResult
	)
	for _, r := range results {
		assets = append(assets, r.assets...)
		sources = append(sources, r.result)
	}
	next := newGeneration(genID, c.now(), assets, sources)
	span.SetAttributes(telemetry.CatalogAttributes(genID, len(conns), next.Len())...)

	if c.store != nil {
		if err := c.store.SaveGeneration(ctx, next); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldEvent, "catalog.persist_failed").Msg("could not persist generation")
		}
	}

	c.mu.Lock()
	c.current = next
	for k, q := range quarantine {
		if cur, ok := c.quarantine[k]; ok && cur == q {
			delete(c.quarantine, k)
		}
	}
	c.mu.Unlock()

	usable, unusable := next.Counts()
	metrics.RecordCatalog(next.ID, usable, unusable)
	metrics.RecordReindex("success", time.Since(start))
	c.logger.Info().
		Str(log.FieldEvent, "catalog.reindexed").
		Uint64(log.FieldGeneration, next.ID).
		Int("usable", usable).
		Int("unusable", unusable).
		Int64(log.FieldDuration, time.Since(start).Milliseconds()).
		Msg("catalog reindex complete")
	return next, nil
}

type scanOutcome struct {
	assets []Asset
	result SourceResult
}

type probeJob struct {
	idx   int
	entry source.Entry
	prev  *Asset
}

// scanSource lists one connector and diffs it against prev. Only a cancelled
// context is returned as an error; connector failures become part of the
// outcome so the other sources are unaffected.
func (c *Catalog) scanSource(ctx context.Context, conn source.Connector, prev *Generation, gen uint64, quarantine map[Key]quarantined) (scanOutcome, error) {
	start := time.Now()
	id := conn.ID()
	out := scanOutcome{result: SourceResult{SourceID: id, Status: SourceOK}}
	logger := c.logger.With().Str(log.FieldSourceID, id).Logger()

	entries, err := conn.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		metrics.IncSourceFailure(id)
		logger.Warn().Err(err).Str(log.FieldEvent, "catalog.source_unavailable").Msg("source listing failed; keeping previous assets")
		for a := range prev.All() {
			if a.SourceID == id {
				out.assets = append(out.assets, a)
			}
		}
		out.result.Status = SourceUnavailable
		out.result.Error = err.Error()
		out.result.Carried = len(out.assets)
		out.result.Duration = time.Since(start)
		return out, nil
	}

	out.result.Listed = len(entries)
	out.assets = make([]Asset, len(entries))
	var jobs []probeJob
	for i, e := range entries {
		hash := Fingerprint(id, e.Path, e.Size, e.ModTime, e.ETag)
		key := Key{SourceID: id, Path: e.Path}
		p, existed := prev.Lookup(key)

		if existed && p.ContentHash == hash {
			p.Locator = e.Locator
			p.LastSeenGen = gen
			if q, ok := quarantine[key]; ok && q.hash == hash {
				p = c.fail(p, gen, q.reason)
			}
			if p.Usable || gen < p.RetryAfterGen {
				out.assets[i] = p
				out.result.Carried++
				continue
			}
			jobs = append(jobs, probeJob{idx: i, entry: e, prev: &p})
			continue
		}

		jobs = append(jobs, probeJob{idx: i, entry: e})
	}

	for _, j := range jobs {
		out.assets[j.idx] = Asset{
			SourceID:    id,
			Path:        j.entry.Path,
			Locator:     j.entry.Locator,
			Size:        j.entry.Size,
			ModTime:     j.entry.ModTime,
			ETag:        j.entry.ETag,
			ContentHash: Fingerprint(id, j.entry.Path, j.entry.Size, j.entry.ModTime, j.entry.ETag),
			LastSeenGen: gen,
		}
		if j.prev != nil {
			out.assets[j.idx].FailCount = j.prev.FailCount
		}
	}

	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(c.probeWorkers)
	for _, j := range jobs {
		pg.Go(func() error {
			if err := pctx.Err(); err != nil {
				return err
			}
			a := out.assets[j.idx]
			res, err := c.prober.Probe(pctx, conn, j.entry)
			if err != nil {
				if pctx.Err() != nil {
					return pctx.Err()
				}
				metrics.IncProbeFailure()
				logger.Debug().Err(err).Str(log.FieldEvent, "catalog.probe_failed").Str(log.FieldPath, a.Path).Msg("probe failed")
				out.assets[j.idx] = c.fail(a, gen, err.Error())
				return nil
			}
			a.Width, a.Height = res.Width, res.Height
			a.CapturedAt = res.CapturedAt
			if a.CapturedAt.IsZero() {
				a.CapturedAt = a.ModTime
			}
			a.Probed = true
			a.Usable = true
			a.FailCount = 0
			a.RetryAfterGen = 0
			a.LastError = ""
			out.assets[j.idx] = a
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return out, err
	}

	for _, a := range out.assets {
		if !a.Usable {
			out.result.Failed++
		}
	}
	out.result.Probed = len(jobs)
	if out.result.Failed > 0 {
		out.result.Status = SourceDegraded
	}
	out.result.Duration = time.Since(start)
	return out, nil
}

// fail marks an asset unusable until gen+retryBudget.
func (c *Catalog) fail(a Asset, gen uint64, reason string) Asset {
	a.Usable = false
	a.FailCount++
	a.RetryAfterGen = gen + c.retryBudget
	a.LastError = reason
	if a.CapturedAt.IsZero() {
		a.CapturedAt = a.ModTime
	}
	return a
}

// MarkUnusable records a render-side failure. The asset disappears from
// queries immediately and is folded into the next generation as unusable.
// Generations already handed out are not modified.
func (c *Catalog) MarkUnusable(a Asset, reason string) {
	c.mu.Lock()
	c.quarantine[a.Key()] = quarantined{hash: a.ContentHash, reason: reason}
	c.mu.Unlock()
	c.logger.Warn().
		Str(log.FieldEvent, "catalog.asset_unusable").
		Str(log.FieldSourceID, a.SourceID).
		Str(log.FieldPath, a.Path).
		Str("reason", reason).
		Msg("asset marked unusable")
}

// IsQuarantined reports whether a render failure has been recorded for the
// asset's current content.
func (c *Catalog) IsQuarantined(a Asset) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quarantine[a.Key()]
	return ok && q.hash == a.ContentHash
}

// Filter narrows Query.
type Filter struct {
	SourceID        string // empty means every source
	IncludeUnusable bool
}

// Query lazily yields the assets of gen ordered by (source, path). Unusable
// and quarantined assets are skipped unless IncludeUnusable is set.
func (c *Catalog) Query(gen *Generation, f Filter) iter.Seq[Asset] {
	return func(yield func(Asset) bool) {
		c.mu.RLock()
		quarantine := make(map[Key]string, len(c.quarantine))
		for k, q := range c.quarantine {
			quarantine[k] = q.hash
		}
		c.mu.RUnlock()

		for a := range gen.All() {
			if f.SourceID != "" && a.SourceID != f.SourceID {
				continue
			}
			if !f.IncludeUnusable {
				if !a.Usable {
					continue
				}
				if h, ok := quarantine[a.Key()]; ok && h == a.ContentHash {
					continue
				}
			}
			if !yield(a) {
				return
			}
		}
	}
}
