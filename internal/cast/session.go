// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/fsm"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/metrics"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/ManuGH/photocast/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// Renderer produces frames for assets.
type Renderer interface {
	Render(ctx context.Context, a catalog.Asset, p render.Profile) (*render.Frame, error)
}

// Timing configures the session loops.
type Timing struct {
	Interval          time.Duration
	HeartbeatInterval time.Duration
	DeviceTimeout     time.Duration
	Backoff           BackoffConfig
}

// Deps are shared by every session.
type Deps struct {
	Dialer   Dialer
	Renderer Renderer
	Host     *FrameHost
	Resume   *ResumeStore // optional
	Now      func() time.Time
}

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	Target         string    `json:"target"`
	State          State     `json:"state"`
	StateSince     time.Time `json:"state_since"`
	CurrentPath    string    `json:"current_path,omitempty"`
	CurrentSource  string    `json:"current_source,omitempty"`
	Index          int       `json:"index"`
	PlaylistID     string    `json:"playlist_id,omitempty"`
	PlaylistLength int       `json:"playlist_length"`
	StagedPlaylist string    `json:"staged_playlist_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Pushes         int64     `json:"pushes"`
	PushFailures   int64     `json:"push_failures"`
	Skips          int64     `json:"skips"`
	Reconnects     int64     `json:"reconnects"`
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdNext
)

type command struct {
	kind  cmdKind
	reply chan struct{}
}

// Session drives one cast target. A running session owns one goroutine; all
// device I/O and state transitions happen on it.
type Session struct {
	dev     config.DeviceConfig
	profile render.Profile
	timing  Timing
	deps    Deps
	logger  zerolog.Logger
	machine *fsm.Machine[State, Event]

	runMu  sync.Mutex
	live   atomic.Bool // a run goroutine has not exited yet
	cancel context.CancelFunc
	done   chan struct{}
	cmds   chan command

	mu         sync.Mutex
	playlist   *playlist.Playlist
	staged     *playlist.Playlist
	index      int
	current    catalog.Asset
	stateSince time.Time
	lastErr    string
	pushes     int64
	failures   int64
	skips      int64
	reconnects int64
	wantPaused bool
}

// NewSession creates a session in the discovered state.
func NewSession(dev config.DeviceConfig, profile render.Profile, timing Timing, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if timing.DeviceTimeout <= 0 {
		timing.DeviceTimeout = 5 * time.Second
	}
	s := &Session{
		dev:     dev,
		profile: profile,
		timing:  timing,
		deps:    deps,
		logger:  log.WithComponent("cast").With().Str(log.FieldTargetID, dev.Name).Logger(),
		cmds:    make(chan command),
	}
	s.machine = newMachine(s.guardStart)
	s.stateSince = deps.Now()
	s.machine.OnTransition(func(from, to State, ev Event) {
		s.mu.Lock()
		s.stateSince = s.deps.Now()
		s.mu.Unlock()
		metrics.RecordSessionState(s.dev.Name, string(to), AllStates)
		s.logger.Info().
			Str(log.FieldEvent, "cast.state_changed").
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Str("trigger", string(ev)).
			Msg("session state changed")
	})
	metrics.RecordSessionState(dev.Name, string(StateDiscovered), AllStates)
	return s
}

// Name is the configured target name.
func (s *Session) Name() string { return s.dev.Name }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.machine.State() }

// Start connects to the device and plays pl. It returns once the session
// goroutine is running; connection progress is visible through State. A
// session that is already active is left alone. parent bounds the session's
// lifetime and must outlive the calling request.
func (s *Session) Start(parent context.Context, pl *playlist.Playlist) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		select {
		case <-s.done:
			// The old run is over, by Stop or because its parent ended.
			s.cancel()
			s.cancel, s.done = nil, nil
		default:
		}
	}
	if !s.machine.Can(EventStart) {
		return nil
	}
	if _, err := s.machine.Fire(parent, EventStart); err != nil {
		return err
	}

	s.mu.Lock()
	s.playlist = pl
	s.staged = nil
	s.index = s.resumeIndex(pl)
	s.lastErr = ""
	s.wantPaused = false
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(log.ContextWithTargetID(parent, s.dev.Name))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.live.Store(true)
	go s.run(ctx, s.done)
	return nil
}

// guardStart refuses a new run while the previous goroutine, already
// disconnected, has not returned yet.
func (s *Session) guardStart(context.Context, State, Event) error {
	if s.live.Load() {
		return ErrSessionBusy
	}
	return nil
}

func (s *Session) resumeIndex(pl *playlist.Playlist) int {
	pos, ok := s.deps.Resume.Get(s.dev.Name)
	if !ok {
		return 0
	}
	if i := pl.IndexOf(pos.Asset); i >= 0 {
		s.logger.Info().Str(log.FieldEvent, "cast.resumed").Str(log.FieldPath, pos.Asset.Path).
			Int(log.FieldIndex, i).Msg("resuming at last shown asset")
		return i
	}
	return 0
}

// Stop ends the device session. It is idempotent and waits for the session
// goroutine to exit or ctx to end.
func (s *Session) Stop(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cancel = nil
	s.done = nil
	return nil
}

// Pause holds the current frame. The connection and heartbeat stay up.
func (s *Session) Pause(ctx context.Context) error { return s.send(ctx, cmdPause) }

// Resume continues a paused slideshow with the next asset.
func (s *Session) Resume(ctx context.Context) error { return s.send(ctx, cmdResume) }

// Next shows the next asset now.
func (s *Session) Next(ctx context.Context) error { return s.send(ctx, cmdNext) }

func (s *Session) send(ctx context.Context, kind cmdKind) error {
	s.runMu.Lock()
	done := s.done
	s.runMu.Unlock()
	if done == nil {
		return nil
	}
	cmd := command{kind: kind, reply: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.reply:
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stage hands the session a new playlist, adopted at the next wrap boundary.
func (s *Session) Stage(pl *playlist.Playlist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		s.playlist = pl
		return
	}
	s.staged = pl
}

// Snapshot copies the session's observable state.
func (s *Session) Snapshot() Snapshot {
	st := s.machine.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Target:         s.dev.Name,
		State:          st,
		StateSince:     s.stateSince,
		CurrentPath:    s.current.Path,
		CurrentSource:  s.current.SourceID,
		Index:          s.index,
		PlaylistLength: s.playlist.Len(),
		LastError:      s.lastErr,
		Pushes:         s.pushes,
		PushFailures:   s.failures,
		Skips:          s.skips,
		Reconnects:     s.reconnects,
	}
	if s.playlist != nil {
		snap.PlaylistID = s.playlist.ID
	}
	if s.staged != nil {
		snap.StagedPlaylist = s.staged.ID
	}
	return snap
}

func (s *Session) fire(ctx context.Context, ev Event) bool {
	if _, err := s.machine.Fire(ctx, ev); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "cast.transition_rejected").Msg("transition rejected")
		return false
	}
	return true
}

func (s *Session) fault(ctx context.Context, err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.logger.Warn().Err(err).Str(log.FieldEvent, "cast.device_fault").Msg("device fault")
	s.fire(ctx, EventFault)
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.live.Store(false)

	var tr Transport
	defer func() {
		if tr != nil {
			_ = tr.Close()
		}
		s.deps.Host.Release(s.dev.Name)
		s.fire(context.Background(), EventStop)
	}()

	advance := stoppedTimer()
	defer advance.Stop()
	retry := stoppedTimer()
	defer retry.Stop()
	heartbeat := time.NewTicker(positive(s.timing.HeartbeatInterval, 5*time.Second))
	defer heartbeat.Stop()
	interval := positive(s.timing.Interval, 10*time.Second)
	attempt := 0

	// drop closes the transport and schedules the next reconnect attempt.
	drop := func(err error) {
		if tr != nil {
			_ = tr.Close()
			tr = nil
		}
		advance.Stop()
		s.fault(ctx, err)
		attempt++
		delay := NextBackoffDelay(s.timing.Backoff, attempt)
		s.logger.Info().Str(log.FieldEvent, "cast.reconnect_scheduled").Int(log.FieldAttempt, attempt).
			Int64(log.FieldDuration, delay.Milliseconds()).Msg("reconnect scheduled")
		retry.Reset(delay)
	}

	connect := func() {
		t, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				drop(err)
			}
			return
		}
		tr = t
		if attempt > 0 {
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			metrics.IncDeviceReconnect(s.dev.Name)
		}
		attempt = 0
		s.fire(ctx, EventConnected)
		s.mu.Lock()
		paused := s.wantPaused
		s.mu.Unlock()
		if paused {
			s.fire(ctx, EventPause)
			return
		}
		s.fire(ctx, EventPlay)
		advance.Reset(0)
	}

	connect()
	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmds:
			s.handle(ctx, cmd.kind, advance)
			close(cmd.reply)

		case <-advance.C:
			if s.machine.State() != StatePlaying || tr == nil {
				continue
			}
			if err := s.advance(ctx, tr); err != nil {
				if ctx.Err() != nil {
					return
				}
				drop(err)
				continue
			}
			advance.Reset(interval)

		case <-heartbeat.C:
			st := s.machine.State()
			if tr == nil || (st != StatePlaying && st != StatePaused) {
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, s.timing.DeviceTimeout)
			_, err := tr.Status(hctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				drop(fmt.Errorf("heartbeat: %w", err))
			}

		case <-retry.C:
			if !s.fire(ctx, EventRetry) {
				continue
			}
			connect()
		}
	}
}

func (s *Session) handle(ctx context.Context, kind cmdKind, advance *time.Timer) {
	switch kind {
	case cmdPause:
		s.mu.Lock()
		s.wantPaused = true
		s.mu.Unlock()
		if s.machine.State() == StatePlaying && s.fire(ctx, EventPause) {
			advance.Stop()
		}
	case cmdResume:
		s.mu.Lock()
		s.wantPaused = false
		s.mu.Unlock()
		if s.machine.State() == StatePaused && s.fire(ctx, EventResume) {
			advance.Reset(0)
		}
	case cmdNext:
		if s.machine.State() == StatePlaying {
			advance.Reset(0)
		}
	}
}

func (s *Session) dial(ctx context.Context) (Transport, error) {
	tr, err := s.deps.Dialer.Dial(ctx, s.dev)
	if err != nil {
		return nil, s.unreachable(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timing.DeviceTimeout)
	defer cancel()
	if err := tr.Connect(cctx); err != nil {
		_ = tr.Close()
		return nil, s.unreachable(err)
	}
	return tr, nil
}

func (s *Session) unreachable(err error) error {
	if errors.Is(err, ErrDeviceUnreachable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, s.dev.Name, err)
}

// wrapLocked moves to the start of the slideshow, adopting a staged playlist.
// The asset that would have been shown next keeps its place when it survives
// into the new playlist.
func (s *Session) wrapLocked() {
	s.index = 0
	if s.staged == nil {
		return
	}
	next := s.staged
	s.staged = nil
	if s.playlist.Len() > 0 {
		if i := next.IndexOf(s.playlist.At(0).Key()); i >= 0 {
			s.index = i
		}
	}
	s.logger.Info().Str(log.FieldEvent, "cast.playlist_adopted").
		Str(log.FieldPlaylistID, next.ID).Int("length", next.Len()).Int(log.FieldIndex, s.index).
		Msg("adopted staged playlist")
	s.playlist = next
}

// advance shows the asset at the current index. Assets that fail to render
// are skipped, at most one pass over the playlist. Only device errors are
// returned.
func (s *Session) advance(ctx context.Context, tr Transport) error {
	s.mu.Lock()
	if s.playlist.Len() == 0 || s.index >= s.playlist.Len() {
		s.wrapLocked()
	}
	pl, idx := s.playlist, s.index
	s.mu.Unlock()

	n := pl.Len()
	for budget := n; budget > 0; budget-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		a := pl.At(idx)
		frame, err := s.deps.Renderer.Render(ctx, a, s.profile)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str(log.FieldEvent, "cast.asset_skipped").
				Str(log.FieldSourceID, a.SourceID).Str(log.FieldPath, a.Path).Msg("skipping asset")
			s.mu.Lock()
			s.skips++
			if idx+1 < n {
				s.mu.Unlock()
				idx++
				continue
			}
			// Skipping past the end is a wrap: a staged playlist takes over
			// here and gets one full pass of its own.
			s.index = n
			s.wrapLocked()
			if s.playlist != pl {
				budget = s.playlist.Len() + 1
			}
			pl, idx = s.playlist, s.index
			s.mu.Unlock()
			n = pl.Len()
			continue
		}

		url := s.deps.Host.Publish(s.dev.Name, frame)
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.push(ctx, tr, idx, url, frame.ContentType)
		if err != nil {
			s.mu.Lock()
			s.index = idx
			s.failures++
			s.mu.Unlock()
			metrics.IncDevicePush(s.dev.Name, "error")
			return fmt.Errorf("load: %w", err)
		}

		s.mu.Lock()
		s.current = a
		s.index = idx + 1
		s.pushes++
		s.mu.Unlock()
		metrics.IncDevicePush(s.dev.Name, "ok")
		s.logger.Debug().Str(log.FieldEvent, "cast.pushed").Str(log.FieldPath, a.Path).
			Int(log.FieldIndex, idx).Str(log.FieldURL, url).Msg("frame pushed")
		if err := s.deps.Resume.Save(s.dev.Name, Position{
			PlaylistID: pl.ID,
			Asset:      a.Key(),
			Index:      idx,
			UpdatedAt:  s.deps.Now(),
		}); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "cast.resume_save_failed").Msg("could not persist position")
		}
		return nil
	}

	if n > 0 {
		s.mu.Lock()
		s.index = idx
		s.mu.Unlock()
		s.logger.Warn().Str(log.FieldEvent, "cast.nothing_renderable").Int("length", n).
			Msg("no asset in the playlist could be rendered")
	}
	return nil
}

func (s *Session) push(ctx context.Context, tr Transport, idx int, url, contentType string) error {
	ctx, span := telemetry.Tracer("photocast/cast").Start(ctx, "cast.load")
	defer span.End()
	span.SetAttributes(telemetry.CastAttributes(s.dev.Name, idx, url)...)

	ctx, cancel := context.WithTimeout(ctx, s.timing.DeviceTimeout)
	defer cancel()
	if err := tr.Load(ctx, url, contentType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func positive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
