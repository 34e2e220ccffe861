// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cast runs one independent slideshow session per cast target.
package cast

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/playlist"
	"github.com/ManuGH/photocast/internal/render"
)

// ErrUnknownTarget is returned for a target name that is not configured.
var ErrUnknownTarget = errors.New("unknown target")

// Manager owns the sessions of all configured targets.
type Manager struct {
	order    []string
	sessions map[string]*Session
}

// NewManager creates a discovered session per device. profileFor picks the
// render profile of each device.
func NewManager(devs []config.DeviceConfig, profileFor func(config.DeviceConfig) render.Profile, timing Timing, deps Deps) *Manager {
	m := &Manager{sessions: make(map[string]*Session, len(devs))}
	for _, d := range devs {
		m.order = append(m.order, d.Name)
		m.sessions[d.Name] = NewSession(d, profileFor(d), timing, deps)
	}
	return m
}

// Names lists configured targets in configuration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// Resolve maps names to sessions; no names means every target. Unknown
// names fail the whole call before anything is touched.
func (m *Manager) Resolve(names []string) ([]*Session, error) {
	if len(names) == 0 {
		names = m.order
	}
	out := make([]*Session, 0, len(names))
	var unknown []error
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		s, ok := m.sessions[n]
		if !ok {
			unknown = append(unknown, fmt.Errorf("%w: %q", ErrUnknownTarget, n))
			continue
		}
		out = append(out, s)
	}
	if len(unknown) > 0 {
		return nil, errors.Join(unknown...)
	}
	return out, nil
}

// Start starts every named target on pl. Failures are reported per target.
func (m *Manager) Start(parent context.Context, names []string, pl *playlist.Playlist) error {
	sessions, err := m.Resolve(names)
	if err != nil {
		return err
	}
	return each(sessions, func(s *Session) error { return s.Start(parent, pl) })
}

// Stop stops every named target.
func (m *Manager) Stop(ctx context.Context, names []string) error {
	sessions, err := m.Resolve(names)
	if err != nil {
		return err
	}
	return each(sessions, func(s *Session) error { return s.Stop(ctx) })
}

// Pause pauses every named target.
func (m *Manager) Pause(ctx context.Context, names []string) error {
	sessions, err := m.Resolve(names)
	if err != nil {
		return err
	}
	return each(sessions, func(s *Session) error { return s.Pause(ctx) })
}

// Resume resumes every named target.
func (m *Manager) Resume(ctx context.Context, names []string) error {
	sessions, err := m.Resolve(names)
	if err != nil {
		return err
	}
	return each(sessions, func(s *Session) error { return s.Resume(ctx) })
}

// Next skips every named target to its next asset.
func (m *Manager) Next(ctx context.Context, names []string) error {
	sessions, err := m.Resolve(names)
	if err != nil {
		return err
	}
	return each(sessions, func(s *Session) error { return s.Next(ctx) })
}

// Stage hands pl to every active session.
func (m *Manager) Stage(pl *playlist.Playlist) {
	for _, n := range m.order {
		if s := m.sessions[n]; s.State().Active() {
			s.Stage(pl)
		}
	}
}

// AnyActive reports whether at least one session is active.
func (m *Manager) AnyActive() bool {
	for _, s := range m.sessions {
		if s.State().Active() {
			return true
		}
	}
	return false
}

// Snapshots returns every session's state in configuration order.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.sessions[n].Snapshot())
	}
	return out
}

// Shutdown stops every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.Stop(ctx, nil)
}

func each(sessions []*Session, fn func(*Session) error) error {
	var errs []error
	for _, s := range sessions {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
