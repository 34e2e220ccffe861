// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/google/renameio/v2"
)

// Position is where a target was in its slideshow.
type Position struct {
	PlaylistID string      `json:"playlist_id"`
	Asset      catalog.Key `json:"asset"`
	Index      int         `json:"index"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// ResumeStore persists the last shown asset per target.
type ResumeStore struct {
	path string

	mu        sync.Mutex
	positions map[string]Position
}

// OpenResumeStore loads path if it exists. A corrupt file is discarded.
func OpenResumeStore(path string) (*ResumeStore, error) {
	s := &ResumeStore{path: path, positions: make(map[string]Position)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read resume state: %w", err)
	}
	if err := json.Unmarshal(data, &s.positions); err != nil {
		s.positions = make(map[string]Position)
	}
	return s, nil
}

// Get returns the saved position of target.
func (s *ResumeStore) Get(target string) (Position, bool) {
	if s == nil {
		return Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[target]
	return p, ok
}

// Save records p for target and rewrites the file atomically.
func (s *ResumeStore) Save(target string, p Position) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[target] = p

	data, err := json.MarshalIndent(s.positions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create resume dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending resume file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace resume state: %w", err)
	}
	return nil
}
