// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/photocast/internal/source"
)

// MemoryFile is one file held by a MemorySource.
type MemoryFile struct {
	Data    []byte
	ModTime time.Time
	ETag    string
}

// MemorySource is an in-memory source.Connector with switchable failures.
type MemorySource struct {
	id string

	mu      sync.Mutex
	files   map[string]MemoryFile
	listErr error
	openErr error
	opens   map[string]int
	lists   int
}

var _ source.Connector = (*MemorySource)(nil)

func NewMemorySource(id string) *MemorySource {
	return &MemorySource{id: id, files: make(map[string]MemoryFile), opens: make(map[string]int)}
}

func (m *MemorySource) ID() string        { return m.id }
func (m *MemorySource) Kind() source.Kind { return source.Kind("memory") }

// Put adds or replaces a file.
func (m *MemorySource) Put(path string, data []byte, mod time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = MemoryFile{Data: data, ModTime: mod.UTC().Truncate(time.Second)}
}

// Remove deletes a file.
func (m *MemorySource) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// FailList makes List fail with a source.ErrSourceUnavailable wrapped error
// until called again with false.
func (m *MemorySource) FailList(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = nil
	if fail {
		m.listErr = fmt.Errorf("%w: %s: list: connection refused", source.ErrSourceUnavailable, m.id)
	}
}

// FailOpen makes Open fail with the given error (nil restores).
func (m *MemorySource) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Opens reports how often path was opened.
func (m *MemorySource) Opens(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[path]
}

// Lists reports how often List was called.
func (m *MemorySource) Lists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

func (m *MemorySource) List(ctx context.Context) ([]source.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]source.Entry, 0, len(m.files))
	for p, f := range m.files {
		out = append(out, source.Entry{
			Path:    p,
			Locator: p,
			Size:    int64(len(f.Data)),
			ModTime: f.ModTime,
			ETag:    f.ETag,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemorySource) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[locator]++
	if m.openErr != nil {
		return nil, m.openErr
	}
	f, ok := m.files[locator]
	if !ok {
		return nil, fmt.Errorf("memory %s: open %s: %w", m.id, locator, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}
