// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"strings"
	"sync"

	"github.com/ManuGH/photocast/internal/render"
)

// FrameHost keeps the frames currently published to devices so they can be
// fetched over HTTP. A frame stays reachable while any target shows it.
type FrameHost struct {
	baseURL string

	mu       sync.RWMutex
	frames   map[string]*render.Frame
	byTarget map[string]string
}

// NewFrameHost creates a host whose URLs start at baseURL.
func NewFrameHost(baseURL string) *FrameHost {
	return &FrameHost{
		baseURL:  strings.TrimRight(baseURL, "/"),
		frames:   make(map[string]*render.Frame),
		byTarget: make(map[string]string),
	}
}

// Publish makes f the frame of target and returns the URL the device loads.
func (h *FrameHost) Publish(target string, f *render.Frame) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, had := h.byTarget[target]
	h.byTarget[target] = f.Key
	h.frames[f.Key] = f
	if had && old != f.Key {
		h.dropIfUnused(old)
	}
	return h.URL(f.Key)
}

// Release forgets the frame of target.
func (h *FrameHost) Release(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.byTarget[target]; ok {
		delete(h.byTarget, target)
		h.dropIfUnused(old)
	}
}

func (h *FrameHost) dropIfUnused(key string) {
	for _, k := range h.byTarget {
		if k == key {
			return
		}
	}
	delete(h.frames, key)
}

// Get returns a published frame.
func (h *FrameHost) Get(key string) (*render.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.frames[key]
	return f, ok
}

// URL is the address of the frame with key.
func (h *FrameHost) URL(key string) string {
	return h.baseURL + "/frames/" + key + ".jpg"
}
