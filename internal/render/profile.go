// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"fmt"
	"hash/fnv"

	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/config"
)

// Profile describes how a frame is produced for one kind of display.
type Profile struct {
	MaxLongEdge   int    `json:"max_long_edge"`
	JPEGQuality   int    `json:"jpeg_quality"`
	Caption       bool   `json:"caption"`
	CaptionFormat string `json:"caption_format,omitempty"`
}

// Key identifies the profile inside a frame key. A non-default caption
// format adds a short hash so frames captioned differently never collide.
func (p Profile) Key() string {
	k := fmt.Sprintf("%dq%d", p.MaxLongEdge, p.JPEGQuality)
	if p.Caption {
		k += "c"
		if f := p.CaptionFormat; f != "" && f != config.DefaultCaptionFormat {
			h := fnv.New32a()
			_, _ = h.Write([]byte(f))
			k += fmt.Sprintf("%08x", h.Sum32())
		}
	}
	return k
}

// DefaultProfile is the profile of the display section.
func DefaultProfile(d config.DisplayConfig) Profile {
	return Profile{
		MaxLongEdge:   d.MaxLongEdge,
		JPEGQuality:   d.JPEGQuality,
		Caption:       d.CaptionEnabled,
		CaptionFormat: d.CaptionFormat,
	}
}

// ProfileFor applies a device's overrides to the display defaults.
func ProfileFor(d config.DisplayConfig, dev config.DeviceConfig) Profile {
	p := DefaultProfile(d)
	if dev.MaxLongEdge > 0 {
		p.MaxLongEdge = dev.MaxLongEdge
	}
	if dev.Caption != nil {
		p.Caption = *dev.Caption
	}
	return p
}

// FrameKey is the cache key of an asset rendered with a profile. It changes
// whenever the asset content changes.
func FrameKey(a catalog.Asset, p Profile) string {
	return a.ContentHash + "-" + p.Key()
}
