// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"path"
	"strings"
	"time"

	"github.com/ManuGH/photocast/internal/source"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// headerLimit bounds how much of a file is read to probe it. JPEG EXIF sits in
// APP1 at the start of the file, well within this.
const headerLimit = 256 << 10

// ErrProbe marks a header that could not be parsed.
var ErrProbe = errors.New("probe failed")

// ProbeResult is what a header-only probe learns about an image.
type ProbeResult struct {
	Width      int
	Height     int
	CapturedAt time.Time // zero when the file carries no capture time
}

// Prober inspects an image without decoding its pixels.
type Prober interface {
	Probe(ctx context.Context, conn source.Connector, e source.Entry) (ProbeResult, error)
}

// Converter turns formats the Go decoders cannot read into JPEG.
type Converter interface {
	ToJPEG(ctx context.Context, src io.Reader) ([]byte, error)
}

// NeedsConversion reports whether a path names a camera-native format that
// has to go through the converter.
func NeedsConversion(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

// ImageProber reads dimensions from the image header and the capture time
// from EXIF DateTimeOriginal.
type ImageProber struct {
	Converter Converter
}

func (p ImageProber) Probe(ctx context.Context, conn source.Connector, e source.Entry) (ProbeResult, error) {
	rc, err := conn.Open(ctx, e.Locator)
	if err != nil {
		return ProbeResult{}, err
	}
	defer func() { _ = rc.Close() }()

	var head []byte
	if NeedsConversion(e.Path) {
		if p.Converter == nil {
			return ProbeResult{}, fmt.Errorf("%w: no converter for %s", ErrProbe, path.Ext(e.Path))
		}
		head, err = p.Converter.ToJPEG(ctx, rc)
	} else {
		head, err = io.ReadAll(io.LimitReader(rc, headerLimit))
	}
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	return ProbeHeader(head)
}

// ProbeHeader parses an in-memory image prefix.
func ProbeHeader(head []byte) (ProbeResult, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(head))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ProbeResult{}, fmt.Errorf("%w: %s header reports %dx%d", ErrProbe, format, cfg.Width, cfg.Height)
	}
	res := ProbeResult{Width: cfg.Width, Height: cfg.Height}
	if x, err := exif.Decode(bytes.NewReader(head)); err == nil {
		if t, err := x.DateTime(); err == nil {
			res.CapturedAt = t.UTC()
		}
		// Orientations 5-8 rotate by 90 degrees, swapping the displayed axes.
		if tag, err := x.Get(exif.Orientation); err == nil {
			if o, err := tag.Int(0); err == nil && o >= 5 && o <= 8 {
				res.Width, res.Height = res.Height, res.Width
			}
		}
	}
	return res, nil
}
