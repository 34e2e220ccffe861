// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"image"
	"image/color"
	"path"
	"strings"
	"time"

	"github.com/ManuGH/photocast/internal/catalog"
	"github.com/ManuGH/photocast/internal/config"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	captionDateLayout = "2006-01-02"
	captionTimeLayout = "15:04"
)

// captionTrim is stripped from both ends once empty fields are substituted,
// so "{datetime} · {filename}" without a capture time reads "beach.jpg".
const captionTrim = " ·-|,:/"

// CaptionText expands format for a. An empty format means
// config.DefaultCaptionFormat. Unknown placeholders are left as written.
func CaptionText(format string, a catalog.Asset) string {
	if format == "" {
		format = config.DefaultCaptionFormat
	}
	var datetime, date, clock string
	if !a.CapturedAt.IsZero() {
		t := a.CapturedAt.Local()
		date, clock = t.Format(captionDateLayout), t.Format(captionTimeLayout)
		datetime = date + " " + clock
	}
	folder := path.Base(path.Dir(a.Path))
	if folder == "." || folder == "/" {
		folder = ""
	}
	r := strings.NewReplacer(
		"{datetime}", datetime,
		"{date}", date,
		"{time}", clock,
		"{filename}", path.Base(a.Path),
		"{folder}", folder,
		"{path}", a.Path,
		"{source}", a.SourceID,
	)
	return strings.Trim(r.Replace(format), captionTrim)
}

// drawCaption composites text bottom-left with a one-pixel shadow. The glyphs
// are drawn at the face's native size and scaled up with the frame so they
// stay legible on large displays.
func drawCaption(dst xdraw.Image, text string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	b := dst.Bounds()

	d := &font.Drawer{Face: face}
	w := d.MeasureString(text).Ceil() + 1
	h := face.Height + 1
	if w <= 1 {
		return
	}

	glyphs := image.NewNRGBA(image.Rect(0, 0, w, h))
	d.Dst = glyphs
	d.Src = image.NewUniform(color.Black)
	d.Dot = fixed.Point26_6{X: fixed.I(1), Y: fixed.I(face.Ascent + 1)}
	d.DrawString(text)
	d.Src = image.NewUniform(color.White)
	d.Dot = fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)}
	d.DrawString(text)

	scale := max(1, max(b.Dx(), b.Dy())/640)
	margin := max(4, h*scale*6/10)
	sw, sh := w*scale, h*scale
	if sw+margin > b.Dx() {
		sw = b.Dx() - margin
		sh = sw * h / w
	}
	if sw <= 0 || sh <= 0 || sh+margin > b.Dy() {
		return
	}
	x0 := b.Min.X + margin
	y0 := b.Max.Y - margin - sh
	xdraw.NearestNeighbor.Scale(dst, image.Rect(x0, y0, x0+sw, y0+sh), glyphs, glyphs.Bounds(), xdraw.Over, nil)
}
