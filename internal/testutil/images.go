// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w, 1)), G: uint8(y * 255 / max(h, 1)), B: 128, A: 255})
		}
	}
	return img
}

// JPEG encodes a w x h gradient.
func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes a w x h gradient.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithCaptureTime encodes a gradient carrying EXIF DateTimeOriginal.
// The timestamp is written in local time, the way cameras record it.
func JPEGWithCaptureTime(t testing.TB, w, h int, captured time.Time) []byte {
	t.Helper()
	plain := JPEG(t, w, h)

	stamp := captured.In(time.Local).Format("2006:01:02 15:04:05") + "\x00"

	be := binary.BigEndian
	var tiff bytes.Buffer
	tiff.WriteString("MM\x00\x2a")
	_ = binary.Write(&tiff, be, uint32(8)) // IFD0 offset

	// IFD0: one entry pointing at the Exif sub-IFD at offset 26.
	_ = binary.Write(&tiff, be, uint16(1))
	_ = binary.Write(&tiff, be, uint16(0x8769))
	_ = binary.Write(&tiff, be, uint16(4))
	_ = binary.Write(&tiff, be, uint32(1))
	_ = binary.Write(&tiff, be, uint32(26))
	_ = binary.Write(&tiff, be, uint32(0))

	// Exif IFD: DateTimeOriginal stored at offset 44.
	_ = binary.Write(&tiff, be, uint16(1))
	_ = binary.Write(&tiff, be, uint16(0x9003))
	_ = binary.Write(&tiff, be, uint16(2))
	_ = binary.Write(&tiff, be, uint32(len(stamp)))
	_ = binary.Write(&tiff, be, uint32(44))
	_ = binary.Write(&tiff, be, uint32(0))
	tiff.WriteString(stamp)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(plain[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, be, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(plain[2:])
	return out.Bytes()
}
