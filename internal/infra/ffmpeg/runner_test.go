// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferKeepsNewestInOrder(t *testing.T) {
	r := NewRingBuffer(3)
	assert.Empty(t, r.GetAll())
	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.GetAll())
	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.GetAll())
}

func TestConverterMissingBinary(t *testing.T) {
	c := NewConverter("/nonexistent/ffmpeg-binary", time.Second, zerolog.Nop())
	_, err := c.ToJPEG(context.Background(), strings.NewReader("not an image"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec start failed")
}

func TestNewConverterDefaults(t *testing.T) {
	c := NewConverter("", 0, zerolog.Nop())
	assert.Equal(t, "ffmpeg", c.BinaryPath)
	assert.Equal(t, 30*time.Second, c.Timeout)
}
