// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg converts camera-native stills the Go decoders cannot read.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrConvert is returned when ffmpeg exits without producing an image.
var ErrConvert = errors.New("ffmpeg conversion failed")

// Converter turns HEIC/HEIF (or any ffmpeg-readable still) into JPEG by piping
// the source through an ffmpeg child process.
type Converter struct {
	BinaryPath string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

func NewConverter(binaryPath string, timeout time.Duration, logger zerolog.Logger) *Converter {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Converter{BinaryPath: binaryPath, Timeout: timeout, Logger: logger}
}

// ToJPEG reads the whole of src and returns the first frame as JPEG bytes.
func (c *Converter) ToJPEG(ctx context.Context, src io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	// #nosec G204 -- binary comes from operator config; args are fixed
	cmd := exec.CommandContext(ctx, c.BinaryPath,
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2", "-c:v", "mjpeg", "-q:v", "2",
		"pipe:1",
	)
	cmd.Stdin = src
	var out bytes.Buffer
	cmd.Stdout = &out

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec start failed: %w", err)
	}

	ring := NewRingBuffer(20)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			ring.Add(scanner.Text())
		}
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrConvert, ctx.Err())
	}
	if waitErr != nil || out.Len() == 0 {
		diag := strings.Join(ring.GetAll(), " | ")
		c.Logger.Debug().Err(waitErr).Str("stderr", diag).Msg("ffmpeg conversion failed")
		if waitErr == nil {
			waitErr = errors.New("empty output")
		}
		return nil, fmt.Errorf("%w: %w: %s", ErrConvert, waitErr, diag)
	}
	return out.Bytes(), nil
}

// RingBuffer keeps the last lines of ffmpeg diagnostics.
type RingBuffer struct {
	lines []string
	pos   int
	full  bool
	mu    sync.Mutex
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{lines: make([]string, size)}
}

func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *RingBuffer) GetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}
