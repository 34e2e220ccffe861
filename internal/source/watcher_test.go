// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherDebouncesBursts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	var calls atomic.Int32
	w := NewWatcher([]Connector{NewLocal(localCfg(root))}, 100*time.Millisecond, func() { calls.Add(1) })
	require.NotNil(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "burst", "p.jpg"), "x")
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcherWithoutLocalSources(t *testing.T) {
	dav := NewWebDAV(davCfg("http://nas.local/dav"))
	assert.Nil(t, NewWatcher([]Connector{dav}, time.Second, func() {}))
}

func TestWatcherFollowsDirectorySymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "trip"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))
	// A link back to the root must not send the walk in circles.
	require.NoError(t, os.Symlink(root, filepath.Join(outside, "loop")))

	var calls atomic.Int32
	w := NewWatcher([]Connector{NewLocal(localCfg(root))}, 50*time.Millisecond, func() { calls.Add(1) })
	require.NotNil(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(outside, "trip", "p.jpg"), "x")
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
