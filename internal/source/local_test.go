// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

func localCfg(root string) config.SourceConfig {
	return config.SourceConfig{
		ID:         "home",
		Type:       config.SourceLocal,
		Root:       root,
		IncludeExt: []string{".jpg", "png"},
	}
}

func TestLocalListFiltersAndRecurses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "a")
	writeFile(t, filepath.Join(root, "B.PNG"), "bb")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(root, ".hidden.jpg"), "x")
	writeFile(t, filepath.Join(root, ".thumbs", "c.jpg"), "x")
	writeFile(t, filepath.Join(root, "2024", "summer", "d.jpg"), "ddd")

	entries, err := NewLocal(localCfg(root)).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/summer/d.jpg", "B.PNG", "a.jpg"}, paths(entries))

	for _, e := range entries {
		if e.Path == "2024/summer/d.jpg" {
			assert.Equal(t, int64(3), e.Size)
			assert.False(t, e.ModTime.IsZero())
			assert.Equal(t, e.Path, e.Locator)
		}
	}
}

func TestLocalListRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.jpg"), "x")
	writeFile(t, filepath.Join(root, "one", "mid.jpg"), "x")
	writeFile(t, filepath.Join(root, "one", "two", "deep.jpg"), "x")

	cfg := localCfg(root)
	cfg.MaxDepth = 1
	entries, err := NewLocal(cfg).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one/mid.jpg", "top.jpg"}, paths(entries))
}

func TestLocalListSurvivesSymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "albums", "x.jpg"), "x")
	require.NoError(t, os.Symlink(root, filepath.Join(root, "albums", "loop")))

	entries, err := NewLocal(localCfg(root)).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"albums/x.jpg"}, paths(entries))
}

func TestLocalListFollowsDirectorySymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "shared.jpg"), "x")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

	entries, err := NewLocal(localCfg(root)).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"linked/shared.jpg"}, paths(entries))
}

func TestLocalListMissingRootIsUnavailable(t *testing.T) {
	_, err := NewLocal(localCfg(filepath.Join(t.TempDir(), "gone"))).List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestLocalListHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(localCfg(root)).List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dir", "a.jpg"), "payload")
	l := NewLocal(localCfg(root))

	rc, err := l.Open(context.Background(), "dir/a.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(body))

	_, err = l.Open(context.Background(), "dir/missing.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, errors.Is(err, ErrSourceUnavailable))

	rc, err = l.Open(context.Background(), "../../dir/a.jpg")
	require.NoError(t, err, "traversal is clamped to the root")
	_ = rc.Close()

	_, err = l.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a/b.jpg", NormalizePath(`a\b.jpg`))
	assert.Equal(t, "b.jpg", NormalizePath("/x/../b.jpg"))
	// "e" + combining acute accent becomes the precomposed form.
	assert.Equal(t, "caf\u00e9.jpg", NormalizePath("cafe\u0301.jpg"))
}

func TestBuildAllSkipsDisabled(t *testing.T) {
	off := false
	conns, err := BuildAll([]config.SourceConfig{
		localCfg(t.TempDir()),
		{ID: "nas", Type: config.SourceWebDAV, Endpoint: "http://nas.local/dav", Enabled: &off},
	})
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, KindLocal, conns[0].Kind())

	_, err = Build(config.SourceConfig{ID: "x", Type: "ftp"})
	assert.Error(t, err)
}

func TestS3DepthAndHidden(t *testing.T) {
	s, err := NewS3(config.SourceConfig{
		ID: "bucket", Type: config.SourceS3, Endpoint: "s3.local:9000", Bucket: "photos",
		Root: "/family/", MaxDepth: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "family/", s.prefix)
	assert.Equal(t, KindS3, s.Kind())
	assert.True(t, hidden(".trash/a.jpg"))
	assert.True(t, hidden("2024/.cache/a.jpg"))
	assert.False(t, hidden("2024/a.jpg"))
	assert.False(t, hidden("a.jpg"))
}
