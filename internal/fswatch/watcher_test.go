package fswatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watchDir(t *testing.T) string {
	t.Helper()
	// tmp dirs are symlinked on macos and events carry the real path
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestWatcher_ReportsSettledBurst(t *testing.T) {
	dir := watchDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 4)
	w := New(dir, WithDebounce(50*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) error {
			changes <- paths
			return nil
		})
	}()

	// let the watch register
	time.Sleep(100 * time.Millisecond)
	target := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("two"), 0o644))

	select {
	case paths := <-changes:
		assert.Contains(t, paths, target)
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_FilterAndCallbackError(t *testing.T) {
	dir := watchDir(t)
	boom := errors.New("boom")

	w := New(dir,
		WithDebounce(50*time.Millisecond),
		WithFilter(func(path string) bool {
			return strings.HasSuffix(path, ".skip")
		}),
	)

	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- w.Run(context.Background(), func(_ context.Context, paths []string) error {
			seen = paths
			return boom
		})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.skip"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.txt"), []byte("y"), 0o644))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
		assert.NotEmpty(t, seen)
		for _, p := range seen {
			assert.False(t, strings.HasSuffix(p, ".skip"), p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop on callback error")
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New("/data", WithDebounce(0))
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.Nil(t, w.filter)
}
