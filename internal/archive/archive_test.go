package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestArchive_EmptySetIsValid(t *testing.T) {
	blob, stats, err := New(t.TempDir()).Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
	assert.Equal(t, Stats{}, stats)

	names, err := List(blob)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestArchive_RoundTripContent(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":          "alpha",
		"sub/b.txt":      "bravo bravo bravo bravo",
		"sub/deep/c.bin": string([]byte{0, 1, 2, 3, 255}),
	}
	writeFiles(t, root, files)

	blob, stats, err := New(root).Archive(context.Background(), []string{"a.txt", "sub/b.txt", "sub/deep/c.bin"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 0, stats.Skipped)

	names, err := List(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deep/c.bin"}, names)

	contents, err := ReadAll(blob)
	require.NoError(t, err)
	for name, want := range files {
		assert.Equal(t, want, string(contents[name]), name)
	}
}

func TestArchive_SkipsMissingAndUnsafe(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "alpha", "dir/x.txt": "x"})
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	t.Cleanup(func() { os.Remove(outside) })

	paths := []string{"missing.txt", "a.txt", "../secret.txt", "/etc/passwd", "dir", "a.txt"}
	blob, stats, err := New(root).Archive(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 4, stats.Skipped)

	names, err := List(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestArchive_DuplicatePathsOnce(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "alpha"})

	blob, stats, err := New(root).Archive(context.Background(), []string{"a.txt", "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, int64(len("alpha")), stats.Bytes)

	names, err := List(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestArchive_WithLevel(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("a", 64<<10)
	writeFiles(t, root, map[string]string{"big.txt": content})

	huffman, _, err := New(root, WithLevel(flate.HuffmanOnly)).Archive(context.Background(), []string{"big.txt"})
	require.NoError(t, err)
	best, _, err := New(root, WithLevel(flate.BestCompression)).Archive(context.Background(), []string{"big.txt"})
	require.NoError(t, err)

	assert.Less(t, len(best), len(huffman))
	for _, blob := range [][]byte{huffman, best} {
		files, err := ReadAll(blob)
		require.NoError(t, err)
		assert.Equal(t, content, string(files["big.txt"]))
	}
}

func TestArchive_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blob, _, err := New(t.TempDir()).Archive(ctx, []string{"a.txt"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, blob)
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "alpha", "sub/b.txt": "bravo"})

	blob, _, err := New(root).Archive(context.Background(), []string{"a.txt", "sub/b.txt"})
	require.NoError(t, err)

	dst := t.TempDir()
	n, err := Extract(blob, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(data))
}

func TestExtract_InvalidBlob(t *testing.T) {
	_, err := Extract([]byte("not a zip"), t.TempDir())
	assert.Error(t, err)

	_, err = List(nil)
	assert.Error(t, err)
}
