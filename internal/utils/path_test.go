package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	_, err := ResolvePath("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	got, err := ResolvePath("~/data/../manifests")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "manifests"), got)

	got, err = ResolvePath("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ResolvePath("./rel")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "rel", filepath.Base(got))
}

func TestEnsureDir(t *testing.T) {
	root := t.TempDir()

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, EnsureParent(filepath.Join(nested, "file.txt")))
	assert.True(t, DirExists(nested))
	require.NoError(t, EnsureDir(nested))

	file := filepath.Join(root, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.ErrorIs(t, EnsureDir(file), ErrNotDir)
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
	assert.False(t, FileExists(nested))
}
