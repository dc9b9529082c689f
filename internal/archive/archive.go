// Package archive packs files into a deflate zip held in memory and unpacks
// such archives on the receiving side.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/klauspost/compress/flate"
)

var ErrUnsafePath = errors.New("path escapes base directory")

// Archiver packs files found under a base directory.
type Archiver struct {
	baseDir string
	level   int
}

type Option func(*Archiver)

// WithLevel sets the deflate compression level.
func WithLevel(level int) Option {
	return func(a *Archiver) {
		a.level = level
	}
}

// New returns an Archiver that resolves archive paths under baseDir.
func New(baseDir string, opts ...Option) *Archiver {
	a := &Archiver{
		baseDir: baseDir,
		level:   flate.DefaultCompression,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stats describes a finished archive.
type Stats struct {
	Added   int
	Skipped int
	Bytes   int64
}

// Archive packs every readable path into one zip, each entry named by its
// slash path. Files that cannot be read are logged and skipped. A failure to
// encode or finalize the archive fails the whole call and returns no blob.
func (a *Archiver) Archive(ctx context.Context, paths []string) ([]byte, Stats, error) {
	var stats Stats
	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	level := a.level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, name := range paths {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if !seen.Add(name) {
			continue
		}

		data, info, err := a.readEntry(name)
		if err != nil {
			slog.Warn("archive skip file", "path", name, "error", err)
			stats.Skipped++
			continue
		}

		header := &zip.FileHeader{
			Name:     filepath.ToSlash(name),
			Method:   zip.Deflate,
			Modified: info.ModTime(),
		}
		header.SetMode(info.Mode().Perm())

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, stats, fmt.Errorf("create entry %q: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, stats, fmt.Errorf("write entry %q: %w", name, err)
		}

		stats.Added++
		stats.Bytes += int64(len(data))
	}

	if err := zw.Close(); err != nil {
		return nil, stats, fmt.Errorf("finalize archive: %w", err)
	}

	return buf.Bytes(), stats, nil
}

func (a *Archiver) readEntry(name string) ([]byte, os.FileInfo, error) {
	full, err := a.resolve(name)
	if err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%q is not a regular file", name)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

func (a *Archiver) resolve(name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafePath)
	}
	return filepath.Join(a.baseDir, local), nil
}
