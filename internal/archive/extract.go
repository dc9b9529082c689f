package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

func openReader(blob []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	return zr, nil
}

// List returns the entry names of blob in archive order.
func List(blob []byte) ([]string, error) {
	zr, err := openReader(blob)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// ReadAll returns the content of every file entry keyed by entry name.
func ReadAll(blob []byte) (map[string][]byte, error) {
	zr, err := openReader(blob)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = data
	}
	return out, nil
}

// Extract unpacks blob below dst. Entries that would land outside dst are
// rejected before anything is written for them.
func Extract(blob []byte, dst string) (int, error) {
	zr, err := openReader(blob)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, f := range zr.File {
		local := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(local) {
			return written, fmt.Errorf("extract %q: %w", f.Name, ErrUnsafePath)
		}
		target := filepath.Join(dst, local)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("create directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("create directory: %w", err)
		}

		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("zip open file %q: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("zip extract file %q: %w", target, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("zip extract file %q: %w", f.Name, err)
	}
	return out.Close()
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("zip open file %q: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("zip read file %q: %w", f.Name, err)
	}
	return data, nil
}
