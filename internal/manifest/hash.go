package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// DigestLen is the length of a hex encoded fingerprint.
const DigestLen = sha256.Size * 2

var ErrNotFile = errors.New("path is not a regular file")

// HashBytes returns the hex SHA-256 fingerprint of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex SHA-256 fingerprint of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile fingerprints the regular file at path.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%q: %w", path, ErrNotFile)
	}

	digest, err := HashReader(file)
	if err != nil {
		return "", fmt.Errorf("read file %q: %w", path, err)
	}
	return digest, nil
}
