// Package manifest builds, compares and serializes content manifests: flat
// maps from a slash separated relative path to the hex SHA-256 digest of the
// file's bytes.
package manifest

import (
	"path/filepath"
	"sort"
	"strings"
)

// Manifest maps a relative path to its content fingerprint.
// Iteration order carries no meaning.
type Manifest map[string]string

// Paths returns the manifest paths in lexical order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns an independent copy of the manifest.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for p, d := range m {
		out[p] = d
	}
	return out
}

// NormPath converts an OS path into manifest key form: cleaned, forward
// slashes, no leading separators and no leading "./".
func NormPath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	if path == "." {
		return ""
	}
	return strings.TrimPrefix(path, "./")
}
