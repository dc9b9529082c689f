package manifest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DigestCache remembers fingerprints of files whose size and modification
// time have not changed since they were last hashed.
type DigestCache interface {
	Lookup(path string, size int64, modTime time.Time) (string, bool)
	Store(path string, size int64, modTime time.Time, digest string)
}

// BuildStats summarizes a single Build call.
type BuildStats struct {
	Hashed  int
	Cached  int
	Skipped int
	Ignored int
}

// Builder scans a file or directory tree into a Manifest. A Builder is not
// safe for concurrent use; give each goroutine its own.
type Builder struct {
	cache        DigestCache
	ignore       *IgnoreList
	loadIgnore   bool
	ignoreRules  []string
	include      []string
	relativeKeys bool
	lastStats    BuildStats
}

type BuilderOption func(*Builder)

// WithDigestCache reuses fingerprints from cache for unchanged files.
func WithDigestCache(cache DigestCache) BuilderOption {
	return func(b *Builder) {
		b.cache = cache
	}
}

// WithIgnoreList skips every path matched by list.
func WithIgnoreList(list *IgnoreList) BuilderOption {
	return func(b *Builder) {
		b.ignore = list
	}
}

// WithIgnoreFile loads the default rules, the root's .laj3ignore and rules
// on every Build.
func WithIgnoreFile(rules ...string) BuilderOption {
	return func(b *Builder) {
		b.loadIgnore = true
		b.ignoreRules = append(b.ignoreRules, rules...)
	}
}

// WithInclude keeps only files whose root-relative path matches one of the
// doublestar patterns.
func WithInclude(patterns ...string) BuilderOption {
	return func(b *Builder) {
		b.include = append(b.include, patterns...)
	}
}

// WithRelativeKeys keys entries relative to the scanned root instead of the
// path the root was given as.
func WithRelativeKeys() BuilderOption {
	return func(b *Builder) {
		b.relativeKeys = true
	}
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ValidatePatterns reports the first include pattern doublestar cannot parse.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid include pattern %q", p)
		}
	}
	return nil
}

// Stats returns the counters of the most recent Build.
func (b *Builder) Stats() BuildStats {
	return b.lastStats
}

type pendingDir struct {
	path  string
	depth int
}

// Build fingerprints root. A file root yields exactly one entry. A directory
// root always contributes its immediate files and, when recursive is set,
// every file below it. Entries that cannot be read are logged and skipped;
// only an unreadable root fails the build.
func (b *Builder) Build(ctx context.Context, root string, recursive bool) (Manifest, error) {
	if err := ValidatePatterns(b.include); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", root, err)
	}

	b.lastStats = BuildStats{}
	m := make(Manifest)

	if !info.IsDir() {
		digest, err := b.fingerprint(root, info)
		if err != nil {
			return nil, fmt.Errorf("fingerprint root: %w", err)
		}
		m[b.key(root, filepath.Base(root), filepath.Base(root))] = digest
		return m, nil
	}

	ignore := b.ignore
	if b.loadIgnore && ignore == nil {
		ignore = LoadIgnoreList(root, b.ignoreRules...)
	}

	stack := []pendingDir{{path: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir.path)
		if err != nil {
			if dir.depth == 0 {
				return nil, fmt.Errorf("read root %q: %w", root, err)
			}
			slog.Warn("manifest skip directory", "path", dir.path, "error", err)
			b.lastStats.Skipped++
			if len(entries) == 0 {
				continue
			}
		}

		for _, entry := range entries {
			full := filepath.Join(dir.path, entry.Name())
			rel, err := filepath.Rel(root, full)
			if err != nil {
				slog.Warn("manifest skip entry", "path", full, "error", err)
				b.lastStats.Skipped++
				continue
			}
			rel = filepath.ToSlash(rel)

			if ignore.ShouldIgnore(rel) {
				slog.Debug("manifest ignore", "path", rel)
				b.lastStats.Ignored++
				continue
			}

			info, err := entryInfo(full, entry)
			if err != nil {
				slog.Warn("manifest skip entry", "path", full, "error", err)
				b.lastStats.Skipped++
				continue
			}

			if info.IsDir() {
				// symlinked directories are not followed
				if recursive && entry.IsDir() {
					stack = append(stack, pendingDir{path: full, depth: dir.depth + 1})
				}
				continue
			}

			if !info.Mode().IsRegular() {
				slog.Debug("manifest skip irregular file", "path", full, "mode", info.Mode().String())
				b.lastStats.Skipped++
				continue
			}

			if !b.included(rel) {
				b.lastStats.Ignored++
				continue
			}

			digest, err := b.fingerprint(full, info)
			if err != nil {
				slog.Warn("manifest skip file", "path", full, "error", err)
				b.lastStats.Skipped++
				continue
			}

			m[b.key(full, rel, entry.Name())] = digest
		}
	}

	slog.Debug("manifest built", "root", root, "entries", len(m), "hashed", b.lastStats.Hashed,
		"cached", b.lastStats.Cached, "skipped", b.lastStats.Skipped, "ignored", b.lastStats.Ignored)
	return m, nil
}

func (b *Builder) key(full, rel, name string) string {
	if b.relativeKeys {
		if rel == "." || rel == "" {
			return NormPath(name)
		}
		return NormPath(rel)
	}
	return NormPath(full)
}

func (b *Builder) included(rel string) bool {
	if len(b.include) == 0 {
		return true
	}
	for _, pattern := range b.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (b *Builder) fingerprint(path string, info fs.FileInfo) (string, error) {
	if b.cache != nil {
		if digest, ok := b.cache.Lookup(path, info.Size(), info.ModTime()); ok {
			b.lastStats.Cached++
			return digest, nil
		}
	}

	digest, err := HashFile(path)
	if err != nil {
		return "", err
	}
	b.lastStats.Hashed++

	if b.cache != nil {
		b.cache.Store(path, info.Size(), info.ModTime(), digest)
	}
	return digest, nil
}

// entryInfo follows symlinks so links to regular files are fingerprinted.
func entryInfo(full string, entry fs.DirEntry) (fs.FileInfo, error) {
	if entry.Type()&fs.ModeSymlink != 0 {
		return os.Stat(full)
	}
	return entry.Info()
}
