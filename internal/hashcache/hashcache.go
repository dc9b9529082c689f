// Package hashcache persists file fingerprints keyed by path, size and
// modification time so unchanged files are not re-hashed between builds.
package hashcache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/laj3/laj3/internal/db"
)

// DefaultMemoryEntries is the size of the in-process tier in front of SQLite.
const DefaultMemoryEntries = 4096

const schema = `
CREATE TABLE IF NOT EXISTS digest_cache (
    path TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL, -- unix nanoseconds
    digest TEXT NOT NULL
);
`

type record struct {
	Path    string `db:"path"`
	Size    int64  `db:"size"`
	ModTime int64  `db:"mod_time"`
	Digest  string `db:"digest"`
}

func (r record) matches(size int64, modTime time.Time) bool {
	return r.Size == size && r.ModTime == modTime.UnixNano()
}

// Cache is a two tier digest cache: an LRU in memory backed by a SQLite table.
// It is safe for concurrent use.
type Cache struct {
	db  *sqlx.DB
	mem *lru.Cache[string, record]
}

// Open opens (or creates) the cache database at path. An empty path keeps the
// cache in memory only.
func Open(path string, memEntries int) (*Cache, error) {
	if memEntries <= 0 {
		memEntries = DefaultMemoryEntries
	}

	opts := []db.Option{db.WithMaxOpenConns(1)}
	if path != "" {
		opts = append(opts, db.WithPath(path))
	}

	database, err := db.Open(opts...)
	if err != nil {
		return nil, fmt.Errorf("open digest cache: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init digest cache schema: %w", err)
	}

	mem, err := lru.New[string, record](memEntries)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("init memory tier: %w", err)
	}

	return &Cache{db: database, mem: mem}, nil
}

// Lookup returns the stored digest when size and modTime still match.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	key := cacheKey(path)

	if rec, ok := c.mem.Get(key); ok {
		if rec.matches(size, modTime) {
			return rec.Digest, true
		}
		return "", false
	}

	var rec record
	err := c.db.Get(&rec, "SELECT path, size, mod_time, digest FROM digest_cache WHERE path = ?", key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("digest cache lookup", "path", key, "error", err)
		}
		return "", false
	}

	c.mem.Add(key, rec)
	if !rec.matches(size, modTime) {
		return "", false
	}
	return rec.Digest, true
}

// Store records digest for path. Failures are logged; a cache miss later only
// costs a re-hash.
func (c *Cache) Store(path string, size int64, modTime time.Time, digest string) {
	rec := record{
		Path:    cacheKey(path),
		Size:    size,
		ModTime: modTime.UnixNano(),
		Digest:  digest,
	}
	c.mem.Add(rec.Path, rec)

	query := `INSERT OR REPLACE INTO digest_cache (path, size, mod_time, digest)
	          VALUES (:path, :size, :mod_time, :digest)`
	if _, err := c.db.NamedExec(query, rec); err != nil {
		slog.Warn("digest cache store", "path", rec.Path, "error", err)
	}
}

// Forget drops path from both tiers.
func (c *Cache) Forget(path string) error {
	key := cacheKey(path)
	c.mem.Remove(key)
	if _, err := c.db.Exec("DELETE FROM digest_cache WHERE path = ?", key); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	return nil
}

// Len returns the number of persisted entries.
func (c *Cache) Len() (int, error) {
	var count int
	if err := c.db.Get(&count, "SELECT COUNT(*) FROM digest_cache"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (c *Cache) Close() error {
	c.mem.Purge()
	return c.db.Close()
}

func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
