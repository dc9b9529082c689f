package manifest

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/laj3/laj3/internal/utils"
)

// Save writes m as JSON to path. Writers hold an exclusive lock on
// path+".lock" and replace the file atomically.
func Save(path string, m Manifest) error {
	data, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure manifest dir: %w", err)
	}

	lock := flock.New(LockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock manifest %q: %w", path, err)
	}
	defer lock.Unlock()

	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %q: %w", path, err)
	}
	return nil
}

// Load reads a manifest written by Save under a shared lock.
func Load(path string) (Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read manifest %q: %w", path, ErrNotFile)
	}

	lock := flock.New(LockPath(path))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock manifest %q: %w", path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return m, nil
}

// LockPath is the advisory lock file guarding the manifest at path.
func LockPath(path string) string {
	return path + ".lock"
}
