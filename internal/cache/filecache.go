package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/earthsight/earthsight/internal/observability"
	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// FileCache stores downloaded binary artifacts (exported rasters) on disk
// under content-hashed paths. Its lifecycle is independent of the entry
// store: files live until an explicit age-based sweep removes them. It
// honors the same policy switch as the entry store: disabled, Check always
// misses and Store skips the write.
type FileCache struct {
	dir     string
	policy  *Policy
	logger  *observability.Logger
	metrics *Metrics
}

// NewFileCache creates a file cache rooted at dir. The directory is
// created lazily on first store.
func NewFileCache(dir string, policy *Policy, logger *observability.Logger, metrics *Metrics) *FileCache {
	if dir == "" {
		dir = "cache"
	}
	return &FileCache{dir: dir, policy: policy, logger: logger, metrics: metrics}
}

// Dir returns the cache directory.
func (f *FileCache) Dir() string {
	return f.dir
}

// EnsureDir creates the cache directory if it is missing. Idempotent.
func (f *FileCache) EnsureDir() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return cacheerr.NewFilesystemError("ensure_dir", f.dir, err)
	}
	return nil
}

// PathFor computes the deterministic cache path for an identifier. Pure
// function, no I/O.
func (f *FileCache) PathFor(identifier, extension string) string {
	sum := sha256.Sum256([]byte(identifier))
	name := hex.EncodeToString(sum[:])
	if extension != "" {
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		name += extension
	}
	return filepath.Join(f.dir, name)
}

// Check returns the cached path for identifier if the file exists on disk.
// With caching disabled this is an unconditional miss.
func (f *FileCache) Check(identifier, extension string) (string, bool) {
	if !f.policy.Enabled() {
		return "", false
	}
	path := f.PathFor(identifier, extension)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	f.metrics.fileHit()
	return path, true
}

// Store moves (or copies, when move is false) a source file into the
// cache at its computed path and returns that path. With caching disabled
// nothing is written and the returned path is empty.
func (f *FileCache) Store(sourcePath, identifier, extension string, move bool) (string, error) {
	if !f.policy.Enabled() {
		return "", nil
	}
	if err := f.EnsureDir(); err != nil {
		return "", err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return "", cacheerr.NewFilesystemError("store", sourcePath, err)
	}

	dest := f.PathFor(identifier, extension)
	if err := f.place(sourcePath, dest, move); err != nil {
		return "", err
	}

	f.logger.Info("cached artifact", "path", dest, "moved", move)
	return dest, nil
}

// StoreNamed places a file directly under the cache directory using the
// given filename verbatim. Used for artifacts whose export name is already
// meaningful. With caching disabled nothing is written and the returned
// path is empty.
func (f *FileCache) StoreNamed(sourcePath, filename string) (string, error) {
	if !f.policy.Enabled() {
		return "", nil
	}
	if err := f.EnsureDir(); err != nil {
		return "", err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return "", cacheerr.NewFilesystemError("store_named", sourcePath, err)
	}

	dest := filepath.Join(f.dir, filepath.Base(filename))
	if err := f.place(sourcePath, dest, true); err != nil {
		return "", err
	}

	f.logger.Info("cached named artifact", "path", dest)
	return dest, nil
}

// place moves or copies src to dest. Rename is attempted first for moves
// and falls back to copy-and-remove across filesystems.
func (f *FileCache) place(src, dest string, move bool) error {
	if move {
		if err := os.Rename(src, dest); err == nil {
			return nil
		}
	}
	if err := copyFile(src, dest); err != nil {
		return cacheerr.NewFilesystemError("store", dest, err)
	}
	if move {
		if err := os.Remove(src); err != nil {
			f.logger.Warn("source file left behind after copy", "path", src, "error", err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// EvictOlderThan removes regular files in the cache directory whose
// modification time is strictly older than maxAge and returns the count
// removed. A file sitting exactly at the threshold survives. Failures on
// individual files are logged and skipped.
func (f *FileCache) EvictOlderThan(maxAge time.Duration) (int, error) {
	return f.evictOlderThanAt(maxAge, time.Now())
}

func (f *FileCache) evictOlderThanAt(maxAge time.Duration, now time.Time) (int, error) {
	if err := f.EnsureDir(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, cacheerr.NewFilesystemError("evict", f.dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			f.logger.Warn("skipping unreadable cache file", "name", entry.Name(), "error", err)
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(f.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			f.logger.Warn("failed to evict cache file", "path", path, "error", err)
			continue
		}
		removed++
	}

	f.metrics.fileEvictions(removed)
	if removed > 0 {
		f.logger.Info("evicted expired artifacts", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}
