// Package diskcache implements the unbounded on-disk tier of the
// image cache: a namespaced directory of raw byte blobs with
// age-and-size sweeping, fronted by an optional chain of read-only
// auxiliary roots.
//
// It is modeled on diskcache.blob_cache.go (namespace directory,
// os.WriteFile/ReadFile/Remove, Stats with hit/miss atomics) and uses
// blobstore/ for the auxiliary-root read path.
package diskcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ankur-anand/imagecache/blobstore"
	"github.com/dgraph-io/ristretto/v2/z"
)

// BundlePrefix is the fixed constant prepended to the namespace label
// when deriving the on-disk directory name.
const BundlePrefix = "com.imagecache.disk"

const defaultNamespace = "default"

// DefaultMaxAge is the sweeper's default expiration window.
const DefaultMaxAge = 7 * 24 * time.Hour

var ErrBlobRequired = errors.New("diskcache: root directory is required")

// Stats reports disk-tier occupancy and hit/miss counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int64
	Count   int
	MaxAge  time.Duration
	MaxSize int64
}

// AuxRoot is a read-only fallback root consulted after the primary
// root misses.
type AuxRoot struct {
	Store *blobstore.Store
}

// Options configures a Tier.
type Options struct {
	// Root is the caches root directory; the namespace directory is
	// created under it. Required.
	Root string
	// Namespace is appended to BundlePrefix to form the on-disk
	// directory name (default "default").
	Namespace string
	// MaxAge is the sweeper's age-cull threshold (default 7 days).
	MaxAge time.Duration
	// MaxSize is the sweeper's size-cull threshold in bytes. Zero
	// means unlimited.
	MaxSize int64
	// AuxRoots are read-only fallback roots consulted in order after
	// the primary root misses.
	AuxRoots []AuxRoot
	// FilenameForKey derives the on-disk filename from a cache key,
	// injected so this package stays independent of key derivation.
	FilenameForKey func(key string) string
}

// Tier is the on-disk tier: a namespaced directory of raw byte blobs
// with an optional chain of read-only auxiliary roots.
type Tier struct {
	dir        string
	maxAge     time.Duration
	maxSize    int64
	aux        []AuxRoot
	filenameOf func(key string) string

	hits   int64Counter
	misses int64Counter

	mu sync.Mutex
}

// NewTier creates the namespace directory (invariant 2: it exists
// whenever a write is attempted) and returns a Tier.
func NewTier(opts Options) (*Tier, error) {
	if opts.Root == "" {
		return nil, ErrBlobRequired
	}
	ns := opts.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	filenameOf := opts.FilenameForKey
	if filenameOf == nil {
		filenameOf = func(key string) string { return key }
	}

	dir := filepath.Join(opts.Root, BundlePrefix+"."+ns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: create namespace dir: %w", err)
	}

	return &Tier{
		dir:        dir,
		maxAge:     maxAge,
		maxSize:    opts.MaxSize,
		aux:        opts.AuxRoots,
		filenameOf: filenameOf,
	}, nil
}

// Dir returns the namespace directory path.
func (t *Tier) Dir() string { return t.dir }

func (t *Tier) primaryPaths(key string) (withExt, withoutExt string) {
	filename := t.filenameOf(key)
	withExt = filepath.Join(t.dir, filename)

	// Backward-compatible bare-digest path: strip any extension the
	// filename function appended so pre-extension cache files still
	// resolve. Intentional, not an oversight.
	bare := stripExt(filename)
	withoutExt = filepath.Join(t.dir, bare)
	return withExt, withoutExt
}

func stripExt(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return filename
	}
	return filename[:len(filename)-len(ext)]
}

// Exists probes the primary root for key, trying both the
// extension-qualified and bare-digest paths. It does not touch the IO
// executor contract on its own; callers decide sync vs async.
func (t *Tier) Exists(key string) bool {
	withExt, withoutExt := t.primaryPaths(key)
	if fileExists(withExt) {
		return true
	}
	return fileExists(withoutExt)
}

// ExistsAsync offloads Exists and delivers the result via done.
func (t *Tier) ExistsAsync(ctx context.Context, key string, done func(bool)) {
	go func() {
		exists := t.Exists(key)
		if done != nil {
			done(exists)
		}
	}()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteOptions controls write-time behavior.
type WriteOptions struct {
	// ExcludeFromBackup requests the "exclude from system backup"
	// attribute on the written file. This is a platform-specific,
	// best-effort hint (notably meaningful on Apple filesystems via
	// NSURLIsExcludedFromBackupKey); on platforms without an
	// equivalent it is a no-op, following the nil-safe, never-fail
	// style used for metrics and other optional hints throughout this
	// module.
	ExcludeFromBackup bool
}

// Write persists data under key at the primary root.
func (t *Tier) Write(key string, data []byte, opts WriteOptions) error {
	filename := t.filenameOf(key)
	path := filepath.Join(t.dir, filename)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("diskcache: write %s: %w", filename, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("diskcache: rename %s: %w", filename, err)
	}

	if opts.ExcludeFromBackup {
		excludeFromBackup(path)
	}
	return nil
}

// Read returns the first non-empty hit across the primary root (both
// path forms) and then each auxiliary root (both path forms), in
// order.
func (t *Tier) Read(ctx context.Context, key string) ([]byte, bool) {
	withExt, withoutExt := t.primaryPaths(key)

	if data, ok := readFile(withExt); ok {
		t.hits.add(1)
		return data, true
	}
	if data, ok := readFile(withoutExt); ok {
		t.hits.add(1)
		return data, true
	}

	filename := t.filenameOf(key)
	bare := stripExt(filename)
	for _, root := range t.aux {
		if data, err := root.Store.Read(ctx, filename); err == nil && len(data) > 0 {
			t.hits.add(1)
			return data, true
		}
		if data, err := root.Store.Read(ctx, bare); err == nil && len(data) > 0 {
			t.hits.add(1)
			return data, true
		}
	}

	t.misses.add(1)
	return nil, false
}

// mmapReadThreshold is the size at or above which Read memory-maps the
// file instead of issuing a single buffered os.ReadFile call, the same
// mmap-backed read path sst_cache.go uses. The mapped bytes are copied
// into a fresh heap slice before the mapping is released, so the
// result is an ordinary slice the caller may keep.
const mmapReadThreshold = 64 * 1024

func readFile(path string) ([]byte, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil, false
	}

	if info.Size() < mmapReadThreshold {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return nil, false
		}
		return data, true
	}

	mapped, err := mmapReadOnly(f, info.Size())
	if err != nil || len(mapped) == 0 {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return nil, false
		}
		return data, true
	}
	defer z.Munmap(mapped)

	data := make([]byte, len(mapped))
	copy(data, mapped)
	return data, true
}

// mmapReadOnly memory-maps f for read-only access, used for files of
// at least mmapReadThreshold bytes in place of a read syscall.
func mmapReadOnly(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return z.Mmap(f, false, size)
}

// Remove best-effort deletes key from the primary root; errors are
// swallowed the same way write failures are, since the next read
// simply misses, but unexpected ones (anything but "already gone")
// are still logged.
func (t *Tier) Remove(key string) {
	withExt, withoutExt := t.primaryPaths(key)
	if err := os.Remove(withExt); err != nil && !os.IsNotExist(err) {
		slog.Warn("diskcache: remove failed", "path", withExt, "error", err)
	}
	if err := os.Remove(withoutExt); err != nil && !os.IsNotExist(err) {
		slog.Warn("diskcache: remove failed", "path", withoutExt, "error", err)
	}
}

// RemoveAll deletes and recreates the namespace directory.
func (t *Tier) RemoveAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("diskcache: remove namespace dir: %w", err)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("diskcache: recreate namespace dir: %w", err)
	}
	return nil
}

// Size walks the namespace directory and sums on-disk allocated size.
func (t *Tier) Size() (int64, error) {
	var total int64
	err := filepath.Walk(t.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += allocatedSize(info)
		}
		return nil
	})
	return total, err
}

// Count walks the namespace directory and counts regular files.
func (t *Tier) Count() (int, error) {
	var n int
	err := filepath.Walk(t.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}

// Calculate invokes cb with each regular file's path and size.
func (t *Tier) Calculate(cb func(path string, size int64)) error {
	return filepath.Walk(t.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && cb != nil {
			cb(path, allocatedSize(info))
		}
		return nil
	})
}

// Stats reports hit/miss counters plus the sweeper's configured
// thresholds.
func (t *Tier) Stats() Stats {
	size, _ := t.Size()
	count, _ := t.Count()
	return Stats{
		Hits:    t.hits.load(),
		Misses:  t.misses.load(),
		Size:    size,
		Count:   count,
		MaxAge:  t.maxAge,
		MaxSize: t.maxSize,
	}
}
