package imagecache

import "sync"

// Process-wide default instances: lazily initialized, never destroyed,
// idempotent under concurrent first access.
var (
	defaultCacheOnce sync.Once
	defaultCache     *Cache
	defaultCacheErr  error

	defaultManagerOnce sync.Once
	defaultManager     *Manager
	defaultManagerErr  error
)

// DefaultCache returns the process-wide default Cache, constructing it
// on first call with DefaultCacheOptions.
func DefaultCache() (*Cache, error) {
	defaultCacheOnce.Do(func() {
		defaultCache, defaultCacheErr = NewCache(DefaultCacheOptions())
	})
	return defaultCache, defaultCacheErr
}

// DefaultManager returns the process-wide default Manager, wired to
// DefaultCache and downloader. downloader is only consulted on the
// first call; later calls ignore it and return the already-built
// singleton, matching the "construction is idempotent" design note.
func DefaultManager(downloader Downloader) (*Manager, error) {
	defaultManagerOnce.Do(func() {
		cache, cerr := DefaultCache()
		if cerr != nil {
			defaultManagerErr = cerr
			return
		}
		defaultManager, defaultManagerErr = NewManager(ManagerOptions{
			Cache:      cache,
			Downloader: downloader,
		})
	})
	return defaultManager, defaultManagerErr
}
