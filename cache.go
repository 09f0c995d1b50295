package imagecache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ankur-anand/imagecache/diskcache"
)

// CacheSourceTag identifies which tier satisfied a query.
type CacheSourceTag int

const (
	SourceNone CacheSourceTag = iota
	SourceMemory
	SourceDisk
)

// QueryResult is delivered to a Cache.Query completion.
type QueryResult struct {
	Image  *DecodedImage
	Source CacheSourceTag
}

// StoreOptions controls Cache.Store's byte-selection and persistence
// behavior.
type StoreOptions struct {
	// Recalculate forces re-derivation of persisted bytes even when
	// Data is supplied.
	Recalculate bool
	// Data, when non-nil and Recalculate is false, is persisted
	// verbatim.
	Data []byte
	// ToDisk schedules the IO-executor write; when false only the
	// memory tier is updated.
	ToDisk bool
}

// Cache is the unified image-cache facade: a MemoryTier plus a
// diskcache.Tier, with promotion from disk to memory on a disk hit.
// Modeled on cachestore/caching_storage.go's tier-composition and
// chooseCache pattern, generalized from KV bytes to decoded images.
type Cache struct {
	memory *MemoryTier
	disk   *diskcache.Tier
	codec  Codec

	cacheInMemory bool
	decompress    bool

	io      Executor
	main    Executor
	metrics *Metrics

	closeOnce sync.Once
}

// NewCache applies opts.WithDefaults(), validates the result, and
// builds the facade from it.
func NewCache(opts CacheOptions) (*Cache, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	memTier, err := NewMemoryTier(MemoryTierOptions{
		MaxCost:    opts.MaxMemoryCost,
		MaxEntries: opts.MaxMemoryCountLimit,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	auxRoots := opts.AuxRoots
	if len(opts.CloudAuxRoots) > 0 {
		opened, err := openCloudAuxRoots(context.Background(), opts.CloudAuxRoots)
		if err != nil {
			memTier.Close()
			return nil, err
		}
		auxRoots = append(append([]diskcache.AuxRoot{}, auxRoots...), opened...)
	}

	diskTier, err := diskcache.NewTier(diskcache.Options{
		Root:           opts.Root,
		Namespace:      opts.Namespace,
		MaxAge:         opts.MaxCacheAge,
		MaxSize:        opts.MaxCacheSize,
		AuxRoots:       auxRoots,
		FilenameForKey: FilenameForKey,
	})
	if err != nil {
		memTier.Close()
		return nil, err
	}

	return &Cache{
		memory:        memTier,
		disk:          diskTier,
		codec:         opts.Codec,
		cacheInMemory: opts.ShouldCacheImagesInMemory,
		decompress:    opts.ShouldDecompressImages,
		io:            &ioExecutorAdapter{q: newIOQueue()},
		main:          SyncExecutor{},
		metrics:       opts.Metrics,
	}, nil
}

// ioExecutorAdapter lets the single serial ioQueue satisfy Executor so
// Cache can treat IO dispatch uniformly with the main/transform
// executors.
type ioExecutorAdapter struct {
	q *ioQueue
}

func (a *ioExecutorAdapter) Run(fn func()) {
	a.q.Submit(ioJob(fn))
}

func (a *ioExecutorAdapter) Close() {
	a.q.Close()
}

// Store inserts image into the memory tier (when enabled), and, when
// ToDisk, schedules a write of the chosen bytes on the IO executor.
func (c *Cache) Store(image *DecodedImage, key string, opts StoreOptions) {
	if c.cacheInMemory {
		c.memory.Put(key, image, CacheCost(image))
	}

	if !opts.ToDisk {
		return
	}

	c.io.Run(func() {
		data, err := c.bytesToPersist(image, opts)
		if err != nil || data == nil {
			if err != nil {
				slog.Error("imagecache: derive bytes to persist", "key", key, "error", err)
			}
			return
		}
		if werr := c.disk.Write(key, data, diskcache.WriteOptions{}); werr != nil {
			slog.Error("imagecache: disk write failed", "key", key, "error", werr)
		} else if c.metrics != nil {
			c.metrics.ObserveDiskWrite()
		}
	})
}

// bytesToPersist implements the disk-write byte-selection rules:
// verbatim bytes when supplied and not recalculating, else a PNG/JPEG
// re-encode chosen by alpha presence.
func (c *Cache) bytesToPersist(image *DecodedImage, opts StoreOptions) ([]byte, error) {
	if opts.Data != nil && !opts.Recalculate {
		return opts.Data, nil
	}

	if opts.Data != nil && looksLikePNG(opts.Data) {
		return c.codec.EncodePNG(image)
	}

	if image != nil && image.HasAlpha {
		return c.codec.EncodePNG(image)
	}
	return c.codec.EncodeJPEG(image, 1.0)
}

// Query returns a synchronous memory hit, or starts a cancellable
// disk-read-and-decode operation delivered on the main executor.
func (c *Cache) Query(ctx context.Context, key string, done func(QueryResult)) Operation {
	if done == nil {
		return operationFunc(nil)
	}
	if key == "" {
		done(QueryResult{Source: SourceNone})
		return operationFunc(nil)
	}

	if img, ok := c.memory.Get(key); ok {
		if c.metrics != nil {
			c.metrics.ObserveMemoryGet(true)
		}
		done(QueryResult{Image: img, Source: SourceMemory})
		return operationFunc(nil)
	}
	if c.metrics != nil {
		c.metrics.ObserveMemoryGet(false)
	}

	cancelled := make(chan struct{})
	var cancelOnce sync.Once
	op := operationFunc(func() {
		cancelOnce.Do(func() { close(cancelled) })
	})

	c.io.Run(func() {
		select {
		case <-cancelled:
			return
		default:
		}

		data, ok := c.disk.Read(ctx, key)
		if c.metrics != nil {
			c.metrics.ObserveDiskGet(ok)
		}

		var img *DecodedImage
		if ok {
			decoded, derr := c.codec.Decode(data, key)
			if derr != nil {
				slog.Error("imagecache: decode cached image", "key", key, "error", derr)
			} else {
				img = decoded
				if c.decompress {
					img = c.codec.Decompress(img)
				}
				if c.cacheInMemory {
					c.memory.Put(key, img, CacheCost(img))
				}
			}
		}

		c.main.Run(func() {
			select {
			case <-cancelled:
				return
			default:
			}
			source := SourceNone
			if img != nil {
				source = SourceDisk
			}
			done(QueryResult{Image: img, Source: source})
		})
	})

	return op
}

// Remove evicts key from the memory tier and, when fromDisk, also
// schedules removal from the disk tier.
func (c *Cache) Remove(key string, fromDisk bool, completion func()) {
	if c.cacheInMemory {
		c.memory.Remove(key)
	}

	if !fromDisk {
		if completion != nil {
			completion()
		}
		return
	}

	c.io.Run(func() {
		c.disk.Remove(key)
		if completion != nil {
			c.main.Run(completion)
		}
	})
}

// ImageFromMemory exposes the memory-tier-only read.
func (c *Cache) ImageFromMemory(key string) (*DecodedImage, bool) {
	return c.memory.Get(key)
}

// ImageFromDisk reads key from the disk tier synchronously and
// promotes the result into the memory tier on a hit.
// Callers on the main executor should prefer Query; this is for code
// already running on the IO executor or a background context.
func (c *Cache) ImageFromDisk(ctx context.Context, key string) (*DecodedImage, bool) {
	data, ok := c.disk.Read(ctx, key)
	if !ok {
		return nil, false
	}
	img, err := c.codec.Decode(data, key)
	if err != nil {
		return nil, false
	}
	if c.decompress {
		img = c.codec.Decompress(img)
	}
	if c.cacheInMemory {
		c.memory.Put(key, img, CacheCost(img))
	}
	return img, true
}

// Exists reports whether key is present on disk.
func (c *Cache) Exists(key string) bool {
	return c.disk.Exists(key)
}

// Sweep runs the disk tier's age-and-size garbage collection pass on
// the IO executor and delivers stats on the main executor once both
// passes have finished.
func (c *Cache) Sweep(done func(diskcache.SweepStats, error)) {
	c.io.Run(func() {
		stats, err := c.disk.Sweep()
		if err == nil && c.metrics != nil {
			c.metrics.ObserveSweep(stats.AgeDeleted + stats.SizeDeleted)
		}
		if done != nil {
			c.main.Run(func() { done(stats, err) })
		}
	})
}

// Close releases the memory tier's background goroutines and the IO
// queue's worker. It is safe to call more than once.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if adapter, ok := c.io.(*ioExecutorAdapter); ok {
			adapter.Close()
		}
		err = c.memory.Close()
	})
	return err
}
