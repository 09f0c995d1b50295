package imagecache

import (
	"errors"
	"os"
	"time"

	"github.com/ankur-anand/imagecache/diskcache"
)

// CacheOptions configures a Cache: the memory tier, the disk tier,
// and the policies governing how aggressively each is used.
//
// Grounded on db.go's DBOptions / DefaultDBOptions / WithDefaults /
// Validate shape.
type CacheOptions struct {
	// Root is the disk tier's caches root. Defaults to the platform
	// per-user caches directory.
	Root string
	// Namespace labels the disk tier's on-disk directory (default
	// "default").
	Namespace string

	MaxCacheAge  time.Duration
	MaxCacheSize int64

	ShouldDecompressImages    bool
	ShouldCacheImagesInMemory bool
	ShouldDisableICloud       bool
	MaxMemoryCost             int64
	MaxMemoryCountLimit       int

	// AuxRoots are read-only fallback disk roots consulted after the
	// primary disk root misses. Callers who already hold an open
	// blobstore.Store (or want a backend CloudAuxRoots doesn't cover)
	// populate this directly.
	AuxRoots []diskcache.AuxRoot

	// CloudAuxRoots describes additional fallback roots to open
	// declaratively at NewCache time (S3/GCS/Azure-backed mirrors, or
	// a local directory read through the same blobstore path). Opened
	// roots are appended after AuxRoots, in order.
	CloudAuxRoots []CloudAuxRootSpec

	Codec   Codec
	Metrics *Metrics
}

// DefaultCacheOptions returns the baseline configuration used when a
// caller's CacheOptions leaves a field unset.
func DefaultCacheOptions() CacheOptions {
	root, err := os.UserCacheDir()
	if err != nil {
		root = os.TempDir()
	}
	return CacheOptions{
		Root:                      root,
		Namespace:                 "default",
		MaxCacheAge:               7 * 24 * time.Hour,
		MaxCacheSize:              0,
		ShouldDecompressImages:    true,
		ShouldCacheImagesInMemory: true,
		ShouldDisableICloud:       true,
		MaxMemoryCost:             0,
		MaxMemoryCountLimit:       0,
		Codec:                     DefaultCodec{},
	}
}

// WithDefaults returns a copy of o with zero-valued fields replaced by
// defaults, matching DBOptions.WithDefaults.
func (o CacheOptions) WithDefaults() CacheOptions {
	d := DefaultCacheOptions()

	if o.Root == "" {
		o.Root = d.Root
	}
	if o.Namespace == "" {
		o.Namespace = d.Namespace
	}
	if o.MaxCacheAge == 0 {
		o.MaxCacheAge = d.MaxCacheAge
	}
	if o.Codec == nil {
		o.Codec = d.Codec
	}
	return o
}

// Validate checks for invalid combinations, matching DBOptions.Validate.
func (o CacheOptions) Validate() error {
	if o.Root == "" {
		return errors.New("imagecache: Root is required")
	}
	if o.MaxCacheSize < 0 {
		return errors.New("imagecache: MaxCacheSize must not be negative")
	}
	return nil
}

// defaultTransformConcurrency bounds the errgroup-backed background
// executor used for TransformDownloaded fan-out when ManagerOptions
// doesn't override it.
const defaultTransformConcurrency = 4

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Cache      *Cache
	Downloader Downloader
	Transform  TransformDelegate
	KeyFilter  KeyFilter
	Metrics    *Metrics
	Executor   Executor

	// TransformConcurrency bounds the background executor that runs
	// TransformDownloaded. Zero uses defaultTransformConcurrency;
	// negative means unbounded.
	TransformConcurrency int
}

func (o ManagerOptions) WithDefaults() ManagerOptions {
	if o.Executor == nil {
		o.Executor = SyncExecutor{}
	}
	if o.TransformConcurrency == 0 {
		o.TransformConcurrency = defaultTransformConcurrency
	}
	return o
}

func (o ManagerOptions) Validate() error {
	if o.Cache == nil {
		return errors.New("imagecache: Cache is required")
	}
	if o.Downloader == nil {
		return errors.New("imagecache: Downloader is required")
	}
	return nil
}
