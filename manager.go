package imagecache

import (
	"context"
	"net/url"
	"sync"
	"weak"
)

// DownloadOption is the manager-facing option bitset; each flag is
// independent.
type DownloadOption uint32

const (
	LowPriority DownloadOption = 1 << iota
	ProgressiveDownload
	RefreshCached
	ContinueInBackground
	HandleCookies
	AllowInvalidSSLCertificates
	HighPriority
	RetryFailed
	CacheMemoryOnly
	TransformAnimatedImage
	AvoidAutoSetImage
	DelayPlaceholder
)

func (o DownloadOption) has(flag DownloadOption) bool { return o&flag != 0 }

// DownloadImageResult is delivered to a DownloadImage completion
// callback.
type DownloadImageResult struct {
	Image    *DecodedImage
	Err      error
	Source   CacheSourceTag
	Finished bool
	URL      *url.URL
}

// CompletionFunc receives each DownloadImageResult.
type CompletionFunc func(DownloadImageResult)

// Manager is the orchestration component combining a single Cache and
// a single Downloader, plus a failed-URL blacklist and a set of
// in-flight running operations.
//
// Modeled on db.go's lifecycle shape (New/Close, an exclusive-locked
// resource set, cancel-all on shutdown).
type Manager struct {
	cache      *Cache
	downloader Downloader
	transform  TransformDelegate
	keyFilter  KeyFilter
	metrics    *Metrics
	main       Executor
	background Executor

	failedMu sync.Mutex
	failed   map[string]struct{}

	runningMu sync.Mutex
	running   map[*CombinedOperation]struct{}
}

// NewManager applies opts.WithDefaults(), validates the result, and
// constructs a Manager from it.
func NewManager(opts ManagerOptions) (*Manager, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cache:      opts.Cache,
		downloader: opts.Downloader,
		transform:  opts.Transform,
		keyFilter:  opts.KeyFilter,
		metrics:    opts.Metrics,
		main:       opts.Executor,
		background: NewPooledExecutor(opts.TransformConcurrency),
		failed:     make(map[string]struct{}),
		running:    make(map[*CombinedOperation]struct{}),
	}, nil
}

// DownloadImage is the manager's main entry point: it checks the
// cache, and on a miss (or a RefreshCached hit) starts a download.
func (m *Manager) DownloadImage(u *url.URL, opts DownloadOption, progress ProgressFunc, completion CompletionFunc) *CombinedOperation {
	if completion == nil {
		panic(ErrNoCompletion)
	}

	op := NewCombinedOperation(m.metrics)

	if u == nil || u.String() == "" {
		m.main.Run(func() {
			completion(DownloadImageResult{Err: ErrURLEmpty, Finished: true, URL: u})
		})
		return op
	}

	if m.isBlacklisted(u) && !opts.has(RetryFailed) {
		m.main.Run(func() {
			completion(DownloadImageResult{Err: ErrURLBlacklisted, Finished: true, URL: u})
		})
		return op
	}

	m.addRunning(op)
	key := KeyForURL(u, m.keyFilter)

	weakOp := weak.Make(op)
	op.SetCancelHook(func() {
		if strong := weakOp.Value(); strong != nil {
			m.removeRunning(strong)
		}
	})

	cacheOp := m.cache.Query(context.Background(), key, func(result QueryResult) {
		m.onQueryComplete(op, u, key, opts, result, progress, completion)
	})
	op.SetCacheOperation(cacheOp)

	return op
}

// onQueryComplete handles the cache-query completion: delivers a hit,
// vetoes via the transform delegate on a miss, or proceeds to download.
func (m *Manager) onQueryComplete(op *CombinedOperation, u *url.URL, key string, opts DownloadOption, result QueryResult, progress ProgressFunc, completion CompletionFunc) {
	if op.Cancelled() {
		m.removeRunning(op)
		return
	}

	hit := result.Image != nil
	refreshing := hit && opts.has(RefreshCached)

	if hit {
		completion(DownloadImageResult{Image: result.Image, Source: result.Source, Finished: true, URL: u})
		if !refreshing {
			m.removeRunning(op)
			return
		}
	} else if m.transform != nil && !m.transform.ShouldDownloadFor(u) {
		completion(DownloadImageResult{Finished: true, URL: u})
		m.removeRunning(op)
		return
	}

	m.startDownload(op, u, key, opts, refreshing, hit, progress, completion)
}

// startDownload maps manager options onto downloader options and
// starts the fetch.
func (m *Manager) startDownload(op *CombinedOperation, u *url.URL, key string, opts DownloadOption, refreshing, hadHit bool, progress ProgressFunc, completion CompletionFunc) {
	dlOpts := toDownloadOptions(opts)
	if refreshing {
		dlOpts &^= DownloadProgressive
		dlOpts |= DownloadIgnoreResponseCache
	}

	if m.metrics != nil {
		m.metrics.ObserveDownloadStart(false)
	}

	if userProgress := progress; userProgress != nil {
		progress = func(received, expected int64) {
			m.main.Run(func() { userProgress(received, expected) })
		}
	}

	cancel := m.downloader.Download(u, dlOpts, progress, func(res DownloadResult) {
		m.onDownloadComplete(op, u, key, opts, refreshing, hadHit, res, completion)
	})

	weakOp := weak.Make(op)
	op.SetCancelHook(func() {
		cancel()
		if strong := weakOp.Value(); strong != nil {
			m.removeRunning(strong)
		}
	})
}

// toDownloadOptions maps manager options to downloader options
// one-for-one.
func toDownloadOptions(opts DownloadOption) DownloadOptions {
	var d DownloadOptions
	if opts.has(LowPriority) {
		d |= DownloadLowPriority
	}
	if opts.has(ProgressiveDownload) {
		d |= DownloadProgressive
	}
	if opts.has(ContinueInBackground) {
		d |= DownloadContinueInBackground
	}
	if opts.has(HandleCookies) {
		d |= DownloadHandleCookies
	}
	if opts.has(AllowInvalidSSLCertificates) {
		d |= DownloadAllowInvalidSSLCertificates
	}
	if opts.has(HighPriority) {
		d |= DownloadHighPriority
	}
	return d
}

// onDownloadComplete handles the downloader's completion: delivers the
// result, blacklists non-transient errors, stores a successful image,
// and removes the operation from the running set once finished. On the
// transform path the store and delivery run on the background executor
// and may complete after that removal.
func (m *Manager) onDownloadComplete(op *CombinedOperation, u *url.URL, key string, opts DownloadOption, refreshing, hadHit bool, res DownloadResult, completion CompletionFunc) {
	if op.Cancelled() {
		return
	}

	if m.metrics != nil {
		m.metrics.ObserveDownloadDone(0, res.Err)
	}

	if res.Err != nil {
		m.main.Run(func() {
			completion(DownloadImageResult{Err: res.Err, Finished: res.Finished, URL: u})
		})
		if !isTransientDownloadError(res.Err) {
			m.blacklist(u)
		}
		if res.Finished {
			m.removeRunning(op)
		}
		return
	}

	if opts.has(RetryFailed) {
		m.unblacklist(u)
	}
	toDisk := !opts.has(CacheMemoryOnly)

	if refreshing && hadHit && res.Image == nil {
		// HTTP-cache hit on refresh: suppress the second completion
		if res.Finished {
			m.removeRunning(op)
		}
		return
	}

	canTransform := res.Image != nil && (!res.Image.Animated || opts.has(TransformAnimatedImage)) && m.transform != nil
	if canTransform {
		m.background.Run(func() {
			transformed := m.transform.TransformDownloaded(res.Image, u)
			recalculated := transformed != res.Image
			storeOpts := StoreOptions{Recalculate: recalculated, ToDisk: toDisk}
			if !recalculated {
				storeOpts.Data = res.Data
			}
			m.cache.Store(transformed, key, storeOpts)
			m.main.Run(func() {
				completion(DownloadImageResult{Image: transformed, Finished: res.Finished, URL: u})
			})
		})
	} else if res.Image != nil && res.Finished {
		m.cache.Store(res.Image, key, StoreOptions{Recalculate: false, Data: res.Data, ToDisk: toDisk})
		m.main.Run(func() {
			completion(DownloadImageResult{Image: res.Image, Finished: res.Finished, URL: u})
		})
	}

	if res.Finished {
		m.removeRunning(op)
	}
}

// CachedImageExists reports whether url's key is present in either
// tier, probing disk synchronously if needed.
func (m *Manager) CachedImageExists(u *url.URL) bool {
	key := KeyForURL(u, m.keyFilter)
	if _, ok := m.cache.ImageFromMemory(key); ok {
		return true
	}
	return m.cache.Exists(key)
}

// DiskImageExists is the asynchronous disk-only existence probe.
func (m *Manager) DiskImageExists(u *url.URL, completion func(bool)) {
	key := KeyForURL(u, m.keyFilter)
	go func() {
		exists := m.cache.Exists(key)
		m.main.Run(func() {
			if completion != nil {
				completion(exists)
			}
		})
	}()
}

// SaveImageToCache is a direct memory+disk store bypassing the
// download path entirely.
func (m *Manager) SaveImageToCache(img *DecodedImage, u *url.URL) {
	key := KeyForURL(u, m.keyFilter)
	m.cache.Store(img, key, StoreOptions{ToDisk: true})
}

// CancelAll cancels every running combined operation.
func (m *Manager) CancelAll() {
	m.runningMu.Lock()
	snapshot := make([]*CombinedOperation, 0, len(m.running))
	for op := range m.running {
		snapshot = append(snapshot, op)
	}
	m.runningMu.Unlock()

	for _, op := range snapshot {
		op.Cancel()
	}
}

// IsRunning reports whether any operation is in flight.
func (m *Manager) IsRunning() bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	return len(m.running) > 0
}

// Close cancels all running operations and releases the underlying
// cache's resources.
func (m *Manager) Close() error {
	m.CancelAll()
	return m.cache.Close()
}

func (m *Manager) addRunning(op *CombinedOperation) {
	m.runningMu.Lock()
	m.running[op] = struct{}{}
	m.runningMu.Unlock()
}

func (m *Manager) removeRunning(op *CombinedOperation) {
	m.runningMu.Lock()
	delete(m.running, op)
	m.runningMu.Unlock()
}

func (m *Manager) isBlacklisted(u *url.URL) bool {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()
	_, ok := m.failed[u.String()]
	return ok
}

func (m *Manager) blacklist(u *url.URL) {
	m.failedMu.Lock()
	m.failed[u.String()] = struct{}{}
	m.failedMu.Unlock()
}

func (m *Manager) unblacklist(u *url.URL) {
	m.failedMu.Lock()
	delete(m.failed, u.String())
	m.failedMu.Unlock()
}
