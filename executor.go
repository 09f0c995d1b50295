package imagecache

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Executor is the injectable scheduler abstraction standing in for the
// main, IO, and transform execution contexts. Production code gets a
// sensible default; tests use SyncExecutor so completion ordering is
// deterministic and callbacks run on the calling goroutine.
type Executor interface {
	Run(func())
}

// SyncExecutor runs the function immediately on the caller's
// goroutine.
type SyncExecutor struct{}

func (SyncExecutor) Run(fn func()) {
	if fn != nil {
		fn()
	}
}

// PooledExecutor runs submitted work on a bounded pool of goroutines
// via golang.org/x/sync/errgroup, the same errgroup-backed pattern
// used for bounded fan-out decode work elsewhere (k_merge_iter.go,
// compactor.go). The manager uses this as its background (transform
// fan-out) executor so a burst of TransformDownloaded calls can't spawn
// unbounded goroutines.
//
// Run does not wait for the function it submits, but while limit
// submissions are already running it blocks until one of them
// finishes (errgroup.Group.Go semantics). Errors are never
// propagated, so PooledExecutor never calls Wait.
type PooledExecutor struct {
	g errgroup.Group
}

// NewPooledExecutor returns a PooledExecutor that runs at most limit
// submissions concurrently. A non-positive limit means unbounded,
// matching errgroup.Group's default SetLimit(-1) semantics.
func NewPooledExecutor(limit int) *PooledExecutor {
	p := &PooledExecutor{}
	if limit > 0 {
		p.g.SetLimit(limit)
	}
	return p
}

func (p *PooledExecutor) Run(fn func()) {
	if fn == nil {
		return
	}
	p.g.Go(func() error {
		fn()
		return nil
	})
}

// ioJob is one unit of work queued on the IO executor.
type ioJob func()

// ioQueue is a single serial FIFO worker that owns the disk tier's
// file-manager handle so disk reads and writes never race each other.
// Modeled on the single long-lived background goroutine pattern used
// for writer.go's backgroundSyncLoop and db.go's syncCancel+syncWg.
type ioQueue struct {
	jobs   chan ioJob
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func newIOQueue() *ioQueue {
	q := &ioQueue{
		jobs: make(chan ioJob, 256),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *ioQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.runJob(job)
		case <-q.done:
			return
		}
	}
}

// runJob runs job with a recover guard so a panicking job logs and
// moves on instead of silently killing the worker goroutine, the same
// survive-and-log shape writer.go's backgroundSyncLoop gives a failed
// flush.
func (q *ioQueue) runJob(job ioJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("imagecache: io executor job panicked", "panic", r)
		}
	}()
	job()
}

// Submit enqueues job. It is a no-op once the queue is closed, so a
// straggling submission after Close does not panic on a closed
// channel.
func (q *ioQueue) Submit(job ioJob) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed || job == nil {
		return
	}
	select {
	case q.jobs <- job:
	case <-q.done:
	}
}

// Close signals the worker to stop and waits for it to exit. Jobs still
// queued are not drained; any of them may or may not run before the
// worker observes the stop signal.
func (q *ioQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
	q.wg.Wait()
}
