package imagecache

import (
	"sync"

	"github.com/segmentio/ksuid"
)

// Operation is any cancellable unit of in-flight work: the cache-query
// sub-operation a Cache returns and the download sub-operation a
// Downloader returns both satisfy it.
type Operation interface {
	Cancel()
}

// operationFunc adapts a plain cancel func to Operation.
type operationFunc func()

func (f operationFunc) Cancel() {
	if f != nil {
		f()
	}
}

// CombinedOperation is the cancellable composite handle returned by
// DownloadImage: it combines a cache-query sub-operation with a later
// download sub-operation under one cancellable identity.
type CombinedOperation struct {
	// ID is a correlation identifier for logs; it has no semantic role
	// in the cancellation contract and the registry does not use it.
	ID ksuid.KSUID

	metrics *Metrics

	mu             sync.Mutex
	cancelled      bool
	cacheOperation Operation
	cancelHook     func()
}

// NewCombinedOperation returns a fresh, un-cancelled handle. metrics may
// be nil.
func NewCombinedOperation(metrics *Metrics) *CombinedOperation {
	return &CombinedOperation{ID: ksuid.New(), metrics: metrics}
}

// Cancelled reports whether Cancel has run.
func (op *CombinedOperation) Cancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelled
}

// SetCacheOperation assigns the cache-query sub-operation. Replacing a
// previously set sub-operation does not cancel it; callers only ever
// set this once per handle. If the
// handle was already cancelled before the cache-query call returned
// (the caller can cancel concurrently with construction), sub is
// cancelled immediately rather than stored, so a late-attaching
// sub-operation can never outlive cancellation.
func (op *CombinedOperation) SetCacheOperation(sub Operation) {
	op.mu.Lock()
	if op.cancelled {
		op.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		return
	}
	op.cacheOperation = sub
	op.mu.Unlock()
}

// SetCancelHook stores h to run on Cancel. If the handle is already
// cancelled, h runs immediately and no hook is retained.
func (op *CombinedOperation) SetCancelHook(h func()) {
	op.mu.Lock()
	if op.cancelled {
		op.mu.Unlock()
		if h != nil {
			h()
		}
		return
	}
	op.cancelHook = h
	op.mu.Unlock()
}

// Cancel marks the handle cancelled, cancels the cache sub-operation
// if one is set, and invokes and clears the cancel hook. It is safe
// to call more than once; only the first call has effect.
func (op *CombinedOperation) Cancel() {
	op.mu.Lock()
	if op.cancelled {
		op.mu.Unlock()
		return
	}
	op.cancelled = true
	sub := op.cacheOperation
	op.cacheOperation = nil
	hook := op.cancelHook
	op.cancelHook = nil
	op.mu.Unlock()

	if op.metrics != nil {
		op.metrics.ObserveOperationCancelled()
	}

	if sub != nil {
		sub.Cancel()
	}
	if hook != nil {
		hook()
	}
}
