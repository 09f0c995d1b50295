package imagecache

import "errors"

// ErrClosed is returned by operations attempted after the owning
// manager or cache has been closed.
var ErrClosed = errors.New("imagecache: closed")

// ErrOperationCancelled is returned by a cache-lookup sub-operation
// that observed cancellation before completing its unit of work.
var ErrOperationCancelled = errors.New("imagecache: operation cancelled")

// ErrURLEmpty is the "file does not exist" condition assigned to an
// absent or zero-length URL.
var ErrURLEmpty = errors.New("imagecache: url does not exist")

// ErrURLBlacklisted is the "file does not exist" condition assigned to
// a URL present in the failed-URL set without RetryFailed.
var ErrURLBlacklisted = errors.New("imagecache: url does not exist")

// ErrNoCompletion is the programmer error of calling DownloadImage
// without a completion callback.
var ErrNoCompletion = errors.New("imagecache: completion callback is required")
