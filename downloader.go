package imagecache

import "net/url"

// DownloadOptions is the downloader-facing bitset the manager maps its
// own DownloadOption flags onto one-for-one.
type DownloadOptions uint32

const (
	DownloadLowPriority DownloadOptions = 1 << iota
	DownloadProgressive
	DownloadContinueInBackground
	DownloadHandleCookies
	DownloadAllowInvalidSSLCertificates
	DownloadHighPriority
	// DownloadIgnoreResponseCache forces the transport to bypass any
	// HTTP-level cached response body, set when the manager is
	// refreshing a cache hit.
	DownloadIgnoreResponseCache
)

// ProgressFunc reports received/expected byte counts. It may be
// invoked multiple times on the main executor; there is no ordering
// guarantee across distinct downloads.
type ProgressFunc func(receivedBytes, expectedBytes int64)

// DownloadResult is the outcome delivered to a download completion
// callback: a decoded image and/or raw bytes, an error, and whether
// this is the terminal callback for the download.
type DownloadResult struct {
	Image    *DecodedImage
	Data     []byte
	Err      error
	Finished bool
}

// DownloadCompletionFunc receives each DownloadResult. When
// DownloadProgressive is set and Finished is false, it may be called
// repeatedly; the last call has Finished true.
type DownloadCompletionFunc func(DownloadResult)

// CancelFunc cancels an in-flight operation. It is idempotent.
type CancelFunc func()

// Downloader is the external collaborator that supplies progress and
// completion for a URL fetch. The default net/http-backed
// implementation lives in the download subpackage.
type Downloader interface {
	// Download starts (or coalesces into) a fetch of u. It returns a
	// CancelFunc that idempotently cancels the sub-operation; after
	// cancellation no further callbacks fire.
	Download(u *url.URL, opts DownloadOptions, progress ProgressFunc, completion DownloadCompletionFunc) CancelFunc
}

// TransformDelegate is the application-layer collaborator that may
// veto a download before it starts and may transform a successfully
// downloaded image before it is cached.
type TransformDelegate interface {
	// ShouldDownloadFor reports whether a download should be attempted
	// for u after a cache miss. A nil delegate is treated as always
	// true.
	ShouldDownloadFor(u *url.URL) bool

	// TransformDownloaded returns a possibly-modified copy of img. It
	// runs on a background executor, never on the main executor.
	TransformDownloaded(img *DecodedImage, u *url.URL) *DecodedImage
}

// isTransientDownloadError classifies errors exempt from blacklisting:
// connectivity, cancellation, and timeout-class failures are expected
// to succeed on a later attempt.
func isTransientDownloadError(err error) bool {
	if err == nil {
		return true
	}
	if e, ok := err.(interface{ Transient() bool }); ok {
		return e.Transient()
	}
	return false
}

// TransientError is implemented by downloader errors that should not
// trigger blacklisting: no connectivity, cancelled, timed out, roaming
// off, data not allowed, cannot find/connect to host.
type TransientError interface {
	error
	Transient() bool
}
