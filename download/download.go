// Package download implements the default HTTP-backed Downloader: a
// net/http client whose concurrent identical-URL requests coalesce
// into a single in-flight fetch via golang.org/x/sync/singleflight.
package download

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ankur-anand/imagecache"
)

// HTTPError is a non-2xx HTTP response. Every such status is
// non-transient (it blacklists); connection-level failures
// reaching Downloader.Download never construct an HTTPError and are
// reported as plain transient errors instead.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download: %s: status %d", e.URL, e.StatusCode)
}

// Transient reports false: an HTTP status response means the server
// was reachable, so the request should blacklist rather than be
// retried transparently.
func (e *HTTPError) Transient() bool { return false }

// transientError wraps a transport-level failure (DNS, connection
// refused, timeout, context cancellation); these never reached the
// server and so should never blacklist the URL.
type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// Decoder decodes raw bytes into an imagecache.DecodedImage. The
// download subpackage treats decoding as a pure function supplied by
// the caller, keeping image-format knowledge out of the HTTP fetch
// path entirely.
type Decoder interface {
	Decode(data []byte, key string) (*imagecache.DecodedImage, error)
}

// Client is the default Downloader: it fetches over HTTP, decodes via
// Decoder, and coalesces concurrent requests for the same URL through
// a singleflight.Group.
type Client struct {
	HTTP    *http.Client
	Decoder Decoder
	Metrics *imagecache.Metrics

	group singleflight.Group
}

// New returns a Client with a default 30s-timeout http.Client.
func New(decoder Decoder) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Decoder: decoder,
	}
}

type fetchResult struct {
	data []byte
	err  error
}

// Download implements imagecache.Downloader. Progress reporting is
// best-effort: net/http does not expose chunk-level progress through
// singleflight-shared requests, so progress fires once with the final
// byte count for callers that coalesced onto an in-flight request and
// incrementally for the request's own caller.
func (c *Client) Download(u *url.URL, opts imagecache.DownloadOptions, progress imagecache.ProgressFunc, completion imagecache.DownloadCompletionFunc) imagecache.CancelFunc {
	cancelled := make(chan struct{})
	var once sync.Once
	cancel := imagecache.CancelFunc(func() {
		once.Do(func() { close(cancelled) })
	})

	go func() {
		key := u.String()
		leader := false
		v, err, shared := c.group.Do(key, func() (any, error) {
			leader = true
			return c.fetch(u, opts, func(received, expected int64) {
				select {
				case <-cancelled:
					return
				default:
				}
				if progress != nil {
					progress(received, expected)
				}
			})
		})

		select {
		case <-cancelled:
			return
		default:
		}

		if c.Metrics != nil {
			c.Metrics.ObserveDownloadStart(shared)
		}

		if err != nil {
			completion(imagecache.DownloadResult{Err: err, Finished: true})
			return
		}

		res := v.(fetchResult)
		if !leader && progress != nil {
			n := int64(len(res.data))
			progress(n, n)
		}
		img, derr := c.Decoder.Decode(res.data, key)
		if derr != nil {
			completion(imagecache.DownloadResult{Err: derr, Finished: true})
			return
		}
		completion(imagecache.DownloadResult{Image: img, Data: res.data, Finished: true})
	}()

	return cancel
}

func (c *Client) fetch(u *url.URL, opts imagecache.DownloadOptions, progress imagecache.ProgressFunc) (fetchResult, error) {
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fetchResult{}, &transientError{err: err}
	}

	if opts&imagecache.DownloadIgnoreResponseCache != 0 {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fetchResult{}, &transientError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fetchResult{}, &HTTPError{StatusCode: resp.StatusCode, URL: u.String()}
	}

	var received int64
	expected := resp.ContentLength

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			received += int64(n)
			if progress != nil {
				progress(received, expected)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fetchResult{}, &transientError{err: rerr}
		}
	}

	return fetchResult{data: buf}, nil
}
