package download

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ankur-anand/imagecache"
)

type fakeDecoder struct {
	img *imagecache.DecodedImage
	err error
}

func (d *fakeDecoder) Decode(data []byte, key string) (*imagecache.DecodedImage, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.img, nil
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func waitResult(t *testing.T, ch chan imagecache.DownloadResult) imagecache.DownloadResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("download did not complete")
		return imagecache.DownloadResult{}
	}
}

func TestClientDownloadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	img := &imagecache.DecodedImage{Width: 3, Height: 3}
	c := New(&fakeDecoder{img: img})

	ch := make(chan imagecache.DownloadResult, 1)
	c.Download(mustParse(t, srv.URL), 0, nil, func(r imagecache.DownloadResult) { ch <- r })

	res := waitResult(t, ch)
	require.NoError(t, res.Err)
	require.True(t, res.Finished)
	require.Same(t, img, res.Image)
	require.Equal(t, []byte("imagebytes"), res.Data)
}

func TestClientDownloadNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(&fakeDecoder{})
	ch := make(chan imagecache.DownloadResult, 1)
	c.Download(mustParse(t, srv.URL), 0, nil, func(r imagecache.DownloadResult) { ch <- r })

	res := waitResult(t, ch)
	require.Error(t, res.Err)
	var herr *HTTPError
	require.ErrorAs(t, res.Err, &herr)
	require.Equal(t, http.StatusNotFound, herr.StatusCode)
	require.False(t, herr.Transient())
}

func TestClientDownloadConnectionFailureIsTransient(t *testing.T) {
	c := New(&fakeDecoder{})
	ch := make(chan imagecache.DownloadResult, 1)
	// A closed server guarantees the transport fails the round trip.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c.Download(mustParse(t, srv.URL), 0, nil, func(r imagecache.DownloadResult) { ch <- r })

	res := waitResult(t, ch)
	require.Error(t, res.Err)
	var terr *transientError
	require.ErrorAs(t, res.Err, &terr)
	require.True(t, terr.Transient())
}

func TestClientDownloadReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 128*1024))
	}))
	defer srv.Close()

	c := New(&fakeDecoder{img: &imagecache.DecodedImage{}})
	var calls int32
	ch := make(chan imagecache.DownloadResult, 1)
	c.Download(mustParse(t, srv.URL), 0, func(received, expected int64) {
		atomic.AddInt32(&calls, 1)
	}, func(r imagecache.DownloadResult) { ch <- r })

	waitResult(t, ch)
	require.Greater(t, atomic.LoadInt32(&calls), int32(0))
}

func TestClientDownloadCancelSuppressesCompletion(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-block
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := New(&fakeDecoder{img: &imagecache.DecodedImage{}})
	var delivered bool
	cancel := c.Download(mustParse(t, srv.URL), 0, nil, func(r imagecache.DownloadResult) { delivered = true })

	<-started
	cancel()
	close(block)

	time.Sleep(100 * time.Millisecond)
	require.False(t, delivered)
}

// Concurrent requests for the same URL coalesce into a single round
// trip through the shared singleflight.Group.
func TestClientDownloadCoalescesConcurrentIdenticalURLs(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := New(&fakeDecoder{img: &imagecache.DecodedImage{}})
	u := mustParse(t, srv.URL)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan imagecache.DownloadResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Download(u, 0, nil, func(r imagecache.DownloadResult) { results <- r })
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		res := waitResult(t, results)
		require.NoError(t, res.Err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
