package imagecache

import (
	"context"
	"testing"
	"time"

	"github.com/ankur-anand/imagecache/diskcache"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	opts := DefaultCacheOptions()
	opts.Root = t.TempDir()
	opts.Namespace = "test"
	c, err := NewCache(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// invariant 1: a memory-only store is visible to a synchronous query.
func TestCacheStoreThenQuerySynchronousMemoryHit(t *testing.T) {
	c := newTestCache(t)
	img := &DecodedImage{Width: 4, Height: 4, Scale: 1}

	c.Store(img, "k", StoreOptions{ToDisk: false})

	var result QueryResult
	delivered := false
	c.Query(context.Background(), "k", func(r QueryResult) {
		result = r
		delivered = true
	})

	require.True(t, delivered)
	require.Same(t, img, result.Image)
	require.Equal(t, SourceMemory, result.Source)
}

// invariant 2: verbatim bytes round-trip through disk without re-encoding.
func TestCacheStoreVerbatimBytesRoundTrip(t *testing.T) {
	c := newTestCache(t)
	data := encodedTestPNG(t, true)
	img, err := DefaultCodec{}.Decode(data, "k")
	require.NoError(t, err)

	c.Store(img, "k", StoreOptions{Data: data, Recalculate: false, ToDisk: true})

	require.Eventually(t, func() bool { return c.Exists("k") }, time.Second, 5*time.Millisecond)

	raw, ok := c.disk.Read(context.Background(), "k")
	require.True(t, ok)
	require.Equal(t, data, raw)
}

// invariant 3/4: alpha-presence drives the PNG/JPEG byte-selection sniff
// when no data is supplied.
func TestCacheStoreSniffsAlphaForPNG(t *testing.T) {
	c := newTestCache(t)
	img := &DecodedImage{Width: 2, Height: 2, HasAlpha: true}

	c.Store(img, "alpha", StoreOptions{ToDisk: true})
	require.Eventually(t, func() bool { return c.Exists("alpha") }, time.Second, 5*time.Millisecond)

	raw, ok := c.disk.Read(context.Background(), "alpha")
	require.True(t, ok)
	require.True(t, looksLikePNG(raw))
}

func TestCacheStoreSniffsNoAlphaForJPEG(t *testing.T) {
	c := newTestCache(t)
	img := &DecodedImage{Width: 2, Height: 2, HasAlpha: false}

	c.Store(img, "noalpha", StoreOptions{ToDisk: true})
	require.Eventually(t, func() bool { return c.Exists("noalpha") }, time.Second, 5*time.Millisecond)

	raw, ok := c.disk.Read(context.Background(), "noalpha")
	require.True(t, ok)
	require.False(t, looksLikePNG(raw))
}

func TestCacheQueryMissDeliversNoneSource(t *testing.T) {
	c := newTestCache(t)

	var result QueryResult
	done := make(chan struct{})
	c.Query(context.Background(), "missing", func(r QueryResult) {
		result = r
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("query did not complete")
	}
	require.Nil(t, result.Image)
	require.Equal(t, SourceNone, result.Source)
}

func TestCacheQueryAbsentKeyDeliversNoneWithoutWork(t *testing.T) {
	c := newTestCache(t)

	var result QueryResult
	c.Query(context.Background(), "", func(r QueryResult) { result = r })

	require.Equal(t, SourceNone, result.Source)
}

func TestCacheQueryPromotesDiskHitToMemory(t *testing.T) {
	c := newTestCache(t)
	data := encodedTestPNG(t, false)

	require.NoError(t, c.disk.Write("k", data, diskcache.WriteOptions{}))

	done := make(chan struct{})
	c.Query(context.Background(), "k", func(r QueryResult) {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("query did not complete")
	}

	_, ok := c.ImageFromMemory("k")
	require.True(t, ok)
}

func TestCacheQueryCancelSuppressesDelivery(t *testing.T) {
	c := newTestCache(t)
	data := encodedTestPNG(t, false)
	require.NoError(t, c.disk.Write("k", data, diskcache.WriteOptions{}))

	delivered := false
	op := c.Query(context.Background(), "k", func(r QueryResult) {
		delivered = true
	})
	op.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.False(t, delivered)
}

func TestCacheRemoveMemoryOnly(t *testing.T) {
	c := newTestCache(t)
	img := &DecodedImage{Width: 1, Height: 1}
	c.Store(img, "k", StoreOptions{})

	called := false
	c.Remove("k", false, func() { called = true })

	require.True(t, called)
	_, ok := c.ImageFromMemory("k")
	require.False(t, ok)
}

func TestCacheSweepDeliversOnMainExecutor(t *testing.T) {
	c := newTestCache(t)
	img := &DecodedImage{Width: 1, Height: 1}
	done := make(chan struct{})
	c.Store(img, "k", StoreOptions{ToDisk: true, Data: []byte("data")})

	var stats diskcache.SweepStats
	var sweepErr error
	c.Sweep(func(s diskcache.SweepStats, err error) {
		stats, sweepErr = s, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not complete")
	}
	require.NoError(t, sweepErr)
	require.GreaterOrEqual(t, stats.Scanned, 1)
}
