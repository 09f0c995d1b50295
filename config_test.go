package imagecache

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheOptionsDefaultCacheAge(t *testing.T) {
	d := DefaultCacheOptions()
	require.Equal(t, 7*24*time.Hour, d.MaxCacheAge)
	require.True(t, d.ShouldCacheImagesInMemory)
	require.True(t, d.ShouldDecompressImages)
	require.True(t, d.ShouldDisableICloud)
	require.NotNil(t, d.Codec)
}

func TestCacheOptionsWithDefaultsDoesNotBackfillBooleans(t *testing.T) {
	o := CacheOptions{Root: "/tmp/x", Namespace: "ns"}.WithDefaults()
	require.False(t, o.ShouldCacheImagesInMemory)
	require.False(t, o.ShouldDecompressImages)
	require.False(t, o.ShouldDisableICloud)
}

func TestCacheOptionsWithDefaultsBackfillsSentinels(t *testing.T) {
	o := CacheOptions{}.WithDefaults()
	require.NotEmpty(t, o.Root)
	require.Equal(t, "default", o.Namespace)
	require.Equal(t, 7*24*time.Hour, o.MaxCacheAge)
	require.NotNil(t, o.Codec)
}

func TestCacheOptionsValidateRejectsNegativeSize(t *testing.T) {
	o := DefaultCacheOptions()
	o.MaxCacheSize = -1
	require.Error(t, o.Validate())
}

func TestManagerOptionsValidateRequiresCacheAndDownloader(t *testing.T) {
	require.Error(t, ManagerOptions{}.Validate())
	require.Error(t, ManagerOptions{Cache: &Cache{}}.Validate())
	require.NoError(t, ManagerOptions{Cache: &Cache{}, Downloader: &nopDownloader{}}.Validate())
}

func TestManagerOptionsWithDefaultsSetsExecutorAndConcurrency(t *testing.T) {
	o := ManagerOptions{}.WithDefaults()
	require.NotNil(t, o.Executor)
	require.Equal(t, defaultTransformConcurrency, o.TransformConcurrency)

	o2 := ManagerOptions{TransformConcurrency: -1}.WithDefaults()
	require.Equal(t, -1, o2.TransformConcurrency)
}

type nopDownloader struct{}

func (nopDownloader) Download(u *url.URL, opts DownloadOptions, progress ProgressFunc, completion DownloadCompletionFunc) CancelFunc {
	return func() {}
}
