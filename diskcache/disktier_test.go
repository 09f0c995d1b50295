package diskcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testFilenameOf(key string) string {
	return key + ".bin"
}

func newTestTier(t *testing.T) *Tier {
	t.Helper()
	tier, err := NewTier(Options{
		Root:           t.TempDir(),
		Namespace:      "test",
		FilenameForKey: testFilenameOf,
	})
	require.NoError(t, err)
	return tier
}

func TestNewTierCreatesNamespaceDir(t *testing.T) {
	tier := newTestTier(t)
	info, err := os.Stat(tier.Dir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Contains(t, filepath.Base(tier.Dir()), BundlePrefix+".test")
}

func TestWriteReadRoundTrip(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Write("k1", []byte("payload"), WriteOptions{}))
	require.True(t, tier.Exists("k1"))

	data, ok := tier.Read(ctx, "k1")
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)
}

func TestExistsProbesBareDigestForBackwardCompat(t *testing.T) {
	tier := newTestTier(t)

	// Simulate a pre-extension cache entry written directly under the
	// bare (extensionless) filename.
	bare := filepath.Join(tier.Dir(), stripExt(testFilenameOf("k2")))
	require.NoError(t, writeRaw(bare, []byte("legacy")))

	require.True(t, tier.Exists("k2"))

	data, ok := tier.Read(context.Background(), "k2")
	require.True(t, ok)
	require.Equal(t, []byte("legacy"), data)
}

func TestReadMissFallsThroughToAuxRoots(t *testing.T) {
	aux, dir, err := newMemAux(t)
	require.NoError(t, err)
	_ = dir

	ctx := context.Background()
	require.NoError(t, aux.Store.Write(ctx, testFilenameOf("k3"), []byte("aux-hit")))

	tier, err := NewTier(Options{
		Root:           t.TempDir(),
		FilenameForKey: testFilenameOf,
		AuxRoots:       []AuxRoot{aux},
	})
	require.NoError(t, err)

	data, ok := tier.Read(ctx, "k3")
	require.True(t, ok)
	require.Equal(t, []byte("aux-hit"), data)
}

func TestRemoveAndRemoveAll(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Write("k4", []byte("data"), WriteOptions{}))
	tier.Remove("k4")
	_, ok := tier.Read(ctx, "k4")
	require.False(t, ok)

	require.NoError(t, tier.Write("k5", []byte("data"), WriteOptions{}))
	require.NoError(t, tier.RemoveAll())
	_, ok = tier.Read(ctx, "k5")
	require.False(t, ok)
}

func TestSweepAgeCull(t *testing.T) {
	tier, err := NewTier(Options{
		Root:           t.TempDir(),
		FilenameForKey: testFilenameOf,
		MaxAge:         time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, tier.Write("old", []byte("x"), WriteOptions{}))
	require.NoError(t, tier.Write("new", []byte("y"), WriteOptions{}))

	oldPath, _ := tier.primaryPaths("old")
	setModTime(t, oldPath, time.Now().Add(-2*time.Hour))

	stats, err := tier.Sweep()
	require.NoError(t, err)
	require.Equal(t, 1, stats.AgeDeleted)
	require.False(t, tier.Exists("old"))
	require.True(t, tier.Exists("new"))
}

func TestSweepSizeCullOldestFirst(t *testing.T) {
	tier, err := NewTier(Options{
		Root:           t.TempDir(),
		FilenameForKey: testFilenameOf,
		MaxAge:         24 * time.Hour,
		MaxSize:        10,
	})
	require.NoError(t, err)

	require.NoError(t, tier.Write("a", []byte("1234"), WriteOptions{}))
	require.NoError(t, tier.Write("b", []byte("1234"), WriteOptions{}))
	require.NoError(t, tier.Write("c", []byte("1234"), WriteOptions{}))

	aPath, _ := tier.primaryPaths("a")
	bPath, _ := tier.primaryPaths("b")
	cPath, _ := tier.primaryPaths("c")
	setModTime(t, aPath, time.Now().Add(-3*time.Hour))
	setModTime(t, bPath, time.Now().Add(-2*time.Hour))
	setModTime(t, cPath, time.Now().Add(-1*time.Hour))

	stats, err := tier.Sweep()
	require.NoError(t, err)
	require.Less(t, stats.RemainingSize, int64(5))
	require.False(t, tier.Exists("a"))
}

func TestPlanSizeCullOrdering(t *testing.T) {
	records := []fileRecord{
		{path: "b", modTime: time.Unix(200, 0), size: 4},
		{path: "a", modTime: time.Unix(100, 0), size: 4},
		{path: "c", modTime: time.Unix(300, 0), size: 4},
	}

	deletes, survivors, newSize := planSizeCull(records, 12, 10)
	require.Equal(t, "a", deletes[0].path)
	require.Equal(t, int64(4), newSize)
	require.Len(t, survivors, 1)
}
