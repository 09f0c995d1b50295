package imagecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheCost(t *testing.T) {
	require.Equal(t, uint64(200), CacheCost(&DecodedImage{Width: 10, Height: 20, Scale: 1}))
	require.Equal(t, uint64(800), CacheCost(&DecodedImage{Width: 10, Height: 20, Scale: 2}))
}

func TestCacheCostNilImage(t *testing.T) {
	require.Equal(t, uint64(0), CacheCost(nil))
}

func TestCacheCostDefaultsScaleToOne(t *testing.T) {
	require.Equal(t, uint64(100), CacheCost(&DecodedImage{Width: 10, Height: 10}))
}

func TestLooksLikePNG(t *testing.T) {
	require.True(t, looksLikePNG([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0xFF}))
	require.False(t, looksLikePNG([]byte{0xFF, 0xD8, 0xFF}))
	require.False(t, looksLikePNG([]byte{0x89, 0x50}))
}
