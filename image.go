package imagecache

// DecodedImage is the opaque decoded-image handle flowing between the
// cache, the downloader, and the caller. Its pixel buffer is carried
// only as the opaque Pixels field; the named fields are the attributes
// the cache and manager reason about.
type DecodedImage struct {
	Width    int
	Height   int
	Scale    float64
	HasAlpha bool
	Animated bool

	// Pixels is opaque payload the caller's decoder attaches. The cache
	// facade passes it through untouched; DefaultCodec's encoders draw
	// from it when it is an image.Image.
	Pixels any
}

// CacheCost computes the memory-tier weight of img: width * height *
// scale^2, truncated to an unsigned integer. A non-positive scale
// counts as 1.
func CacheCost(img *DecodedImage) uint64 {
	if img == nil {
		return 0
	}
	scale := img.Scale
	if scale <= 0 {
		scale = 1
	}
	cost := float64(img.Width) * float64(img.Height) * scale * scale
	if cost < 0 {
		return 0
	}
	return uint64(cost)
}

// pngSignature is the 8-byte PNG magic number the store path sniffs
// for when choosing whether to persist PNG or JPEG bytes.
var pngSignature = [8]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// looksLikePNG reports whether data begins with the PNG signature.
func looksLikePNG(data []byte) bool {
	if len(data) < len(pngSignature) {
		return false
	}
	for i, b := range pngSignature {
		if data[i] != b {
			return false
		}
	}
	return true
}

// Codec supplies the pure encode/decode functions the cache facade
// calls on image bytes. Image decoding, scale derivation, and PNG/JPEG
// encoding are external collaborators rather than core logic; Codec is
// the injection point for them. DefaultCodec provides a stdlib-backed
// implementation sufficient for tests and simple callers.
type Codec interface {
	// Decode parses data into a DecodedImage, deriving scale from key
	// when the decoder supports scale-suffixed keys (e.g. "@2x").
	Decode(data []byte, key string) (*DecodedImage, error)

	// EncodePNG re-encodes img as PNG bytes.
	EncodePNG(img *DecodedImage) ([]byte, error)

	// EncodeJPEG re-encodes img as JPEG bytes at the given quality
	// (0.0-1.0).
	EncodeJPEG(img *DecodedImage, quality float64) ([]byte, error)

	// Decompress returns a display-ready copy of img. Implementations
	// that do not pre-multiply/decompress may return img unchanged.
	Decompress(img *DecodedImage) *DecodedImage
}
