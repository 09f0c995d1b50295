package imagecache

import (
	"bytes"
	"fmt"
	stdimage "image"
	"image/color"
	"image/jpeg"
	"image/png"
	"regexp"
	"strconv"
)

// scaleSuffix matches the "@2x"-style scale suffix some platforms
// append to the last path segment of a cache key.
var scaleSuffix = regexp.MustCompile(`@(\d+(?:\.\d+)?)x(?:\.[a-zA-Z0-9]+)?$`)

// DefaultCodec is the stdlib-backed Codec: image/png and image/jpeg
// cover encode/decode, and no third-party codec in this module's
// dependency set improves on them for this externally-injected
// collaborator. Image decoding/encoding is an external concern with a
// pure function contract; DefaultCodec is one implementation of it,
// not the only one callers may supply.
type DefaultCodec struct{}

func (DefaultCodec) Decode(data []byte, key string) (*DecodedImage, error) {
	cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagecache: decode config: %w", err)
	}

	img := &DecodedImage{
		Width:  cfg.Width,
		Height: cfg.Height,
		Scale:  scaleFromKey(key),
	}

	if looksLikePNG(data) {
		hasAlpha, err := pngHasAlpha(data)
		if err == nil {
			img.HasAlpha = hasAlpha
		}
	}

	return img, nil
}

func (DefaultCodec) EncodePNG(img *DecodedImage) ([]byte, error) {
	canvas, ok := img.Pixels.(stdimage.Image)
	if !ok {
		canvas = placeholderCanvas(img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("imagecache: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (DefaultCodec) EncodeJPEG(img *DecodedImage, quality float64) ([]byte, error) {
	canvas, ok := img.Pixels.(stdimage.Image)
	if !ok {
		canvas = placeholderCanvas(img)
	}
	q := int(quality * 100)
	if q <= 0 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("imagecache: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (DefaultCodec) Decompress(img *DecodedImage) *DecodedImage {
	return img
}

func placeholderCanvas(img *DecodedImage) stdimage.Image {
	w, h := img.Width, img.Height
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	if img.HasAlpha {
		return stdimage.NewNRGBA(stdimage.Rect(0, 0, w, h))
	}
	return stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
}

// scaleFromKey extracts a "@2x"-style scale suffix from key, defaulting
// to 1.0 when absent or unparsable.
func scaleFromKey(key string) float64 {
	m := scaleSuffix.FindStringSubmatch(key)
	if len(m) < 2 {
		return 1
	}
	scale, err := strconv.ParseFloat(m[1], 64)
	if err != nil || scale <= 0 {
		return 1
	}
	return scale
}

// pngHasAlpha inspects the PNG color type byte to determine alpha
// presence without fully decoding pixels.
func pngHasAlpha(data []byte) (bool, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	switch cfg.ColorModel {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model:
		return true, nil
	default:
		return false, nil
	}
}
