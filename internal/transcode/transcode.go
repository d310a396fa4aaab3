// Package transcode turns raw object bytes into WebP derivatives:
// decode, width-preserving-aspect resize, lossy encode.
package transcode

import "errors"

const (
	// MIMEType is the content type of every encoded derivative.
	MIMEType = "image/webp"

	DefaultQuality = 80
)

// ErrUnsupportedImage reports bytes that do not decode as a raster
// image. Callers treat it as a benign skip, not a pipeline failure.
var ErrUnsupportedImage = errors.New("unsupported image data")

// Raster is a decoded source image. Clone returns an independent copy
// so concurrent resize tasks never share mutable state.
type Raster interface {
	Width() int
	Height() int
	Clone() Raster
}

type Transcoder interface {
	Decode(data []byte) (Raster, error)
	// Resize scales to targetWidth preserving aspect ratio with a
	// Lanczos filter. targetWidth <= 0 is a pass-through clone.
	Resize(r Raster, targetWidth int) (Raster, error)
	Encode(r Raster) ([]byte, error)
}

type Config struct {
	Quality int
}

func New(cfg Config) (Transcoder, error) {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	return newTranscoder(cfg)
}

// targetHeight computes the scaled height as trunc(h * tw / w). The
// conversion truncates toward zero rather than rounding; derivative
// dimensions are part of the produced contract, so keep it exact.
func targetHeight(width, height, targetWidth int) int {
	h := int(float64(height) * float64(targetWidth) / float64(width))
	if h < 1 {
		h = 1
	}
	return h
}
