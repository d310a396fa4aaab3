//go:build govips && cgo

package transcode

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type vipsTranscoder struct {
	quality int
}

func newTranscoder(cfg Config) (Transcoder, error) {
	return vipsTranscoder{quality: cfg.Quality}, nil
}

// vipsRaster keeps the validated source buffer and runs the actual
// scale+export as one libvips pipeline at encode time. The buffer is
// never mutated, so Clone is a value copy.
type vipsRaster struct {
	source      []byte
	width       int
	height      int
	targetWidth int
}

func (r vipsRaster) Width() int    { return r.width }
func (r vipsRaster) Height() int   { return r.height }
func (r vipsRaster) Clone() Raster { return r }

func (t vipsTranscoder) Decode(data []byte) (Raster, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	defer img.Close()

	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, fmt.Errorf("%w: zero-dimension image", ErrUnsupportedImage)
	}

	return vipsRaster{source: data, width: img.Width(), height: img.Height()}, nil
}

func (t vipsTranscoder) Resize(r Raster, targetWidth int) (Raster, error) {
	src, ok := r.(vipsRaster)
	if !ok {
		return nil, fmt.Errorf("unexpected raster type %T", r)
	}

	if targetWidth <= 0 || targetWidth == src.width {
		return src, nil
	}

	out := src
	out.targetWidth = targetWidth
	out.height = targetHeight(src.width, src.height, targetWidth)
	out.width = targetWidth
	return out, nil
}

func (t vipsTranscoder) Encode(r Raster) ([]byte, error) {
	src, ok := r.(vipsRaster)
	if !ok {
		return nil, fmt.Errorf("unexpected raster type %T", r)
	}

	img, err := vips.NewImageFromBuffer(src.source)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if src.targetWidth > 0 && src.targetWidth != img.Width() {
		scale := float64(src.targetWidth) / float64(img.Width())
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("resize image: %w", err)
		}
	}

	params := vips.NewWebpExportParams()
	params.Quality = t.quality
	data, _, err := img.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return data, nil
}
