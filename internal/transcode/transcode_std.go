//go:build !govips || !cgo

package transcode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type stdTranscoder struct {
	quality float32
}

func newTranscoder(cfg Config) (Transcoder, error) {
	return stdTranscoder{quality: float32(cfg.Quality)}, nil
}

type stdRaster struct {
	img *image.NRGBA
}

func (r stdRaster) Width() int  { return r.img.Bounds().Dx() }
func (r stdRaster) Height() int { return r.img.Bounds().Dy() }

func (r stdRaster) Clone() Raster {
	return stdRaster{img: imaging.Clone(r.img)}
}

func (t stdTranscoder) Decode(data []byte) (Raster, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-dimension image", ErrUnsupportedImage)
	}

	return stdRaster{img: imaging.Clone(img)}, nil
}

func (t stdTranscoder) Resize(r Raster, targetWidth int) (Raster, error) {
	src, ok := r.(stdRaster)
	if !ok {
		return nil, fmt.Errorf("unexpected raster type %T", r)
	}

	if targetWidth <= 0 || targetWidth == src.Width() {
		return src.Clone(), nil
	}

	height := targetHeight(src.Width(), src.Height(), targetWidth)
	resized := imaging.Resize(src.img, targetWidth, height, imaging.Lanczos)
	return stdRaster{img: resized}, nil
}

func (t stdTranscoder) Encode(r Raster) ([]byte, error) {
	src, ok := r.(stdRaster)
	if !ok {
		return nil, fmt.Errorf("unexpected raster type %T", r)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src.img, &webp.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
