//go:build !govips || !cgo

package transcode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecodeRejectsNonImageBytes(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	for _, data := range [][]byte{
		[]byte("not an image at all"),
		{0x00, 0x01, 0x02},
		{},
	} {
		if _, err := tr.Decode(data); !errors.Is(err, ErrUnsupportedImage) {
			t.Fatalf("expected ErrUnsupportedImage for %q, got %v", data, err)
		}
	}
}

func TestDecodeAcceptsPNG(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	raster, err := tr.Decode(buildTestPNG(t, 240, 120))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if raster.Width() != 240 || raster.Height() != 120 {
		t.Fatalf("expected 240x120, got %dx%d", raster.Width(), raster.Height())
	}
}

func TestResizeTruncatesHeight(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	cases := []struct {
		name        string
		srcW, srcH  int
		targetWidth int
		wantH       int
	}{
		{"exact halving", 240, 120, 120, 60},
		{"truncates fraction", 333, 100, 100, 30},
		{"upscale", 100, 50, 150, 75},
		{"tall source", 120, 240, 60, 120},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raster, err := tr.Decode(buildTestPNG(t, tc.srcW, tc.srcH))
			if err != nil {
				t.Fatalf("decode source: %v", err)
			}

			resized, err := tr.Resize(raster, tc.targetWidth)
			if err != nil {
				t.Fatalf("resize: %v", err)
			}
			if resized.Width() != tc.targetWidth {
				t.Fatalf("expected width %d, got %d", tc.targetWidth, resized.Width())
			}
			if resized.Height() != tc.wantH {
				t.Fatalf("expected height %d, got %d", tc.wantH, resized.Height())
			}
		})
	}
}

func TestResizeZeroWidthIsPassThroughClone(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	raster, err := tr.Decode(buildTestPNG(t, 64, 48))
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}

	out, err := tr.Resize(raster, 0)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if out.Width() != 64 || out.Height() != 48 {
		t.Fatalf("expected pass-through 64x48, got %dx%d", out.Width(), out.Height())
	}
	if out.(stdRaster).img == raster.(stdRaster).img {
		t.Fatal("pass-through must clone, not alias the source raster")
	}
}

func TestEncodeProducesWebP(t *testing.T) {
	tr, err := New(Config{Quality: 75})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	raster, err := tr.Decode(buildTestPNG(t, 80, 40))
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}

	data, err := tr.Encode(raster)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty webp output")
	}

	// RIFF....WEBP container header.
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		t.Fatalf("expected webp container, got prefix %q", data[:12])
	}

	decoded, err := tr.Decode(data)
	if err != nil {
		t.Fatalf("decode encoded webp: %v", err)
	}
	if decoded.Width() != 80 || decoded.Height() != 40 {
		t.Fatalf("expected 80x40 round trip, got %dx%d", decoded.Width(), decoded.Height())
	}
}

func TestRasterCloneIsIndependent(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}

	raster, err := tr.Decode(buildTestPNG(t, 32, 32))
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}

	clone := raster.Clone()
	raster.(stdRaster).img.Set(0, 0, color.NRGBA{R: 255, A: 255})

	got := clone.(stdRaster).img.NRGBAAt(0, 0)
	if got.R == 255 && got.G == 0 {
		t.Fatal("clone observed a mutation of the source raster")
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
