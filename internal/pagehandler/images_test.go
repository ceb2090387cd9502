package pagehandler

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Berry7028/browserbee/internal/wire"
)

func testJPEG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestResizeImageScalesDown(t *testing.T) {
	src := testJPEG(t, 400, 200)
	got, err := ResizeImage(wire.ResizeImageParams{Base64: src, TargetWidth: 100, Quality: 40})
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}
	if got.Width != 100 || got.Height != 50 {
		t.Fatalf("ResizeImage() = %dx%d; want 100x50", got.Width, got.Height)
	}
	raw, err := base64.StdEncoding.DecodeString(got.Base64)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("encoded size = %dx%d; want 100x50", cfg.Width, cfg.Height)
	}
}

func TestResizeImageNeverUpscales(t *testing.T) {
	src := testJPEG(t, 80, 40)
	got, err := ResizeImage(wire.ResizeImageParams{Base64: src, TargetWidth: 800, Quality: 40})
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}
	if got.Base64 != src {
		t.Fatalf("ResizeImage() re-encoded an image narrower than the target")
	}
	if got.Width != 80 || got.Height != 40 {
		t.Fatalf("ResizeImage() = %dx%d; want 80x40", got.Width, got.Height)
	}
}

func TestRecompressImageLowersSize(t *testing.T) {
	src := testJPEG(t, 300, 300)
	hi, err := RecompressImage(wire.RecompressImageParams{Base64: src, Width: 300, Height: 300, Quality: 95})
	if err != nil {
		t.Fatalf("RecompressImage(95) error = %v", err)
	}
	lo, err := RecompressImage(wire.RecompressImageParams{Base64: src, Width: 300, Height: 300, Quality: 10})
	if err != nil {
		t.Fatalf("RecompressImage(10) error = %v", err)
	}
	if len(lo.Base64) >= len(hi.Base64) {
		t.Fatalf("quality 10 size %d >= quality 95 size %d", len(lo.Base64), len(hi.Base64))
	}
}

func TestImageOpsRejectBadInput(t *testing.T) {
	if _, err := ResizeImage(wire.ResizeImageParams{Base64: "not-base64!", TargetWidth: 10}); err == nil {
		t.Fatalf("ResizeImage(bad) error = nil")
	}
	if _, err := RecompressImage(wire.RecompressImageParams{Base64: testJPEG(t, 4, 4), Width: 0, Height: 4}); err == nil {
		t.Fatalf("RecompressImage(width 0) error = nil")
	}
}
