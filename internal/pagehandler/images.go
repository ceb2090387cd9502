package pagehandler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/Berry7028/browserbee/internal/wire"
)

func decodeBase64Image(data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("Failed to load image")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New("Failed to load image")
	}
	return img, nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// EncodeJPEG scales src into a width x height canvas and encodes it.
func EncodeJPEG(src image.Image, width, height, quality int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ResizeImage scales an image down to TargetWidth, keeping its aspect
// ratio. Images already at or below the target are returned unchanged.
func ResizeImage(p wire.ResizeImageParams) (wire.ImageResult, error) {
	img, err := decodeBase64Image(p.Base64)
	if err != nil {
		return wire.ImageResult{}, err
	}
	b := img.Bounds()
	if p.TargetWidth <= 0 || b.Dx() <= p.TargetWidth {
		return wire.ImageResult{Base64: p.Base64, Width: b.Dx(), Height: b.Dy()}, nil
	}

	scale := float64(p.TargetWidth) / float64(b.Dx())
	height := int(math.Round(float64(b.Dy()) * scale))
	if height < 1 {
		height = 1
	}
	out, err := EncodeJPEG(img, p.TargetWidth, height, p.Quality)
	if err != nil {
		return wire.ImageResult{}, err
	}
	return wire.ImageResult{
		Base64: base64.StdEncoding.EncodeToString(out),
		Width:  p.TargetWidth,
		Height: height,
	}, nil
}

// RecompressImage redraws an image at the given size and quality.
func RecompressImage(p wire.RecompressImageParams) (wire.ImageResult, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return wire.ImageResult{}, fmt.Errorf("invalid dimensions %dx%d", p.Width, p.Height)
	}
	img, err := decodeBase64Image(p.Base64)
	if err != nil {
		return wire.ImageResult{}, err
	}
	out, err := EncodeJPEG(img, p.Width, p.Height, p.Quality)
	if err != nil {
		return wire.ImageResult{}, err
	}
	return wire.ImageResult{
		Base64: base64.StdEncoding.EncodeToString(out),
		Width:  p.Width,
		Height: p.Height,
	}, nil
}
