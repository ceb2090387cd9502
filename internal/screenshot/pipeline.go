// Package screenshot captures tab images small enough to hand to a model
// and keeps them on disk for later retrieval.
package screenshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/wire"
)

const (
	DefaultMaxChars      = 500000
	DefaultQuality       = 40
	DefaultQualityStep   = 5
	DefaultQualityFloor  = 10
	DefaultViewportWidth = 800
	DefaultFullPageWidth = 1000
)

// Source is the part of a bridge the pipeline drives.
type Source interface {
	CaptureScreenshot(ctx context.Context, opts bridge.ScreenshotOptions) (bridge.ScreenshotResult, error)
	ResizeImage(ctx context.Context, p wire.ResizeImageParams) (wire.ImageResult, error)
	RecompressImage(ctx context.Context, p wire.RecompressImageParams) (wire.ImageResult, error)
}

// Options tunes a Pipeline. Zero values select the defaults.
type Options struct {
	// MaxChars is the ceiling on the base64 payload length.
	MaxChars      int
	Quality       int
	QualityStep   int
	QualityFloor  int
	ViewportWidth int
	FullPageWidth int
}

// Shot is a capture that fits under the ceiling.
type Shot struct {
	Base64         string
	Format         string
	Width          int
	Height         int
	Quality        int
	FullPage       bool
	Resized        bool
	Recompressions int
}

// Pipeline captures a screenshot and shrinks it until it fits.
type Pipeline struct {
	opts Options
}

// New returns a pipeline with opts applied over the defaults.
func New(opts Options) *Pipeline {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}
	if opts.QualityStep <= 0 {
		opts.QualityStep = DefaultQualityStep
	}
	if opts.QualityFloor <= 0 {
		opts.QualityFloor = DefaultQualityFloor
	}
	if opts.QualityFloor > opts.Quality {
		opts.QualityFloor = opts.Quality
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.FullPageWidth <= 0 {
		opts.FullPageWidth = DefaultFullPageWidth
	}
	return &Pipeline{opts: opts}
}

// MaxChars returns the configured ceiling.
func (p *Pipeline) MaxChars() int { return p.opts.MaxChars }

// maxSteps bounds the recompression loop.
func (p *Pipeline) maxSteps() int {
	return (p.opts.Quality - p.opts.QualityFloor + p.opts.QualityStep - 1) / p.opts.QualityStep
}

// Capture takes a JPEG of src. Oversized captures are scaled down to the
// mode's target width and then re-encoded at decreasing quality. A capture
// still over the ceiling at the quality floor fails with CodeSizeExceeded.
func (p *Pipeline) Capture(ctx context.Context, src Source, fullPage bool) (Shot, error) {
	quality := p.opts.Quality
	raw, err := src.CaptureScreenshot(ctx, bridge.ScreenshotOptions{
		Format:   bridge.FormatJPEG,
		Quality:  quality,
		FullPage: fullPage,
	})
	if err != nil {
		return Shot{}, err
	}

	shot := Shot{
		Base64:   raw.Base64,
		Format:   bridge.FormatJPEG,
		Width:    raw.Width,
		Height:   raw.Height,
		Quality:  quality,
		FullPage: fullPage,
	}
	if len(shot.Base64) <= p.opts.MaxChars {
		return shot, nil
	}

	target := p.opts.ViewportWidth
	if fullPage {
		target = p.opts.FullPageWidth
	}
	resized, err := src.ResizeImage(ctx, wire.ResizeImageParams{
		Base64:      shot.Base64,
		TargetWidth: target,
		Quality:     quality,
	})
	if err != nil {
		return Shot{}, err
	}
	if resized.Width > 0 && resized.Height > 0 {
		shot.Resized = resized.Width != shot.Width || resized.Base64 != shot.Base64
		shot.Base64 = resized.Base64
		shot.Width = resized.Width
		shot.Height = resized.Height
	}

	for step := 0; step < p.maxSteps() && len(shot.Base64) > p.opts.MaxChars && quality > p.opts.QualityFloor; step++ {
		quality -= p.opts.QualityStep
		if quality < p.opts.QualityFloor {
			quality = p.opts.QualityFloor
		}
		out, err := src.RecompressImage(ctx, wire.RecompressImageParams{
			Base64:  shot.Base64,
			Width:   shot.Width,
			Height:  shot.Height,
			Quality: quality,
		})
		if err != nil {
			return Shot{}, err
		}
		shot.Base64 = out.Base64
		shot.Quality = quality
		shot.Recompressions++
	}

	if len(shot.Base64) > p.opts.MaxChars {
		slog.Warn("screenshot over ceiling at quality floor", "chars", len(shot.Base64), "max_chars", p.opts.MaxChars, "quality", quality)
		return Shot{}, bridge.NewError(bridge.CodeSizeExceeded,
			fmt.Sprintf("screenshot exceeds %d characters even at minimum quality.", p.opts.MaxChars), nil)
	}
	slog.Debug("screenshot shrunk", "chars", len(shot.Base64), "width", shot.Width, "quality", shot.Quality, "recompressions", shot.Recompressions)
	return shot, nil
}
