// Package magick implements resample.Resampler on top of ImageMagick.
package magick

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"eyeline/internal/align"
	"eyeline/internal/resample"
)

var initOnce sync.Once

// Resampler scales and composites frames with MagickWand. The wand library
// is initialized on first use and stays loaded for the life of the process.
// MaxPixels follows resample.PixelBudget.
type Resampler struct {
	Quality   uint
	MaxPixels int
}

// New returns a Resampler emitting JPEG at the default frame quality.
func New() *Resampler {
	initOnce.Do(imagick.Initialize)
	return &Resampler{Quality: resample.DefaultQuality, MaxPixels: resample.DefaultMaxPixels}
}

func (r *Resampler) Resample(ctx context.Context, index int, src []byte, t align.Transform) (resample.Frame, error) {
	if err := ctx.Err(); err != nil {
		return resample.Frame{}, &resample.FrameError{Index: index, Err: err}
	}
	if err := resample.CheckCanvas(t, resample.PixelBudget(r.MaxPixels)); err != nil {
		return resample.Frame{}, &resample.FrameError{Index: index, Err: err}
	}
	data, err := r.render(src, t)
	if err != nil {
		return resample.Frame{}, &resample.FrameError{Index: index, Err: err}
	}
	return resample.Frame{Index: index, Width: t.TargetWidth, Height: t.TargetHeight, Data: data}, nil
}

func (r *Resampler) render(src []byte, t align.Transform) ([]byte, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImageBlob(src); err != nil {
		return nil, fmt.Errorf("%w: %v", resample.ErrSourceDecode, err)
	}

	canvas := imagick.NewMagickWand()
	defer canvas.Destroy()
	bg := imagick.NewPixelWand()
	defer bg.Destroy()
	bg.SetColor("black")
	if err := canvas.NewImage(uint(t.TargetWidth), uint(t.TargetHeight), bg); err != nil {
		return nil, fmt.Errorf("%w: %v", resample.ErrBufferAlloc, err)
	}

	dst := resample.Placement(t)
	if !dst.Empty() {
		if err := mw.ResizeImage(uint(dst.Dx()), uint(dst.Dy()), imagick.FILTER_LANCZOS); err != nil {
			return nil, fmt.Errorf("resize: %w", err)
		}
		if err := canvas.CompositeImage(mw, imagick.COMPOSITE_OP_OVER, true, dst.Min.X, dst.Min.Y); err != nil {
			return nil, fmt.Errorf("composite: %w", err)
		}
	}

	if err := canvas.SetImageFormat("JPEG"); err != nil {
		return nil, fmt.Errorf("set format: %w", err)
	}
	if err := canvas.SetImageCompressionQuality(r.quality()); err != nil {
		return nil, fmt.Errorf("set quality: %w", err)
	}

	data, err := canvas.GetImageBlob()
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func (r *Resampler) quality() uint {
	if r.Quality == 0 || r.Quality > 100 {
		return resample.DefaultQuality
	}
	return r.Quality
}
