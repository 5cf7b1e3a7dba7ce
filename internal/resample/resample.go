// Package resample renders source photographs onto the aligned output canvas.
package resample

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"eyeline/internal/align"
)

const (
	// DefaultQuality is the JPEG quality of every emitted frame.
	DefaultQuality = 80
	// DefaultMaxPixels bounds a single canvas (roughly an 8K frame).
	DefaultMaxPixels = 7680 * 4320
)

var (
	ErrSourceDecode = errors.New("source image could not be decoded")
	ErrBufferAlloc  = errors.New("output canvas could not be allocated")
)

// Frame is one encoded output frame.
type Frame struct {
	Index  int
	Width  int
	Height int
	Data   []byte
}

// FrameError ties a resample failure to the frame it belongs to.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Resampler draws one source image through a transform.
type Resampler interface {
	Resample(ctx context.Context, index int, src []byte, t align.Transform) (Frame, error)
}

// DrawResampler is the pure-Go Resampler.
type DrawResampler struct {
	Quality   int
	MaxPixels int
	// Interpolator defaults to Catmull-Rom.
	Interpolator draw.Interpolator
}

// NewDrawResampler returns a DrawResampler with default quality and budget.
func NewDrawResampler() *DrawResampler {
	return &DrawResampler{Quality: DefaultQuality, MaxPixels: DefaultMaxPixels}
}

func (r *DrawResampler) Resample(ctx context.Context, index int, src []byte, t align.Transform) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, &FrameError{Index: index, Err: err}
	}
	if err := CheckCanvas(t, r.maxPixels()); err != nil {
		return Frame{}, &FrameError{Index: index, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Frame{}, &FrameError{Index: index, Err: fmt.Errorf("%w: %v", ErrSourceDecode, err)}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, t.TargetWidth, t.TargetHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	dst := Placement(t)
	if !dst.Empty() {
		r.interpolator().Scale(canvas, dst, img, img.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: r.quality()}); err != nil {
		return Frame{}, &FrameError{Index: index, Err: fmt.Errorf("encode jpeg: %w", err)}
	}
	return Frame{Index: index, Width: t.TargetWidth, Height: t.TargetHeight, Data: buf.Bytes()}, nil
}

// Placement is the rectangle, in canvas coordinates, the scaled source
// occupies. It may extend past the canvas; drawing clips it.
func Placement(t align.Transform) image.Rectangle {
	x := int(math.Round(t.OffsetX))
	y := int(math.Round(t.OffsetY))
	w := int(math.Round(float64(t.TargetWidth) * t.Scale))
	h := int(math.Round(float64(t.TargetHeight) * t.Scale))
	return image.Rect(x, y, x+w, y+h)
}

// CheckCanvas reports ErrBufferAlloc when the transform's canvas is empty
// or larger than maxPixels. A maxPixels of zero disables the budget.
func CheckCanvas(t align.Transform, maxPixels int) error {
	if t.TargetWidth <= 0 || t.TargetHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBufferAlloc, t.TargetWidth, t.TargetHeight)
	}
	if maxPixels > 0 && t.TargetWidth*t.TargetHeight > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrBufferAlloc, t.TargetWidth, t.TargetHeight, maxPixels)
	}
	return nil
}

func (r *DrawResampler) quality() int {
	if r.Quality <= 0 || r.Quality > 100 {
		return DefaultQuality
	}
	return r.Quality
}

func (r *DrawResampler) maxPixels() int {
	return PixelBudget(r.MaxPixels)
}

// PixelBudget resolves a configured canvas limit: 0 selects
// DefaultMaxPixels and a negative value disables the check.
func PixelBudget(configured int) int {
	if configured < 0 {
		return 0
	}
	if configured == 0 {
		return DefaultMaxPixels
	}
	return configured
}

func (r *DrawResampler) interpolator() draw.Interpolator {
	if r.Interpolator == nil {
		return draw.CatmullRom
	}
	return r.Interpolator
}
