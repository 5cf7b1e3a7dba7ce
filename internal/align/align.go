package align

import (
	"errors"
	"fmt"
	"math"

	"eyeline/internal/landmark"
)

var (
	ErrEmptyInput         = errors.New("no landmark records")
	ErrDegenerateLandmark = errors.New("degenerate landmark")
	ErrInvalidTargetSize  = errors.New("invalid target size")
	ErrInvalidBaseline    = errors.New("baseline index out of range")
)

// Transform maps one source frame onto the shared output canvas. The source
// is drawn at (TargetWidth*Scale, TargetHeight*Scale) with its top-left
// corner at (OffsetX, OffsetY).
type Transform struct {
	Scale        float64 `json:"scale"`
	OffsetX      float64 `json:"offset_x"`
	OffsetY      float64 `json:"offset_y"`
	TargetWidth  int     `json:"target_width"`
	TargetHeight int     `json:"target_height"`
}

type options struct {
	baseline int
}

// Option tunes ComputeTransforms.
type Option func(*options)

// WithBaseline selects the frame every other frame is aligned to.
func WithBaseline(index int) Option {
	return func(o *options) { o.baseline = index }
}

// ComputeTransforms derives one Transform per record so that every frame's
// eye midpoint lands on the baseline frame's eye midpoint and every frame's
// eye width matches the baseline's. The compression factor comes from the
// baseline width alone, so all frames share one output scale reference.
func ComputeTransforms(records []landmark.Record, targetWidth int, opts ...Option) ([]Transform, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(records) == 0 {
		return nil, ErrEmptyInput
	}
	if targetWidth <= 0 {
		return nil, fmt.Errorf("%w: width %d", ErrInvalidTargetSize, targetWidth)
	}
	if o.baseline < 0 || o.baseline >= len(records) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidBaseline, o.baseline, len(records))
	}
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrDegenerateLandmark, i, err)
		}
	}

	baseline := records[o.baseline]
	compression := float64(baseline.Width) / float64(targetWidth)
	baseMid := baseline.EyeMidpoint().Div(compression)

	out := make([]Transform, len(records))
	for i, rec := range records {
		scale := baseline.EyeWidth / rec.EyeWidth
		center := rec.EyeMidpoint().Div(compression).Mul(scale)

		out[i] = Transform{
			Scale:        scale,
			OffsetX:      baseMid.X - center.X,
			OffsetY:      baseMid.Y - center.Y,
			TargetWidth:  targetWidth,
			TargetHeight: evenFloor(float64(rec.Height) / compression),
		}
	}
	return out, nil
}

// evenFloor floors v and clears the low bit; most codecs reject odd dimensions.
func evenFloor(v float64) int {
	n := int(math.Floor(v))
	return n &^ 1
}
