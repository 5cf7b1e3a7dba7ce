package align

import (
	"gonum.org/v1/gonum/stat"
)

// Summary describes how much correction a run needed.
type Summary struct {
	Frames      int     `json:"frames"`
	MeanScale   float64 `json:"mean_scale"`
	StdDevScale float64 `json:"stddev_scale"`
	MinScale    float64 `json:"min_scale"`
	MaxScale    float64 `json:"max_scale"`
	MeanShiftX  float64 `json:"mean_shift_x"`
	MeanShiftY  float64 `json:"mean_shift_y"`
	StdDevShift float64 `json:"stddev_shift"`
}

// Summarize reports scale and translation statistics over a set of transforms.
func Summarize(ts []Transform) Summary {
	if len(ts) == 0 {
		return Summary{}
	}
	scales := make([]float64, len(ts))
	xs := make([]float64, len(ts))
	ys := make([]float64, len(ts))
	shifts := make([]float64, 0, 2*len(ts))
	for i, t := range ts {
		scales[i] = t.Scale
		xs[i] = t.OffsetX
		ys[i] = t.OffsetY
		shifts = append(shifts, t.OffsetX, t.OffsetY)
	}

	s := Summary{
		Frames:     len(ts),
		MeanScale:  stat.Mean(scales, nil),
		MinScale:   scales[0],
		MaxScale:   scales[0],
		MeanShiftX: stat.Mean(xs, nil),
		MeanShiftY: stat.Mean(ys, nil),
	}
	if len(ts) > 1 {
		s.StdDevScale = stat.StdDev(scales, nil)
		s.StdDevShift = stat.StdDev(shifts, nil)
	}
	for _, v := range scales {
		if v < s.MinScale {
			s.MinScale = v
		}
		if v > s.MaxScale {
			s.MaxScale = v
		}
	}
	return s
}
