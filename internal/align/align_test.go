package align

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"eyeline/internal/landmark"
)

func rec(w, h int, lx, ly, rx, ry, eye float64) landmark.Record {
	return landmark.Record{
		Width:    w,
		Height:   h,
		LeftEye:  landmark.Point{X: lx, Y: ly},
		RightEye: landmark.Point{X: rx, Y: ry},
		EyeWidth: eye,
	}
}

func TestComputeTransformsScenario(t *testing.T) {
	records := []landmark.Record{
		rec(1000, 1333, 400, 500, 600, 500, 100),
		rec(1000, 1333, 380, 520, 620, 520, 150),
		rec(1000, 1333, 410, 490, 610, 490, 100),
	}

	ts, err := ComputeTransforms(records, 640)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(ts) != 3 {
		t.Fatalf("expected 3 transforms, got %d", len(ts))
	}

	// 1333 / 1.5625 = 853.12 -> 853 -> 852
	for i, tr := range ts {
		if tr.TargetWidth != 640 || tr.TargetHeight != 852 {
			t.Fatalf("frame %d: unexpected target %dx%d", i, tr.TargetWidth, tr.TargetHeight)
		}
	}

	if ts[0].Scale != 1 || ts[0].OffsetX != 0 || ts[0].OffsetY != 0 {
		t.Fatalf("baseline frame must be identity, got %+v", ts[0])
	}

	if math.Abs(ts[1].Scale-2.0/3.0) > 1e-12 {
		t.Fatalf("expected closer face to shrink by 2/3, got %v", ts[1].Scale)
	}
	if ts[1].Scale >= 1 {
		t.Fatalf("wider eye width must shrink the frame, got scale %v", ts[1].Scale)
	}

	// base midpoint (500,500)/1.5625 = (320,320)
	// frame 1 midpoint (500,520)/1.5625*(2/3) = (213.33.., 221.86..)
	wantX := 320 - 500/1.5625*(100.0/150.0)
	wantY := 320 - 520/1.5625*(100.0/150.0)
	if math.Abs(ts[1].OffsetX-wantX) > 1e-9 || math.Abs(ts[1].OffsetY-wantY) > 1e-9 {
		t.Fatalf("unexpected offset for frame 1: %+v", ts[1])
	}

	// frame 2 has the baseline eye width, so only translation applies
	if ts[2].Scale != 1 || math.Abs(ts[2].OffsetX-(-6.4)) > 1e-9 || math.Abs(ts[2].OffsetY-6.4) > 1e-9 {
		t.Fatalf("unexpected frame 2 transform: %+v", ts[2])
	}
}

func TestComputeTransformsMapsEveryCenterOntoBaseline(t *testing.T) {
	records := []landmark.Record{
		rec(1200, 1600, 520, 700, 700, 710, 90),
		rec(900, 1200, 300, 400, 420, 405, 60),
		rec(1200, 1600, 610, 650, 800, 640, 130),
		rec(2000, 3000, 900, 1100, 1200, 1100, 140),
	}
	const width = 720
	ts, err := ComputeTransforms(records, width)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	compression := float64(records[0].Width) / width
	base := records[0].EyeMidpoint().Div(compression)
	for i, tr := range ts {
		mid := records[i].EyeMidpoint().Div(compression).Mul(tr.Scale)
		gotX, gotY := mid.X+tr.OffsetX, mid.Y+tr.OffsetY
		if math.Abs(gotX-base.X) > 1e-9 || math.Abs(gotY-base.Y) > 1e-9 {
			t.Fatalf("frame %d center lands at (%v,%v), want (%v,%v)", i, gotX, gotY, base.X, base.Y)
		}
		if tr.TargetHeight%2 != 0 {
			t.Fatalf("frame %d height %d is odd", i, tr.TargetHeight)
		}
	}
}

func TestComputeTransformsIsDeterministic(t *testing.T) {
	records := []landmark.Record{
		rec(1000, 1000, 401.3, 499.7, 602.9, 503.1, 101.7),
		rec(1000, 1000, 377.1, 520.2, 619.4, 518.8, 149.9),
	}
	input := append([]landmark.Record(nil), records...)

	first, err := ComputeTransforms(records, 640)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := ComputeTransforms(records, 640)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("transforms differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(input, records); diff != "" {
		t.Fatalf("input was mutated:\n%s", diff)
	}
}

func TestComputeTransformsBaselineIndex(t *testing.T) {
	records := []landmark.Record{
		rec(1000, 1000, 400, 500, 600, 500, 100),
		rec(800, 1000, 300, 400, 460, 400, 80),
	}
	ts, err := ComputeTransforms(records, 400, WithBaseline(1))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if ts[1].Scale != 1 || ts[1].OffsetX != 0 || ts[1].OffsetY != 0 {
		t.Fatalf("selected baseline must be identity, got %+v", ts[1])
	}
	if ts[0].Scale != 0.8 {
		t.Fatalf("expected scale 0.8 relative to baseline, got %v", ts[0].Scale)
	}

	if _, err := ComputeTransforms(records, 400, WithBaseline(2)); !errors.Is(err, ErrInvalidBaseline) {
		t.Fatalf("expected ErrInvalidBaseline, got %v", err)
	}
}

func TestComputeTransformsErrors(t *testing.T) {
	good := rec(1000, 1000, 400, 500, 600, 500, 100)
	cases := []struct {
		name    string
		records []landmark.Record
		width   int
		want    error
	}{
		{"empty", nil, 640, ErrEmptyInput},
		{"zero eye width", []landmark.Record{good, rec(1000, 1000, 1, 1, 1, 1, 0)}, 640, ErrDegenerateLandmark},
		{"zero target", []landmark.Record{good}, 0, ErrInvalidTargetSize},
		{"negative target", []landmark.Record{good}, -10, ErrInvalidTargetSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, err := ComputeTransforms(tc.records, tc.width)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if ts != nil {
				t.Fatalf("expected no partial results, got %d", len(ts))
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Transform{
		{Scale: 1, OffsetX: 0, OffsetY: 0},
		{Scale: 0.5, OffsetX: 10, OffsetY: -10},
	})
	if s.Frames != 2 || s.MeanScale != 0.75 || s.MinScale != 0.5 || s.MaxScale != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.MeanShiftX != 5 || s.MeanShiftY != -5 {
		t.Fatalf("unexpected mean shift: %+v", s)
	}
	if Summarize(nil) != (Summary{}) {
		t.Fatalf("expected zero summary for no transforms")
	}
}
