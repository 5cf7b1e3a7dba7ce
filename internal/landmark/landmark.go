package landmark

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRecord is returned when a record violates its size or eye width invariants.
var ErrInvalidRecord = errors.New("invalid landmark record")

// Point is a pixel coordinate in source image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Midpoint returns the point halfway between p and q.
func Midpoint(p, q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Div divides both coordinates by d.
func (p Point) Div(d float64) Point {
	return Point{X: p.X / d, Y: p.Y / d}
}

// Mul multiplies both coordinates by f.
func (p Point) Mul(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// UnmarshalJSON accepts both the detector's [x, y] pairs and {"x":..,"y":..} objects.
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("point: expected 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	type plain Point
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Point(v)
	return nil
}

// Record holds the eye landmarks detected on one source image.
type Record struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	LeftEye  Point   `json:"left_eye"`
	RightEye Point   `json:"right_eye"`
	EyeWidth float64 `json:"eye_width"`
}

// UnmarshalJSON fills in EyeWidth from the eye distance when the detector omits it.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Record(v)
	if r.EyeWidth == 0 {
		r.EyeWidth = r.EyeDistance()
	}
	return nil
}

// EyeMidpoint is the point halfway between the two eyes.
func (r Record) EyeMidpoint() Point {
	return Midpoint(r.LeftEye, r.RightEye)
}

// EyeDistance is the Euclidean distance between the eye centers.
func (r Record) EyeDistance() float64 {
	return math.Hypot(r.RightEye.X-r.LeftEye.X, r.RightEye.Y-r.LeftEye.Y)
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidRecord, r.Width, r.Height)
	}
	if !(r.EyeWidth > 0) || math.IsInf(r.EyeWidth, 0) {
		return fmt.Errorf("%w: eye width %v", ErrInvalidRecord, r.EyeWidth)
	}
	return nil
}

// Decode reads a JSON array of records.
func Decode(data []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	return recs, nil
}
