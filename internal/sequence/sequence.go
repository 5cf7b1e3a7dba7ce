// Package sequence collects resampled frames and hands them to the encoder
// as one complete, ordered run.
package sequence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"eyeline/internal/resample"
)

// Pattern is the encoder input pattern matching FrameName.
const Pattern = "image%d.jpg"

// ErrIncompleteSequence means at least one index has no frame.
var ErrIncompleteSequence = errors.New("incomplete frame sequence")

// FrameName is the on-disk name of frame index i. Names are 1-indexed.
func FrameName(i int) string {
	return fmt.Sprintf(Pattern, i+1)
}

// Sequencer gathers frames that may arrive out of order from concurrent
// resamplers.
type Sequencer struct {
	mu     sync.Mutex
	n      int
	frames map[int]resample.Frame
	failed map[int]error
}

// New expects frames for indices 0..n-1.
func New(n int) *Sequencer {
	return &Sequencer{
		n:      n,
		frames: make(map[int]resample.Frame, n),
		failed: make(map[int]error),
	}
}

// Len is the expected number of frames.
func (s *Sequencer) Len() int { return s.n }

// Add records a finished frame. A frame outside 0..n-1 or a second frame for
// the same index is rejected.
func (s *Sequencer) Add(f resample.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Index < 0 || f.Index >= s.n {
		return fmt.Errorf("frame index %d out of range [0,%d)", f.Index, s.n)
	}
	if _, ok := s.frames[f.Index]; ok {
		return fmt.Errorf("duplicate frame %d", f.Index)
	}
	s.frames[f.Index] = f
	delete(s.failed, f.Index)
	return nil
}

// Fail records why index could not be produced.
func (s *Sequencer) Fail(index int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[index]; ok {
		return
	}
	s.failed[index] = err
}

// Done counts indices that have a frame or a failure.
func (s *Sequencer) Done() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) + len(s.failed)
}

// Frames returns all n frames in index order, or ErrIncompleteSequence
// joined with every recorded per-frame failure.
func (s *Sequencer) Frames() ([]resample.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []int
	out := make([]resample.Frame, 0, s.n)
	for i := 0; i < s.n; i++ {
		f, ok := s.frames[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		out = append(out, f)
	}
	if len(missing) == 0 {
		return out, nil
	}

	errs := []error{fmt.Errorf("%w: missing %s", ErrIncompleteSequence, formatIndices(missing))}
	for _, i := range missing {
		if err, ok := s.failed[i]; ok {
			errs = append(errs, err)
		}
	}
	return nil, errors.Join(errs...)
}

// Validate checks that frames are exactly indices 0..len-1 in order. It
// cannot see frames missing from the end; use ValidateCount for that.
func Validate(frames []resample.Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrIncompleteSequence)
	}
	var bad []int
	for i, f := range frames {
		if f.Index != i || len(f.Data) == 0 {
			bad = append(bad, i)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: gap or empty frame at %s", ErrIncompleteSequence, formatIndices(bad))
	}
	return nil
}

func formatIndices(idx []int) string {
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ValidateCount is Validate for a sequence known to hold n frames.
func ValidateCount(frames []resample.Frame, n int) error {
	if len(frames) < n {
		missing := make([]int, 0, n-len(frames))
		for i := len(frames); i < n; i++ {
			missing = append(missing, i)
		}
		return fmt.Errorf("%w: missing %s", ErrIncompleteSequence, formatIndices(missing))
	}
	if len(frames) > n {
		return fmt.Errorf("%w: %d frames for a sequence of %d", ErrIncompleteSequence, len(frames), n)
	}
	return Validate(frames)
}
