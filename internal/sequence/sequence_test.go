package sequence

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"eyeline/internal/resample"
)

func frame(i int) resample.Frame {
	return resample.Frame{Index: i, Width: 2, Height: 2, Data: []byte{byte(i + 1)}}
}

func TestFrameNameIsOneIndexed(t *testing.T) {
	if got := FrameName(0); got != "image1.jpg" {
		t.Fatalf("FrameName(0) = %q", got)
	}
	if got := FrameName(41); got != "image42.jpg" {
		t.Fatalf("FrameName(41) = %q", got)
	}
}

func TestFramesOrderedRegardlessOfArrival(t *testing.T) {
	s := New(16)
	var wg sync.WaitGroup
	for i := 15; i >= 0; i-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Add(frame(i)); err != nil {
				t.Errorf("add %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	frames, err := s.Frames()
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	for i, f := range frames {
		if f.Index != i {
			t.Fatalf("position %d holds frame %d", i, f.Index)
		}
	}
	if err := Validate(frames); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestFramesReportsMissingAndFailed(t *testing.T) {
	s := New(4)
	_ = s.Add(frame(0))
	_ = s.Add(frame(2))
	cause := errors.New("decode exploded")
	s.Fail(1, cause)

	frames, err := s.Frames()
	if frames != nil {
		t.Fatalf("expected no frames on incomplete sequence")
	}
	if !errors.Is(err, ErrIncompleteSequence) || !errors.Is(err, cause) {
		t.Fatalf("expected incomplete sequence joined with cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "[1,3]") {
		t.Fatalf("expected missing indices in message, got %q", err.Error())
	}
	if s.Done() != 3 {
		t.Fatalf("expected 3 settled indices, got %d", s.Done())
	}
}

func TestAddRejectsOutOfRangeAndDuplicates(t *testing.T) {
	s := New(2)
	if err := s.Add(frame(2)); err == nil {
		t.Fatalf("expected out of range error")
	}
	if err := s.Add(frame(1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(frame(1)); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestValidateDetectsGaps(t *testing.T) {
	cases := [][]resample.Frame{
		nil,
		{frame(0), frame(2)},
		{frame(1), frame(0)},
		{frame(0), {Index: 1}},
	}
	for _, frames := range cases {
		if err := Validate(frames); !errors.Is(err, ErrIncompleteSequence) {
			t.Fatalf("expected ErrIncompleteSequence for %v, got %v", frames, err)
		}
	}
}

func TestValidateCountDetectsMissingTail(t *testing.T) {
	prefix := []resample.Frame{frame(0), frame(1)}
	if err := Validate(prefix); err != nil {
		t.Fatalf("prefix is gap-free: %v", err)
	}
	err := ValidateCount(prefix, 4)
	if !errors.Is(err, ErrIncompleteSequence) || !strings.Contains(err.Error(), "[2,3]") {
		t.Fatalf("expected missing [2,3], got %v", err)
	}
	if err := ValidateCount(prefix, 2); err != nil {
		t.Fatalf("complete sequence: %v", err)
	}
}
