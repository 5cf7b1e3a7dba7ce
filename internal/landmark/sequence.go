package landmark

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when images and records cannot be paired 1:1.
var ErrLengthMismatch = errors.New("image and landmark counts differ")

// Image is one raw source photograph.
type Image struct {
	Name string
	Data []byte
}

// Sequence pairs source images with their landmark records. Every mutation
// acts on both halves so the pairing can never drift.
type Sequence struct {
	images  []Image
	records []Record
}

// NewSequence pairs images with records index by index.
func NewSequence(images []Image, records []Record) (*Sequence, error) {
	if len(images) != len(records) {
		return nil, fmt.Errorf("%w: %d images, %d records", ErrLengthMismatch, len(images), len(records))
	}
	s := &Sequence{
		images:  make([]Image, len(images)),
		records: make([]Record, len(records)),
	}
	copy(s.images, images)
	copy(s.records, records)
	return s, nil
}

// Len returns the number of pairs.
func (s *Sequence) Len() int { return len(s.images) }

// At returns the i-th pair.
func (s *Sequence) At(i int) (Image, Record) {
	return s.images[i], s.records[i]
}

// Images returns a copy of the image half.
func (s *Sequence) Images() []Image {
	out := make([]Image, len(s.images))
	copy(out, s.images)
	return out
}

// Records returns a copy of the record half.
func (s *Sequence) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Remove drops the i-th image and its record.
func (s *Sequence) Remove(i int) error {
	if i < 0 || i >= len(s.images) {
		return fmt.Errorf("remove: index %d out of range [0,%d)", i, len(s.images))
	}
	s.images = append(s.images[:i], s.images[i+1:]...)
	s.records = append(s.records[:i], s.records[i+1:]...)
	return nil
}

// Move relocates the pair at from to position to, shifting the pairs in between.
func (s *Sequence) Move(from, to int) error {
	n := len(s.images)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move: index out of range (%d -> %d, len %d)", from, to, n)
	}
	if from == to {
		return nil
	}
	img, rec := s.images[from], s.records[from]
	s.images = append(s.images[:from], s.images[from+1:]...)
	s.records = append(s.records[:from], s.records[from+1:]...)

	s.images = append(s.images[:to], append([]Image{img}, s.images[to:]...)...)
	s.records = append(s.records[:to], append([]Record{rec}, s.records[to:]...)...)
	return nil
}
