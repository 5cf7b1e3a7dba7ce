// Package stabilize runs a whole eye-alignment job: landmarks, transforms,
// resampled frames and the encoded video.
package stabilize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"eyeline/internal/align"
	"eyeline/internal/detect"
	"eyeline/internal/encode"
	"eyeline/internal/landmark"
	"eyeline/internal/logging"
	"eyeline/internal/resample"
	"eyeline/internal/sequence"
	"eyeline/internal/storage"
	"eyeline/internal/tracker"
)

// ErrNoDetector is returned when images lack cached landmarks and no
// detection client is configured.
var ErrNoDetector = errors.New("landmarks missing and no detection client configured")

// Stage names reported through Event.
const (
	StageDetect   = "detect"
	StageResample = "resample"
	StageEncode   = "encode"
)

// Event reports progress of one stage. For StageDetect, Done is the remote
// progress percentage and Total is 100.
type Event struct {
	Stage string
	Done  int
	Total int
}

// Options tunes a run.
type Options struct {
	// JobID tags step logs; empty for ad hoc runs.
	JobID        string
	TargetWidth  int
	Baseline     int
	FrameRate    int
	Workers      int
	PollInterval time.Duration
	UseCache     bool
}

// Report is what a finished run produced.
type Report struct {
	Frames     int           `json:"frames"`
	Cached     int           `json:"cached_landmarks"`
	Detected   int           `json:"detected_landmarks"`
	Output     string        `json:"output,omitempty"`
	Backup     string        `json:"backup,omitempty"`
	Bytes      int           `json:"bytes"`
	Alignment  align.Summary `json:"alignment"`
	EncoderLog string        `json:"-"`
}

// Meta flattens the report for job result storage.
func (r Report) Meta() map[string]any {
	return map[string]any{
		"frames":             r.Frames,
		"cached_landmarks":   r.Cached,
		"detected_landmarks": r.Detected,
		"output":             r.Output,
		"backup":             r.Backup,
		"bytes":              r.Bytes,
		"alignment":          r.Alignment,
	}
}

// Stabilizer wires the pipeline stages together. Detector and Store are
// optional; without a Store nothing is cached.
type Stabilizer struct {
	Detector  detect.Client
	Resampler resample.Resampler
	Assembler *encode.Assembler
	Store     *storage.Store
	Logger    *slog.Logger
	// OnProgress, if set, is called from worker goroutines.
	OnProgress func(Event)
}

// LoadImages reads paths in order.
func LoadImages(paths []string) ([]landmark.Image, error) {
	images := make([]landmark.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images = append(images, landmark.Image{Name: filepath.Base(p), Data: data})
	}
	return images, nil
}

// Landmarks returns one record per image, from the cache where possible and
// from the detection service for the rest. Fresh results are cached.
func (s *Stabilizer) Landmarks(ctx context.Context, images []landmark.Image, opts Options) ([]landmark.Record, Report, error) {
	var rep Report
	logger := s.logger()
	records := make([]landmark.Record, len(images))
	hashes := make([]string, len(images))
	var missing []int

	for i, img := range images {
		hashes[i] = storage.ImageHash(img.Data)
		if opts.UseCache && s.Store != nil {
			rec, err := s.Store.Landmark(hashes[i])
			if err == nil {
				records[i] = rec
				rep.Cached++
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Warn("landmark cache lookup failed", "image", img.Name, "error", err)
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		logger.Info("all landmarks cached", "images", len(images))
		s.step(opts, StageDetect, "skipped", map[string]any{"cached": rep.Cached})
		return records, rep, nil
	}
	if s.Detector == nil {
		return nil, rep, fmt.Errorf("%w: %d of %d images", ErrNoDetector, len(missing), len(images))
	}

	batch := make([]landmark.Image, len(missing))
	for j, i := range missing {
		batch[j] = images[i]
	}
	s.step(opts, StageDetect, "started", map[string]any{"images": len(batch)})
	detected, err := s.detect(ctx, batch, opts.PollInterval)
	if err != nil {
		s.step(opts, StageDetect, "failed", map[string]any{"error": err.Error()})
		return nil, rep, err
	}
	if len(detected) != len(batch) {
		return nil, rep, fmt.Errorf("%w: detection returned %d records for %d images", landmark.ErrLengthMismatch, len(detected), len(batch))
	}

	for j, i := range missing {
		records[i] = detected[j]
		if err := detected[j].Validate(); err != nil {
			// Still returned; alignment reports it with the frame index.
			logger.Warn("detected landmark is unusable", "image", images[i].Name, "error", err)
			continue
		}
		if s.Store != nil {
			if err := s.Store.PutLandmark(hashes[i], images[i].Name, detected[j]); err != nil {
				logger.Warn("failed to cache landmark", "image", images[i].Name, "error", err)
			}
		}
	}
	rep.Detected = len(batch)
	s.step(opts, StageDetect, "completed", map[string]any{"cached": rep.Cached, "detected": rep.Detected})
	return records, rep, nil
}

func (s *Stabilizer) detect(ctx context.Context, images []landmark.Image, interval time.Duration) ([]landmark.Record, error) {
	logger := s.logger()
	jobID, err := s.Detector.Submit(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("submit images: %w", err)
	}
	logger.Info("detection job submitted", "job_id", jobID, "images", len(images))

	t := tracker.New(s.Detector, logger)
	defer t.Close()
	job, err := tracker.Wait(t.Track(ctx, jobID, interval), func(u tracker.Update) {
		s.report(Event{Stage: StageDetect, Done: u.Progress, Total: 100})
	})
	if err != nil {
		return nil, fmt.Errorf("detection job %s: %w", jobID, err)
	}
	return job.Result, nil
}

// Run detects landmarks as needed, then aligns, resamples and encodes the
// images. The video is written to output only after a successful encode.
func (s *Stabilizer) Run(ctx context.Context, images []landmark.Image, output string, opts Options) (Report, error) {
	records, rep, err := s.Landmarks(ctx, images, opts)
	if err != nil {
		return rep, err
	}
	seq, err := landmark.NewSequence(images, records)
	if err != nil {
		return rep, err
	}
	res, err := s.Render(ctx, seq, output, opts)
	res.Cached, res.Detected = rep.Cached, rep.Detected
	return res, err
}

// Render aligns and encodes a sequence whose landmarks are already known.
func (s *Stabilizer) Render(ctx context.Context, seq *landmark.Sequence, output string, opts Options) (Report, error) {
	logger := s.logger()
	var rep Report

	transforms, err := align.ComputeTransforms(seq.Records(), opts.TargetWidth, align.WithBaseline(opts.Baseline))
	if err != nil {
		return rep, fmt.Errorf("align: %w", err)
	}
	rep.Alignment = align.Summarize(transforms)
	logger.Info("transforms computed",
		"frames", len(transforms),
		"mean_scale", rep.Alignment.MeanScale,
		"stddev_shift", rep.Alignment.StdDevShift,
	)

	images := seq.Images()
	sources := make([][]byte, len(images))
	for i, img := range images {
		sources[i] = img.Data
	}

	s.step(opts, StageResample, "started", map[string]any{"frames": len(sources)})
	sink := &progressSink{Sequencer: sequence.New(len(sources)), total: len(sources), report: s.report}
	if err := resample.Batch(ctx, s.resampler(), sources, transforms, opts.Workers, sink); err != nil {
		s.step(opts, StageResample, "failed", map[string]any{"error": err.Error()})
		return rep, err
	}
	frames, err := sink.Frames()
	if err != nil {
		s.step(opts, StageResample, "failed", map[string]any{"error": err.Error()})
		return rep, fmt.Errorf("resample: %w", err)
	}
	s.step(opts, StageResample, "completed", map[string]any{"frames": len(frames)})

	s.report(Event{Stage: StageEncode, Done: 0, Total: 1})
	s.step(opts, StageEncode, "started", map[string]any{"frames": len(frames), "frame_rate": opts.FrameRate})
	art, err := s.assembler().AssembleCount(ctx, frames, seq.Len(), opts.FrameRate)
	if err != nil {
		s.step(opts, StageEncode, "failed", map[string]any{"error": err.Error()})
		return rep, err
	}
	s.report(Event{Stage: StageEncode, Done: 1, Total: 1})
	s.step(opts, StageEncode, "completed", map[string]any{"frames": art.FrameCount, "bytes": len(art.Data)})
	rep.Frames = art.FrameCount
	rep.Bytes = len(art.Data)
	rep.EncoderLog = art.Log

	if output != "" {
		backup, err := encode.WriteArtifact(output, art)
		if err != nil {
			return rep, fmt.Errorf("write output: %w", err)
		}
		rep.Output, rep.Backup = output, backup
		if backup != "" {
			logger.Info("backed up existing output", "path", backup)
		}
	}
	return rep, nil
}

func (s *Stabilizer) step(opts Options, stage, status string, details map[string]any) {
	logging.LogProcessingStep(s.logger(), opts.JobID, stage, status, details)
}

func (s *Stabilizer) report(e Event) {
	if s.OnProgress != nil {
		s.OnProgress(e)
	}
}

func (s *Stabilizer) resampler() resample.Resampler {
	if s.Resampler == nil {
		return resample.NewDrawResampler()
	}
	return s.Resampler
}

func (s *Stabilizer) assembler() *encode.Assembler {
	if s.Assembler == nil {
		return encode.NewAssembler()
	}
	return s.Assembler
}

func (s *Stabilizer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// progressSink counts resample outcomes on their way into the sequencer.
type progressSink struct {
	*sequence.Sequencer
	done   atomic.Int64
	total  int
	report func(Event)
}

func (p *progressSink) Add(f resample.Frame) error {
	if err := p.Sequencer.Add(f); err != nil {
		return err
	}
	p.tick()
	return nil
}

func (p *progressSink) Fail(index int, err error) {
	p.Sequencer.Fail(index, err)
	p.tick()
}

func (p *progressSink) tick() {
	p.report(Event{Stage: StageResample, Done: int(p.done.Add(1)), Total: p.total})
}
