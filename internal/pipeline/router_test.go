package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eyeline/internal/landmark"
	"eyeline/internal/stabilize"
	"eyeline/internal/storage"
)

type stubStabilizer struct {
	lastOpts   stabilize.Options
	lastOutput string
	lastImages []landmark.Image
	err        error
}

func (s *stubStabilizer) Landmarks(ctx context.Context, images []landmark.Image, opts stabilize.Options) ([]landmark.Record, stabilize.Report, error) {
	s.lastImages, s.lastOpts = images, opts
	if s.err != nil {
		return nil, stabilize.Report{}, s.err
	}
	recs := make([]landmark.Record, len(images))
	for i := range recs {
		recs[i] = landmark.Record{Width: 100, Height: 100, LeftEye: landmark.Point{X: 40, Y: 50}, RightEye: landmark.Point{X: 60, Y: 50}, EyeWidth: 20}
	}
	return recs, stabilize.Report{Detected: len(images)}, nil
}

func (s *stubStabilizer) Run(ctx context.Context, images []landmark.Image, output string, opts stabilize.Options) (stabilize.Report, error) {
	s.lastImages, s.lastOutput, s.lastOpts = images, output, opts
	if s.err != nil {
		return stabilize.Report{}, s.err
	}
	return stabilize.Report{Frames: len(images), Output: output}, nil
}

func writeImages(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	return dir
}

func newTestRouter(stub *stubStabilizer) *router {
	return &router{
		log:      slog.Default(),
		stab:     stub,
		defaults: stabilize.Options{TargetWidth: 640, FrameRate: 10, UseCache: true},
		listFn:   func(dir string) ([]string, error) { return nil, errors.New("unused") },
	}
}

func TestRouterStabilizeAppliesJobOptions(t *testing.T) {
	stub := &stubStabilizer{}
	r := newTestRouter(stub)
	dir := writeImages(t, "day1.jpg", "day2.jpg")
	r.listFn = func(string) ([]string, error) {
		return []string{filepath.Join(dir, "day1.jpg"), filepath.Join(dir, "day2.jpg")}, nil
	}

	res := r.Process(context.Background(), Job{
		ID:        "s-1",
		Type:      JobStabilize,
		InputPath: dir,
		Options: map[string]any{
			"fps":      float64(24), // as decoded from JSON
			"baseline": 1,
			"noCache":  true,
		},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	want := stabilize.Options{JobID: "s-1", TargetWidth: 640, FrameRate: 24, Baseline: 1, UseCache: false}
	if stub.lastOpts != want {
		t.Fatalf("options = %+v, want %+v", stub.lastOpts, want)
	}
	if stub.lastOutput != filepath.Join(dir, "eyeline.mp4") {
		t.Fatalf("unexpected default output %q", stub.lastOutput)
	}
	if len(stub.lastImages) != 2 || stub.lastImages[0].Name != "day1.jpg" {
		t.Fatalf("unexpected images: %+v", stub.lastImages)
	}
	if res.Meta["frames"] != 2 {
		t.Fatalf("unexpected meta: %v", res.Meta)
	}
}

func TestRouterExplicitImageList(t *testing.T) {
	stub := &stubStabilizer{}
	r := newTestRouter(stub)
	dir := writeImages(t, "b.png", "a.png")

	res := r.Process(context.Background(), Job{
		ID:     "s-2",
		Type:   JobStabilize,
		Output: filepath.Join(dir, "out.mp4"),
		Options: map[string]any{
			"images": []any{filepath.Join(dir, "b.png"), filepath.Join(dir, "a.png")},
		},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if stub.lastImages[0].Name != "b.png" {
		t.Fatalf("explicit order not kept: %+v", stub.lastImages)
	}
}

func TestRouterDetectWritesLandmarks(t *testing.T) {
	stub := &stubStabilizer{}
	r := newTestRouter(stub)
	r.listFn = func(dir string) ([]string, error) { return []string{filepath.Join(dir, "day1.jpg")}, nil }
	dir := writeImages(t, "day1.jpg")

	res := r.Process(context.Background(), Job{ID: "d-1", Type: JobDetect, InputPath: dir})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	data, err := os.ReadFile(filepath.Join(dir, LandmarksFile))
	if err != nil {
		t.Fatalf("read landmarks: %v", err)
	}
	recs, err := landmark.Decode(data)
	if err != nil || len(recs) != 1 || recs[0].EyeWidth != 20 {
		t.Fatalf("unexpected landmarks %+v (%v)", recs, err)
	}
}

func TestRouterErrors(t *testing.T) {
	stub := &stubStabilizer{}
	r := newTestRouter(stub)

	if res := r.Process(context.Background(), Job{ID: "x", Type: "timelapse"}); res.Error == nil {
		t.Fatalf("expected unknown job type error")
	}
	if res := r.Process(context.Background(), Job{ID: "x", Type: JobStabilize}); res.Error == nil {
		t.Fatalf("expected error for missing input")
	}
	r.listFn = func(string) ([]string, error) { return nil, nil }
	if res := r.Process(context.Background(), Job{ID: "x", Type: JobDetect, InputPath: t.TempDir()}); res.Error == nil {
		t.Fatalf("expected error for empty directory")
	}
}

type fixedProcessor struct {
	err error
}

func (f fixedProcessor) Process(ctx context.Context, job Job) Result {
	return Result{Job: job, Error: f.err, Meta: map[string]any{"frames": 3}}
}

func TestPipelineRecordsAndBroadcasts(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "eyeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	p := New(context.Background(), 1, 4, slog.Default(), store, fixedProcessor{err: errors.New("boom")})
	defer p.Stop()
	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "job-1", Type: JobStabilize, InputPath: "/in"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-results:
		if res.Job.ID != "job-1" || res.Error == nil {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result broadcast")
	}

	rec, err := store.Job("job-1")
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if rec.Status != "failed" || rec.Error != "boom" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPipelineSubmitAfterStop(t *testing.T) {
	p := New(context.Background(), 1, 1, nil, nil, fixedProcessor{})
	p.Stop()
	if err := p.Submit(Job{ID: "late", Type: JobDetect}); err == nil {
		t.Fatalf("expected error after stop")
	}
}
