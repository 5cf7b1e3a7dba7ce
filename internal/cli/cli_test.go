package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"eyeline/internal/config"
	"eyeline/internal/pipeline"
	"eyeline/internal/stabilize"
	"eyeline/internal/storage"
)

type fakePipeline struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	subs []chan pipeline.Result
	meta map[string]any
	err  error
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	res := pipeline.Result{Job: job, Meta: f.meta, Error: f.err}
	for _, ch := range f.subs {
		ch <- res
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.Result, 4)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DefaultOutput = filepath.Join(t.TempDir(), "eyeline.mp4")
	fake := &fakePipeline{meta: map[string]any{"frames": 3}}
	root := NewRoot(fake, cfg, slog.Default(), nil, nil, nil)
	var out bytes.Buffer
	root.out = &out
	return root, fake, &out
}

func execute(t *testing.T, root *Root, args ...string) error {
	t.Helper()
	cmd := newRootCmd(root)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestStabilizeCommandQueuesJob(t *testing.T) {
	root, fake, out := newTestRoot(t)
	dir := t.TempDir()

	if err := execute(t, root, "stabilize", dir, "--fps", "24", "--baseline", "2", "--no-cache"); err != nil {
		t.Fatalf("stabilize: %v", err)
	}
	if len(fake.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fake.jobs))
	}
	job := fake.jobs[0]
	if job.Type != pipeline.JobStabilize || job.InputPath != dir || job.Output != root.cfg.Paths.DefaultOutput {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Options["fps"] != 24 || job.Options["baseline"] != 2 || job.Options["noCache"] != true {
		t.Fatalf("unexpected options: %v", job.Options)
	}
	if _, ok := job.Options["width"]; ok {
		t.Fatalf("unset width should not be sent: %v", job.Options)
	}
	if !strings.HasPrefix(job.ID, "stabilize-") {
		t.Fatalf("unexpected id %q", job.ID)
	}
	if !strings.Contains(out.String(), "3 frames") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestStabilizeCommandExplicitOutput(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "custom.mp4")
	if err := execute(t, root, "stabilize", dir, target); err != nil {
		t.Fatalf("stabilize: %v", err)
	}
	if fake.jobs[0].Output != target {
		t.Fatalf("expected output %s, got %s", target, fake.jobs[0].Output)
	}
	if _, ok := fake.jobs[0].Options["baseline"]; ok {
		t.Fatalf("default baseline should come from config")
	}
}

func TestJobFailureIsReturned(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	fake.err = errors.New("detection service unreachable")
	err := execute(t, root, "detect", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected job error, got %v", err)
	}
	if fake.jobs[0].Type != pipeline.JobDetect {
		t.Fatalf("expected detect job, got %s", fake.jobs[0].Type)
	}
}

func TestArgumentValidation(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	if err := execute(t, root, "stabilize"); err == nil {
		t.Fatalf("expected error for missing input")
	}
	if err := execute(t, root, "detect", "a", "b"); err == nil {
		t.Fatalf("expected error for extra args")
	}
	if len(fake.jobs) != 0 {
		t.Fatalf("no job should be queued")
	}
}

func TestJobsCommand(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := execute(t, root, "jobs"); err == nil {
		t.Fatalf("expected error without a store")
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "eyeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	root.store = store
	if err := store.RecordJobQueued(storage.JobRecord{ID: "job-a", JobType: "stabilize", Status: "queued", InputPath: "/selfies"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RecordJobResult("job-a", "completed", map[string]any{"frames": 7}, ""); err != nil {
		t.Fatalf("seed result: %v", err)
	}

	if err := execute(t, root, "jobs"); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out.String(), "job-a") || !strings.Contains(out.String(), "completed") {
		t.Fatalf("unexpected listing: %q", out.String())
	}

	out.Reset()
	if err := execute(t, root, "jobs", "job-a"); err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	if !strings.Contains(out.String(), `"frames": 7`) {
		t.Fatalf("expected meta in output: %q", out.String())
	}
}

func TestServeUsesFlags(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var gotAddr, gotGRPC string
	root.serveFn = func(ctx context.Context, r *Root, addr, grpcAddr string) error {
		gotAddr, gotGRPC = addr, grpcAddr
		return nil
	}
	if err := execute(t, root, "serve", "--grpc-addr", ":9090"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if gotAddr != ":8080" || gotGRPC != ":9090" {
		t.Fatalf("unexpected addresses %q %q", gotAddr, gotGRPC)
	}
}

func TestConfigAndVersion(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := execute(t, root, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), `"target_width": 640`) {
		t.Fatalf("config output missing target width: %q", out.String())
	}

	out.Reset()
	root.cfg.Encoder.FFmpegPath = "definitely-not-ffmpeg"
	if err := execute(t, root, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "definitely-not-ffmpeg: unavailable") {
		t.Fatalf("unexpected version output: %q", out.String())
	}

	root.cfg.Encoder.FrameRate = 0
	if err := execute(t, root, "config", "validate"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestProgressBarsStages(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBars(&buf)
	p.Handle(stabilize.Event{Stage: stabilize.StageResample, Done: 1, Total: 3})
	if p.stage != stabilize.StageResample {
		t.Fatalf("expected resample bar, got %q", p.stage)
	}
	p.Handle(stabilize.Event{Stage: stabilize.StageResample, Done: 3, Total: 3})
	if p.bar != nil {
		t.Fatalf("bar should finish at total")
	}
	p.Handle(stabilize.Event{Stage: stabilize.StageEncode, Done: 0, Total: 1})
	p.Finish()
	if p.bar != nil || buf.Len() == 0 {
		t.Fatalf("expected rendered and finished bars")
	}

	silent := NewProgressBars(nil)
	silent.Handle(stabilize.Event{Stage: stabilize.StageDetect, Done: 10, Total: 100})
	if silent.bar != nil {
		t.Fatalf("nil writer should not render")
	}
}

func TestStabilizeOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Alignment.Baseline = 4
	opts := StabilizeOptions(cfg)
	if opts.TargetWidth != 640 || opts.FrameRate != 10 || opts.Baseline != 4 || !opts.UseCache {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := NewResampler(cfg); err != nil {
		t.Fatalf("draw backend: %v", err)
	}
	cfg.Alignment.Backend = "opencv"
	if _, err := NewResampler(cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	cfg.Detection.Transport = "carrier-pigeon"
	if _, _, err := NewDetector(cfg); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}
