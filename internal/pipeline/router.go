package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"eyeline/internal/fsutil"
	"eyeline/internal/landmark"
	"eyeline/internal/stabilize"
)

// LandmarksFile is the detect job's default output name inside the input
// directory.
const LandmarksFile = "landmarks.json"

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	stab     stabilizer
	defaults stabilize.Options
	listFn   func(dir string) ([]string, error)
}

type stabilizer interface {
	Landmarks(ctx context.Context, images []landmark.Image, opts stabilize.Options) ([]landmark.Record, stabilize.Report, error)
	Run(ctx context.Context, images []landmark.Image, output string, opts stabilize.Options) (stabilize.Report, error)
}

// NewRouter returns the Processor for stabilize and detect jobs. defaults
// apply wherever a job's options leave a setting out.
func NewRouter(logger *slog.Logger, stab *stabilize.Stabilizer, defaults stabilize.Options) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		log:      logger,
		stab:     stab,
		defaults: defaults,
		listFn:   fsutil.ListImages,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStabilize:
		return r.handleStabilize(ctx, job)
	case JobDetect:
		return r.handleDetect(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStabilize(ctx context.Context, job Job) Result {
	images, err := r.loadImages(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	output := job.Output
	if output == "" {
		output = filepath.Join(job.InputPath, "eyeline.mp4")
	}
	rep, err := r.stab.Run(ctx, images, output, r.options(job))
	return Result{Job: job, Error: err, Meta: rep.Meta()}
}

func (r *router) handleDetect(ctx context.Context, job Job) Result {
	images, err := r.loadImages(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	records, rep, err := r.stab.Landmarks(ctx, images, r.options(job))
	meta := map[string]any{
		"images":             len(images),
		"cached_landmarks":   rep.Cached,
		"detected_landmarks": rep.Detected,
	}
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}

	output := job.Output
	if output == "" {
		output = filepath.Join(job.InputPath, LandmarksFile)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("marshal landmarks: %w", err), Meta: meta}
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return Result{Job: job, Error: fmt.Errorf("write landmarks: %w", err), Meta: meta}
	}
	meta["output"] = output
	return Result{Job: job, Meta: meta}
}

func (r *router) loadImages(job Job) ([]landmark.Image, error) {
	paths := getStringsOption(job.Options, "images")
	if len(paths) == 0 {
		if job.InputPath == "" {
			return nil, errors.New("job has no input directory")
		}
		files, err := r.listFn(job.InputPath)
		if err != nil {
			return nil, fmt.Errorf("list images: %w", err)
		}
		paths = files
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", job.InputPath)
	}
	r.log.Debug("loading images", "job_id", job.ID, "count", len(paths))
	return stabilize.LoadImages(paths)
}

func (r *router) options(job Job) stabilize.Options {
	opts := r.defaults
	opts.JobID = job.ID
	if v, ok := getIntOption(job.Options, "fps"); ok {
		opts.FrameRate = v
	}
	if v, ok := getIntOption(job.Options, "baseline"); ok {
		opts.Baseline = v
	}
	if v, ok := getIntOption(job.Options, "width"); ok {
		opts.TargetWidth = v
	}
	if getBoolOption(job.Options, "noCache") {
		opts.UseCache = false
	}
	return opts
}

// Helper functions to safely extract typed options from job.Options map.
// Values decoded from JSON arrive as float64 and []any.
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getIntOption(options map[string]any, key string) (int, bool) {
	switch val := options[key].(type) {
	case int:
		return val, true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

func getStringsOption(options map[string]any, key string) []string {
	switch val := options[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
