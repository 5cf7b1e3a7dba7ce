package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"eyeline/internal/config"
	"eyeline/internal/detect"
	"eyeline/internal/pipeline"
	"eyeline/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// serveFunc runs the API until ctx is done.
type serveFunc func(ctx context.Context, r *Root, addr, grpcAddr string) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	// gateway backs the gRPC detection gateway in serve; nil disables it.
	gateway  detect.Client
	progress *ProgressBars
	out      io.Writer
	serveFn  serveFunc
}

// NewRoot constructs the CLI root. gateway and progress may be nil.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store, gateway detect.Client, progress *ProgressBars) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		gateway:  gateway,
		progress: progress,
		out:      os.Stdout,
		serveFn:  defaultServe,
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	if r.progress != nil {
		defer r.progress.Finish()
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func (r *Root) runStabilize(ctx context.Context, input, output string, options map[string]any) error {
	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	if output == "" {
		output = r.cfg.Paths.DefaultOutput
	}
	job := pipeline.Job{
		ID:        newID("stabilize"),
		Type:      pipeline.JobStabilize,
		InputPath: abs,
		Output:    output,
		Options:   options,
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "wrote %s (%v frames)\n", output, res.Meta["frames"])
	if backup, _ := res.Meta["backup"].(string); backup != "" {
		fmt.Fprintf(r.out, "previous video kept at %s\n", backup)
	}
	return nil
}

func (r *Root) runDetect(ctx context.Context, input, output string, options map[string]any) error {
	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	job := pipeline.Job{
		ID:        newID("detect"),
		Type:      pipeline.JobDetect,
		InputPath: abs,
		Output:    output,
		Options:   options,
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "landmarks for %v images written to %v (%v cached, %v detected)\n",
		res.Meta["images"], res.Meta["output"], res.Meta["cached_landmarks"], res.Meta["detected_landmarks"])
	return nil
}

func (r *Root) listJobs(limit int, asJSON bool) error {
	if r.store == nil {
		return errors.New("job history unavailable: no database")
	}
	recs, err := r.store.RecentJobs(limit)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tINPUT")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.JobType, rec.Status, rec.CreatedAt.Local().Format(time.DateTime), rec.InputPath)
	}
	return tw.Flush()
}

func (r *Root) showJob(id string) error {
	if r.store == nil {
		return errors.New("job history unavailable: no database")
	}
	rec, err := r.store.Job(id)
	if err != nil {
		return err
	}
	out := struct {
		storage.JobRecord
		Meta map[string]any `json:"meta,omitempty"`
	}{JobRecord: rec}
	if meta, err := r.store.JobMeta(id); err == nil {
		out.Meta = meta
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
