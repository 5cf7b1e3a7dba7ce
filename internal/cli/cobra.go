package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"eyeline/internal/config"
	"eyeline/internal/detect"
	"eyeline/internal/fsutil"
	"eyeline/internal/pipeline"
	"eyeline/internal/server"
	"eyeline/internal/storage"
)

// Version is reported by the version command.
const Version = "0.3.0"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, gateway detect.Client, progress *ProgressBars) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store, gateway, progress))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eyeline",
		Short: "Eyeline turns a daily selfie folder into an eye-stabilized video",
		Long: `Eyeline detects eye landmarks in a folder of portraits, aligns every frame so
the eyes stay fixed, and encodes the result with ffmpeg.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newStabilizeCmd(root))
	rootCmd.AddCommand(newDetectCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// jobOptions collects the per-run flags shared by stabilize and watch.
type jobOptions struct {
	fps      int
	baseline int
	width    int
	noCache  bool
}

func (o *jobOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.fps, "fps", 0, "output frame rate (default from config)")
	cmd.Flags().IntVar(&o.baseline, "baseline", -1, "index of the frame every other frame is aligned to (default from config)")
	cmd.Flags().IntVar(&o.width, "width", 0, "frame width in pixels (default from config)")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "ignore cached landmarks and detect every image again")
}

func (o *jobOptions) toMap() map[string]any {
	opts := map[string]any{}
	if o.fps > 0 {
		opts["fps"] = o.fps
	}
	if o.baseline >= 0 {
		opts["baseline"] = o.baseline
	}
	if o.width > 0 {
		opts["width"] = o.width
	}
	if o.noCache {
		opts["noCache"] = true
	}
	return opts
}

func newStabilizeCmd(root *Root) *cobra.Command {
	var (
		output string
		opts   jobOptions
	)

	cmd := &cobra.Command{
		Use:   "stabilize <input_directory> [output_path]",
		Short: "Build an eye-stabilized video from a folder of selfies",
		Long: `Detect (or load cached) eye landmarks for every image in the folder, align all
frames to the baseline frame and encode them in file name order.

Examples:
  eyeline stabilize ~/selfies
  eyeline stabilize ~/selfies out.mp4 --fps 24 --baseline 10`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				output = args[1]
			}
			return root.runStabilize(cmd.Context(), args[0], output, opts.toMap())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output video path (default from config)")
	opts.register(cmd)
	return cmd
}

func newDetectCmd(root *Root) *cobra.Command {
	var (
		output  string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "detect <input_directory>",
		Short: "Detect eye landmarks and write them as JSON",
		Long: `Send every image without cached landmarks to the detection service and write the
full landmark list to a JSON file (default: <input_directory>/` + pipeline.LandmarksFile + `).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{}
			if noCache {
				opts["noCache"] = true
			}
			return root.runDetect(cmd.Context(), args[0], output, opts)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "landmarks JSON path")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore cached landmarks")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output   string
		debounce time.Duration
		initial  bool
		opts     jobOptions
	)

	cmd := &cobra.Command{
		Use:   "watch <input_directory>",
		Short: "Rebuild the video whenever a new selfie lands in the folder",
		Long: `Watch the folder and queue a stabilize job once new or changed images have been
quiet for the debounce period. Landmarks of unchanged images come from the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			results, unsubscribe := root.pipeline.Subscribe()
			defer unsubscribe()
			go root.logResults(ctx, results)

			queue := func() {
				job := pipeline.Job{
					ID:        newID("watch"),
					Type:      pipeline.JobStabilize,
					InputPath: dir,
					Output:    output,
					Options:   opts.toMap(),
				}
				if err := root.enqueue(ctx, job); err != nil {
					root.log.Warn("failed to queue stabilize job", "dir", dir, "error", err)
				}
			}
			if initial {
				queue()
			}

			w := fsutil.NewWatcher(dir, debounce, root.log)
			return w.Run(ctx, func(paths []string) {
				root.log.Info("new images detected", "count", len(paths), "first", filepath.Base(paths[0]))
				queue()
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output video path (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", 5*time.Second, "quiet period before rebuilding")
	cmd.Flags().BoolVar(&initial, "initial", false, "build once at startup before waiting for changes")
	opts.register(cmd)
	return cmd
}

func (r *Root) logResults(ctx context.Context, results <-chan pipeline.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if res.Error != nil {
				r.log.Error("rebuild failed", "job", res.Job.ID, "error", res.Error)
				continue
			}
			r.log.Info("video rebuilt", "job", res.Job.ID, "output", res.Meta["output"], "frames", res.Meta["frames"])
		}
	}
}

func newServeCmd(root *Root) *cobra.Command {
	var addr, grpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP job API and the gRPC detection gateway",
		Long: `Start an HTTP server for submitting and monitoring jobs. With --grpc-addr set,
also serve the detection service over gRPC in front of its REST API.

Examples:
  eyeline serve --addr :8080
  eyeline serve --addr :8080 --grpc-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", addr,
				"grpc_addr", grpcAddr,
				"endpoints", []string{"/healthz", "/jobs", "/jobs/{id}", "/stream", "/ws"},
			)
			return root.serveFn(cmd.Context(), root, addr, grpcAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "detection gateway address; empty disables it")
	return cmd
}

func defaultServe(ctx context.Context, r *Root, addr, grpcAddr string) error {
	pipe, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline unavailable for server startup")
	}

	g, ctx := errgroup.WithContext(ctx)
	srv := server.NewServer(addr, r.store, pipe, r.log)
	g.Go(func() error { return srv.Start(ctx) })

	if grpcAddr != "" {
		if r.gateway == nil {
			r.log.Warn("detection gateway disabled: no REST detection backend", "grpc_addr", grpcAddr)
		} else {
			gw := detect.NewGateway(r.gateway, r.log)
			g.Go(func() error { return gw.ListenAndServe(ctx, grpcAddr) })
		}
	}
	return g.Wait()
}

func newJobsCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "jobs [job_id]",
		Short: "List recent jobs or show one job with its result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return root.showJob(args[0])
			}
			return root.listJobs(limit, asJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate eyeline configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(root.out, "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information and tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
