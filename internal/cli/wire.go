package cli

import (
	"fmt"
	"io"
	"log/slog"

	"eyeline/internal/config"
	"eyeline/internal/detect"
	"eyeline/internal/encode"
	"eyeline/internal/resample"
	"eyeline/internal/resample/magick"
	"eyeline/internal/stabilize"
	"eyeline/internal/storage"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewDetector connects to the detection service over the configured
// transport.
func NewDetector(cfg *config.Config) (detect.Client, io.Closer, error) {
	switch cfg.Detection.Transport {
	case "grpc":
		c, err := detect.DialGRPC(cfg.Detection.URL, cfg.Detection.Timeout.Duration)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "http", "":
		return detect.NewHTTPClient(cfg.Detection.URL, cfg.Detection.Timeout.Duration), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown detection transport %q", cfg.Detection.Transport)
	}
}

// NewResampler picks the frame backend.
func NewResampler(cfg *config.Config) (resample.Resampler, error) {
	switch cfg.Alignment.Backend {
	case "imagick":
		r := magick.New()
		if cfg.Alignment.Quality > 0 {
			r.Quality = uint(cfg.Alignment.Quality)
		}
		r.MaxPixels = cfg.Alignment.MaxPixels
		return r, nil
	case "draw", "":
		r := resample.NewDrawResampler()
		r.Quality = cfg.Alignment.Quality
		r.MaxPixels = cfg.Alignment.MaxPixels
		return r, nil
	default:
		return nil, fmt.Errorf("unknown resample backend %q", cfg.Alignment.Backend)
	}
}

// NewAssembler configures ffmpeg from the encoder section.
func NewAssembler(cfg *config.Config, log *slog.Logger) *encode.Assembler {
	a := encode.NewAssembler()
	a.FFmpeg = cfg.Encoder.FFmpegPath
	a.FFprobe = cfg.Encoder.FFprobePath
	a.DeliveryWidth = cfg.Encoder.DeliveryWidth
	a.Verify = cfg.Encoder.Verify
	a.TempDir = cfg.Processing.TempDir
	a.Logger = log
	b := encode.NewCommandBuilder(cfg.Encoder.Codec, cfg.Encoder.PixelFormat)
	b.Preset = cfg.Encoder.Preset
	b.CRF = cfg.Encoder.CRF
	a.Builder = b
	return a
}

// NewStabilizer assembles the processing stages. det may be nil.
func NewStabilizer(cfg *config.Config, log *slog.Logger, store *storage.Store, det detect.Client) (*stabilize.Stabilizer, error) {
	r, err := NewResampler(cfg)
	if err != nil {
		return nil, err
	}
	return &stabilize.Stabilizer{
		Detector:  det,
		Resampler: r,
		Assembler: NewAssembler(cfg, log),
		Store:     store,
		Logger:    log,
	}, nil
}

// StabilizeOptions maps configuration onto per-run defaults.
func StabilizeOptions(cfg *config.Config) stabilize.Options {
	return stabilize.Options{
		TargetWidth:  cfg.Alignment.TargetWidth,
		Baseline:     cfg.Alignment.Baseline,
		FrameRate:    cfg.Encoder.FrameRate,
		Workers:      cfg.Processing.Workers,
		PollInterval: cfg.Detection.PollInterval.Duration,
		UseCache:     cfg.Detection.UseCache,
	}
}
