package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultConfigPath = "~/.config/eyeline/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing      `json:"processing"`
	Logging    Logging         `json:"logging"`
	Paths      Paths           `json:"paths"`
	Alignment  AlignmentConfig `json:"alignment"`
	Encoder    EncoderConfig   `json:"encoder"`
	Detection  DetectionConfig `json:"detection"`
	Server     ServerConfig    `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	Workers      int    `json:"resample_workers"` // 0 = one per CPU
	TempDir      string `json:"temp_dir"`
	QueueSize    int    `json:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, logfmt, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	// DatabasePath is a SQLite file or a postgres:// URL.
	DatabasePath string `json:"database_path"`
}

// AlignmentConfig controls transform computation and resampling.
type AlignmentConfig struct {
	TargetWidth int    `json:"target_width"`
	Baseline    int    `json:"baseline"`
	Backend     string `json:"backend"` // "draw" or "imagick"
	Quality     int    `json:"quality"`
	MaxPixels   int    `json:"max_pixels"`
}

// EncoderConfig configures ffmpeg.
type EncoderConfig struct {
	FFmpegPath    string `json:"ffmpeg_path"`
	FFprobePath   string `json:"ffprobe_path"`
	FrameRate     int    `json:"frame_rate"`
	Codec         string `json:"codec"`
	PixelFormat   string `json:"pixel_format"`
	Preset        string `json:"preset"`
	CRF           int    `json:"crf"`
	DeliveryWidth int    `json:"delivery_width"`
	Verify        bool   `json:"verify"`
}

// DetectionConfig points at the landmark detection service.
type DetectionConfig struct {
	URL          string   `json:"url"`
	Transport    string   `json:"transport"` // "http" or "grpc"
	Timeout      Duration `json:"timeout"`
	PollInterval Duration `json:"poll_interval"`
	UseCache     bool     `json:"use_cache"`
}

// ServerConfig configures the HTTP API and the gRPC detection gateway.
type ServerConfig struct {
	Addr     string `json:"addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Duration is a time.Duration that reads "1s"-style strings from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is loaded first, and EYELINE_*
// environment variables override the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	configPath := os.Getenv("EYELINE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if err := loadFile(cfg, configPath); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", expanded, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EYELINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EYELINE_DATABASE"); v != "" {
		cfg.Paths.DatabasePath = v
	}
	if v := os.Getenv("EYELINE_DETECT_URL"); v != "" {
		cfg.Detection.URL = v
	}
	if v := os.Getenv("EYELINE_DETECT_TRANSPORT"); v != "" {
		cfg.Detection.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("EYELINE_FFMPEG"); v != "" {
		cfg.Encoder.FFmpegPath = v
	}
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	var errs []error
	if c.Alignment.TargetWidth <= 0 {
		errs = append(errs, fmt.Errorf("alignment.target_width must be positive, got %d", c.Alignment.TargetWidth))
	}
	if c.Encoder.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("encoder.frame_rate must be positive, got %d", c.Encoder.FrameRate))
	}
	switch c.Detection.Transport {
	case "http", "grpc":
	default:
		errs = append(errs, fmt.Errorf("detection.transport must be http or grpc, got %q", c.Detection.Transport))
	}
	switch c.Alignment.Backend {
	case "draw", "imagick":
	default:
		errs = append(errs, fmt.Errorf("alignment.backend must be draw or imagick, got %q", c.Alignment.Backend))
	}
	return errors.Join(errs...)
}

// DatabaseDSN expands ~ in a SQLite path; URLs pass through.
func (c *Config) DatabaseDSN() (string, error) {
	if strings.Contains(c.Paths.DatabasePath, "://") {
		return c.Paths.DatabasePath, nil
	}
	return expandUser(c.Paths.DatabasePath)
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
			QueueSize:    100,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./eyeline.mp4",
			DatabasePath:  "~/.local/share/eyeline/eyeline.db",
		},
		Alignment: AlignmentConfig{
			TargetWidth: 640,
			Backend:     "draw",
			Quality:     80,
			MaxPixels:   7680 * 4320,
		},
		Encoder: EncoderConfig{
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			FrameRate:     10,
			Codec:         "libx264",
			PixelFormat:   "yuv420p",
			DeliveryWidth: 720,
		},
		Detection: DetectionConfig{
			URL:          "http://localhost:5000",
			Transport:    "http",
			Timeout:      Duration{30 * time.Second},
			PollInterval: Duration{time.Second},
			UseCache:     true,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
