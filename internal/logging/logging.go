package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eyeline/internal/config"
)

// New returns a slog.Logger writing to stderr with the provided level string
// (info, debug, warn, error). format may be "json", "logfmt" or "text".
func New(level string, format string) *slog.Logger {
	return slog.New(newHandler(os.Stderr, parseLevel(level), format))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "logfmt":
		return slog.NewTextHandler(w, opts)
	default:
		return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
	}
}

// Setup configures global logging. Output always goes to stderr, so command
// output on stdout stays machine-readable; with file output enabled a daily
// log file is written as well.
func Setup(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{os.Stderr}
	var closer io.Closer = nopCloser{}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("eyeline-%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %v", err)
		}
		writers = append(writers, file)
		closer = file

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "eyeline-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	logger := slog.New(newHandler(io.MultiWriter(writers...), level, cfg.Logging.Format))
	slog.SetDefault(logger)

	logger.Debug("eyeline logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// TraditionalHandler implements slog.Handler with traditional log formatting:
// [LEVEL] message [k=v ...]
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []string
	group  string
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := append(make([]string, 0, len(h.attrs)+r.NumAttrs()), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.format(a))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) format(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value)
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.format(a))
	}
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a processing job
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath, outputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"output", outputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogToolStatus logs whether an external binary was found.
func LogToolStatus(logger *slog.Logger, tool string, available bool) {
	if available {
		logger.Debug("tool detected", "tool", tool)
	} else {
		logger.Warn("tool not available", "tool", tool)
	}
}

// LogProcessingStep logs individual processing steps within a job
func LogProcessingStep(logger *slog.Logger, jobID, step, status string, details map[string]any) {
	logger.Info("processing step",
		"job_id", jobID,
		"step", step,
		"status", status,
		"details", details,
	)
}
