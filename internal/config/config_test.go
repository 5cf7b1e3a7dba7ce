package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("EYELINE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alignment.TargetWidth != 640 || cfg.Encoder.FrameRate != 10 || cfg.Detection.PollInterval.Duration != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"alignment": {"target_width": 480, "backend": "draw"},
		"encoder": {"frame_rate": 24},
		"detection": {"url": "http://detector:5000", "transport": "http", "poll_interval": "250ms", "timeout": 5}
	}`)
	t.Setenv("EYELINE_CONFIG", path)
	t.Setenv("EYELINE_DETECT_TRANSPORT", "GRPC")
	t.Setenv("EYELINE_DATABASE", "postgres://eyeline@db/eyeline")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alignment.TargetWidth != 480 || cfg.Encoder.FrameRate != 24 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Encoder.Codec != "libx264" {
		t.Fatalf("unset fields should keep defaults, got codec %q", cfg.Encoder.Codec)
	}
	if cfg.Detection.PollInterval.Duration != 250*time.Millisecond || cfg.Detection.Timeout.Duration != 5*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg.Detection)
	}
	if cfg.Detection.Transport != "grpc" {
		t.Fatalf("env transport not applied: %q", cfg.Detection.Transport)
	}
	dsn, err := cfg.DatabaseDSN()
	if err != nil || dsn != "postgres://eyeline@db/eyeline" {
		t.Fatalf("unexpected dsn %q %v", dsn, err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("EYELINE_CONFIG", writeConfig(t, `{"alignment": {"target_width": 0}, "encoder": {"frame_rate": -1}}`))
	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"target_width", "frame_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandUser("~/x/y.db")
	if err != nil || got != filepath.Join(home, "x/y.db") {
		t.Fatalf("expandUser: %q %v", got, err)
	}
	if got, _ := expandUser("/abs"); got != "/abs" {
		t.Fatalf("absolute paths must pass through, got %q", got)
	}
}
