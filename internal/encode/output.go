package encode

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BackupExisting renames an existing file to path.backup.<timestamp> and
// returns the backup path, or "" when there was nothing to move.
func BackupExisting(path string, now time.Time) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	backup := path + ".backup." + now.Format("20060102-150405")
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	return backup, nil
}

// WriteArtifact stores a finished video at path, backing up whatever was
// there first. The data lands in a sibling temp file and is renamed into
// place, so a failed write never leaves a partial video at path.
func WriteArtifact(path string, art Artifact) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".eyeline-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create temp output: %w", err)
	}
	if _, err := tmp.Write(art.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close output: %w", err)
	}

	backup, err := BackupExisting(path, time.Now())
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move output into place: %w", err)
	}
	return backup, nil
}
