// Package detect talks to the remote eye-landmark detection service.
package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"eyeline/internal/landmark"
)

var (
	// ErrTransport marks a failed round-trip to the detection service.
	ErrTransport = errors.New("detection service unreachable")
	// ErrUnsupportedImage marks an upload the service would refuse.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrRejected marks a request the service refused as invalid.
	ErrRejected = errors.New("request rejected by detection service")
)

// AllowedExtensions are the upload types the detection service accepts.
var AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// Allowed reports whether name has an accepted image extension.
func Allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Progress is one poll response.
type Progress struct {
	Progress int    `json:"progress"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports a remote-side job failure.
func (p Progress) Failed() bool { return p.State == "failed" }

// Client submits images for detection and retrieves the landmarks.
type Client interface {
	Submit(ctx context.Context, images []landmark.Image) (string, error)
	Poll(ctx context.Context, jobID string) (Progress, error)
	Fetch(ctx context.Context, jobID string) ([]landmark.Record, error)
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type fetchResponse struct {
	Data struct {
		EyePosition []landmark.Record `json:"eye_position"`
	} `json:"data"`
}

func checkImages(images []landmark.Image) error {
	if len(images) == 0 {
		return errors.New("no images to submit")
	}
	for _, img := range images {
		if !Allowed(img.Name) {
			return fmt.Errorf("%w: %s", ErrUnsupportedImage, img.Name)
		}
	}
	return nil
}

func decodeFetch(data []byte) ([]landmark.Record, error) {
	var resp fetchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	return resp.Data.EyePosition, nil
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}
