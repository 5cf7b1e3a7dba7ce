// Package encode turns an ordered frame sequence into a video with ffmpeg.
package encode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"eyeline/internal/resample"
	"eyeline/internal/sequence"
)

var (
	ErrEncode           = errors.New("encode failed")
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
)

const outputName = "output.mp4"

// EncodeError carries the encoder's diagnostic output.
type EncodeError struct {
	Op  string
	Log string
	Err error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrEncode, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if log := strings.TrimSpace(e.Log); log != "" {
		msg += "\n" + log
	}
	return msg
}

func (e *EncodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncode}
	}
	return []error{ErrEncode, e.Err}
}

// Artifact is an encoded video held in memory.
type Artifact struct {
	Data       []byte
	Log        string
	FrameCount int
}

// Assembler writes frames to a scoped working directory and encodes them.
type Assembler struct {
	FFmpeg  string
	FFprobe string
	// DeliveryWidth scales the output; zero keeps the frame width.
	DeliveryWidth int
	// Verify enables the ffprobe frame count check after encoding.
	Verify  bool
	TempDir string
	Builder *CommandBuilder
	Runner  Runner
	Logger  *slog.Logger
}

func NewAssembler() *Assembler {
	return &Assembler{
		FFmpeg:  "ffmpeg",
		FFprobe: "ffprobe",
		Builder: NewCommandBuilder("", ""),
		Runner:  ExecRunner{},
	}
}

// Assemble encodes frames at frameRate. The frames must be gap-free from
// index 0; anything else is rejected before the encoder starts. A list that
// only lacks its trailing frames looks complete here, so callers that know
// the sequence length should use AssembleCount. Once the encoder is started
// it runs to completion even if ctx is cancelled.
func (a *Assembler) Assemble(ctx context.Context, frames []resample.Frame, frameRate int) (Artifact, error) {
	return a.AssembleCount(ctx, frames, len(frames), frameRate)
}

// AssembleCount is Assemble for a sequence of exactly n frames.
func (a *Assembler) AssembleCount(ctx context.Context, frames []resample.Frame, n, frameRate int) (Artifact, error) {
	if frameRate <= 0 {
		return Artifact{}, fmt.Errorf("%w: %d", ErrInvalidFrameRate, frameRate)
	}
	if err := sequence.ValidateCount(frames, n); err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	ctx = context.WithoutCancel(ctx)
	logger := a.logger()

	dir, err := os.MkdirTemp(a.TempDir, "eyeline-encode-")
	if err != nil {
		return Artifact{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove encode work dir", "dir", dir, "error", err)
		}
	}()

	for _, f := range frames {
		if err := os.WriteFile(filepath.Join(dir, sequence.FrameName(f.Index)), f.Data, 0o644); err != nil {
			return Artifact{}, fmt.Errorf("write frame %d: %w", f.Index, err)
		}
	}

	width, height := a.deliverySize(frames[0])
	output := filepath.Join(dir, outputName)
	args := a.builder().Sequence(SequenceParams{
		InputPattern: filepath.Join(dir, sequence.Pattern),
		FrameRate:    frameRate,
		Frames:       len(frames),
		Width:        width,
		Height:       height,
		Output:       output,
	})

	logger.Info("starting encode", "frames", len(frames), "fps", frameRate, "size", fmt.Sprintf("%dx%d", width, height))
	start := time.Now()
	stdout, stderr, err := a.runner().Run(ctx, a.ffmpeg(), args...)
	log := string(stderr)
	if len(stdout) > 0 {
		log = string(stdout) + log
	}
	if err != nil {
		return Artifact{}, &EncodeError{Op: a.ffmpeg(), Log: log, Err: err}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return Artifact{}, &EncodeError{Op: "read output", Log: log, Err: err}
	}
	if len(data) == 0 {
		return Artifact{}, &EncodeError{Op: "read output", Log: log, Err: errors.New("encoder produced an empty file")}
	}

	count := len(frames)
	if a.Verify {
		probed, err := a.countFrames(ctx, output)
		if err != nil {
			return Artifact{}, &EncodeError{Op: a.ffprobe(), Log: log, Err: err}
		}
		if probed > len(frames) {
			return Artifact{}, &EncodeError{Op: "verify", Log: log, Err: fmt.Errorf("video has %d frames, expected at most %d", probed, len(frames))}
		}
		count = probed
	}

	logger.Info("encode complete", "frames", count, "bytes", len(data), "duration", time.Since(start))
	return Artifact{Data: data, Log: log, FrameCount: count}, nil
}

// deliverySize picks one even output size for the whole video from the
// first frame's aspect ratio.
func (a *Assembler) deliverySize(f resample.Frame) (int, int) {
	w := a.DeliveryWidth
	if w <= 0 {
		w = f.Width
	}
	if w <= 0 || f.Width <= 0 || f.Height <= 0 {
		return 0, 0
	}
	h := int(math.Floor(float64(f.Height)*float64(w)/float64(f.Width))) &^ 1
	return w &^ 1, h
}

func (a *Assembler) countFrames(ctx context.Context, path string) (int, error) {
	stdout, stderr, err := a.runner().Run(ctx, a.ffprobe(), CountFramesArgs(path)...)
	if err != nil {
		return 0, fmt.Errorf("%v: %s", err, strings.TrimSpace(string(stderr)))
	}
	var res struct {
		Streams []struct {
			NbReadFrames string `json:"nb_read_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(stdout, &res); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, errors.New("ffprobe found no video stream")
	}
	n, err := strconv.Atoi(res.Streams[0].NbReadFrames)
	if err != nil {
		return 0, fmt.Errorf("parse frame count %q: %w", res.Streams[0].NbReadFrames, err)
	}
	return n, nil
}

func (a *Assembler) ffmpeg() string {
	if a.FFmpeg == "" {
		return "ffmpeg"
	}
	return a.FFmpeg
}

func (a *Assembler) ffprobe() string {
	if a.FFprobe == "" {
		return "ffprobe"
	}
	return a.FFprobe
}

func (a *Assembler) builder() *CommandBuilder {
	if a.Builder == nil {
		return NewCommandBuilder("", "")
	}
	return a.Builder
}

func (a *Assembler) runner() Runner {
	if a.Runner == nil {
		return ExecRunner{}
	}
	return a.Runner
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
