package encode

import (
	"fmt"
	"strconv"
)

const (
	DefaultCodec       = "libx264"
	DefaultPixelFormat = "yuv420p"
)

// CommandBuilder renders ffmpeg argument lists for frame-sequence encodes.
type CommandBuilder struct {
	Codec       string
	PixelFormat string
	// Preset and CRF are passed through when set.
	Preset string
	CRF    int
}

func NewCommandBuilder(codec, pixelFormat string) *CommandBuilder {
	if codec == "" {
		codec = DefaultCodec
	}
	if pixelFormat == "" {
		pixelFormat = DefaultPixelFormat
	}
	return &CommandBuilder{Codec: codec, PixelFormat: pixelFormat}
}

type SequenceParams struct {
	// InputPattern is a printf-style path starting at 1, e.g. dir/image%d.jpg.
	InputPattern string
	FrameRate    int
	Frames       int
	Width        int
	Height       int
	Output       string
}

// Sequence builds the encode of a numbered still sequence into one video.
// Output frames are capped at p.Frames and scaled to a single delivery size
// so per-frame canvas heights never reach the encoder.
func (b *CommandBuilder) Sequence(p SequenceParams) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-framerate", strconv.Itoa(p.FrameRate),
		"-start_number", "1",
		"-i", p.InputPattern,
		"-frames:v", strconv.Itoa(p.Frames),
		"-c:v", b.Codec,
		"-pix_fmt", b.PixelFormat,
	}
	if b.Preset != "" {
		args = append(args, "-preset", b.Preset)
	}
	if b.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(b.CRF))
	}
	if p.Width > 0 && p.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	}
	args = append(args, "-shortest", p.Output)
	return args
}

// CountFramesArgs builds the ffprobe call that decodes and counts video frames.
func CountFramesArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "json",
		path,
	}
}
