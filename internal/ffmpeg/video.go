package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

var containerFormats = map[string]string{
	"mov": "mov",
	"mp4": "mp4",
	"mkv": "matroska",
}

// ContainerFormat maps a container extension to ffmpeg's muxer name.
func ContainerFormat(container string) (string, error) {
	f, ok := containerFormats[strings.ToLower(strings.TrimPrefix(container, "."))]
	if !ok {
		return "", &ConfigError{Field: "container", Reason: fmt.Sprintf("unsupported container %q", container)}
	}
	return f, nil
}

// VideoSpec is the final muxing stage: raw RGBA frames on stdin, the
// encoded audio file as the second input.
type VideoSpec struct {
	Width       int
	Height      int
	FPS         int
	AudioPath   string
	EncoderArgs []string
	// Trim drops this many leading seconds from the output when positive.
	Trim      float64
	Threads   int
	Container string
	Output    string
}

// Args builds the video stage command line.
func (s VideoSpec) Args() ([]string, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, &ConfigError{Field: "resolution", Reason: fmt.Sprintf("%dx%d", s.Width, s.Height)}
	}
	if s.FPS <= 0 {
		return nil, &ConfigError{Field: "fps", Reason: strconv.Itoa(s.FPS)}
	}
	format, err := ContainerFormat(s.Container)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-y",
		"-f", "rawvideo",
		"-c:v", "rawvideo",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.Itoa(s.FPS),
		"-pix_fmt", "rgba",
		"-i", "-",
		"-i", s.AudioPath,
		"-c:a", "copy",
	}
	args = append(args, s.EncoderArgs...)
	args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	if s.Trim > 0 {
		args = append(args, "-ss", strconv.FormatFloat(s.Trim, 'f', -1, 64))
	}
	if s.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(s.Threads))
	}
	args = append(args, "-vf", "vflip", "-f", format, s.Output)
	return args, nil
}

// StartVideo launches the muxing stage. Frames are written to the returned
// process bottom row first.
func StartVideo(ctx context.Context, bin string, spec VideoSpec) (*Process, error) {
	args, err := spec.Args()
	if err != nil {
		return nil, err
	}
	return Start(ctx, "video", bin, args, nil)
}
