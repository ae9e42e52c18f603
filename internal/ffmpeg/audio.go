package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// AudioFormat describes one supported output audio format.
type AudioFormat struct {
	Name      string `json:"name"`
	Class     string `json:"class"`
	Codec     string `json:"codec"`
	Container string `json:"container"`
	Extension string `json:"extension"`
	PCM       bool   `json:"pcm"`
}

var audioFormats = map[string]AudioFormat{
	"flac": {Name: "flac", Class: "lossless", Codec: "flac", Container: "flac", Extension: ".flac"},
	"mp3":  {Name: "mp3", Class: "lossy", Codec: "libmp3lame", Container: "mp3", Extension: ".mp3"},
	"opus": {Name: "opus", Class: "low-latency", Codec: "libopus", Container: "ogg", Extension: ".ogg"},
	"wav":  {Name: "wav", Class: "pcm", Codec: "pcm_f32le", Container: "wav", Extension: ".wav", PCM: true},
}

var pcmCodecs = map[int]string{
	16: "pcm_s16le",
	24: "pcm_s24le",
	32: "pcm_s32le",
}

// DefaultAudioFormat is used when no format is configured.
const DefaultAudioFormat = "wav"

// AudioFormats lists the supported formats sorted by name.
func AudioFormats() []AudioFormat {
	out := make([]AudioFormat, 0, len(audioFormats))
	for _, f := range audioFormats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupAudioFormat resolves a format name; the empty name is the default.
func LookupAudioFormat(name string) (AudioFormat, bool) {
	if name == "" {
		name = DefaultAudioFormat
	}
	f, ok := audioFormats[strings.ToLower(name)]
	return f, ok
}

// AudioSpec is the requested audio stage output.
type AudioSpec struct {
	Format     string
	BitDepth   int
	SampleRate int
}

// Validate rejects combinations ffmpeg would otherwise fail on mid-export.
func (s AudioSpec) Validate() error {
	f, ok := LookupAudioFormat(s.Format)
	if !ok {
		return &ConfigError{Field: "audio format", Reason: fmt.Sprintf("unsupported format %q", s.Format)}
	}
	if s.BitDepth != 0 {
		if !f.PCM {
			return &ConfigError{Field: "audio bit depth", Reason: fmt.Sprintf("bit depth only applies to wav, not %s", f.Name)}
		}
		if _, ok := pcmCodecs[s.BitDepth]; !ok {
			return &ConfigError{Field: "audio bit depth", Reason: fmt.Sprintf("%d is not one of 16, 24, 32", s.BitDepth)}
		}
	}
	if s.SampleRate < 0 {
		return &ConfigError{Field: "audio sample rate", Reason: "must not be negative"}
	}
	return nil
}

// Extension is the file extension for the intermediate audio file.
func (s AudioSpec) Extension() string {
	f, _ := LookupAudioFormat(s.Format)
	return f.Extension
}

// Args builds the audio stage command line. The input is interleaved
// little-endian float32 stereo at inputRate on stdin.
func (s AudioSpec) Args(inputRate int, output string) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	f, _ := LookupAudioFormat(s.Format)

	codec := f.Codec
	if f.PCM && s.BitDepth != 0 {
		codec = pcmCodecs[s.BitDepth]
	}

	args := []string{
		"-y",
		"-f", "f32le",
		"-ar", strconv.Itoa(inputRate),
		"-ac", "2",
		"-i", "-",
	}
	if s.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(s.SampleRate))
	}
	args = append(args, "-c:a", codec, "-f", f.Container, output)
	return args, nil
}

// EncodeAudio streams src through ffmpeg into output. The audio settings are validated
// before any process is started.
func EncodeAudio(ctx context.Context, bin string, src io.WriterTo, inputRate int, spec AudioSpec, output string) error {
	args, err := spec.Args(inputRate, output)
	if err != nil {
		return err
	}

	proc, err := Start(ctx, "audio", bin, args, nil)
	if err != nil {
		return err
	}
	if _, err := src.WriteTo(proc); err != nil {
		_ = proc.Close()
		return err
	}
	return proc.Close()
}

// SupportedBitDepths lists the PCM bit depths accepted for wav.
func SupportedBitDepths() []int {
	out := make([]int, 0, len(pcmCodecs))
	for d := range pcmCodecs {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
