package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var streamRate = regexp.MustCompile(`Audio: .*?(\d+) Hz`)

// SampleRate reads the rate of the first audio stream from ffmpeg's input
// summary.
func SampleRate(ctx context.Context, bin, path string) (int, error) {
	// Without an output ffmpeg exits non-zero after printing the summary.
	out, _ := Output(ctx, bin, "-hide_banner", "-i", path)
	m := streamRate.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("%s: no audio stream found", path)
	}
	rate, err := strconv.Atoi(string(m[1]))
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%s: bad sample rate %q", path, m[1])
	}
	return rate, nil
}

// Decode converts any audio file ffmpeg understands to interleaved stereo
// float32. A positive rate resamples to it; zero keeps the stream's own
// rate. The rate of the returned samples is reported alongside them.
func Decode(ctx context.Context, bin, path string, rate int) ([]float32, int, error) {
	args := []string{"-v", "error", "-i", path, "-f", "f32le", "-ac", "2"}
	if rate > 0 {
		args = append(args, "-ar", strconv.Itoa(rate))
	} else {
		native, err := SampleRate(ctx, bin, path)
		if err != nil {
			return nil, 0, err
		}
		rate = native
	}
	args = append(args, "-")

	var out bytes.Buffer
	proc, err := Start(ctx, "decode", bin, args, &out)
	if err != nil {
		return nil, 0, err
	}
	if err := proc.Close(); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	raw := out.Bytes()
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, rate, nil
}
