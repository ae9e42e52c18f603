// Package assets loads the sound resources an export mixes: the chart's
// music and the fixed hit-sound bank.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"github.com/phitk/render/internal/mixer"
)

// Extensions are the audio file types probed when resolving a sound by name.
var Extensions = []string{".wav", ".ogg", ".mp3", ".flac"}

// ErrNeedsDecoder is returned for audio that can only be read through ffmpeg
// when no decoder is configured.
var ErrNeedsDecoder = errors.New("audio needs an external decoder")

// Decoder converts an audio file to interleaved stereo float32. A positive
// rate resamples to it, zero keeps the file's own rate; the rate of the
// returned samples is reported either way.
type Decoder interface {
	Decode(ctx context.Context, path string, rate int) ([]float32, int, error)
}

const wavFormatPCM = 1

// LoadClip reads a bundled sound at its native rate. Nothing is resampled,
// so a bank recorded at the wrong rate trips the mixer's rate check instead
// of being silently converted. Integer PCM WAV is read directly, everything
// else goes through dec.
func LoadClip(ctx context.Context, path string, dec Decoder) (*mixer.Clip, error) {
	if isWAV(path) {
		clip, err := readWAV(path)
		if err == nil {
			return clip, nil
		}
		if !errors.Is(err, ErrNeedsDecoder) {
			return nil, err
		}
	}
	return decode(ctx, path, 0, dec)
}

// LoadMusic reads a chart's music track at rate, resampling through dec when
// the file was recorded at another rate.
func LoadMusic(ctx context.Context, path string, rate int, dec Decoder) (*mixer.Clip, error) {
	if isWAV(path) {
		clip, err := readWAV(path)
		if err == nil && clip.SampleRate() == rate {
			return clip, nil
		}
		if err != nil && !errors.Is(err, ErrNeedsDecoder) {
			return nil, err
		}
	}
	return decode(ctx, path, rate, dec)
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func decode(ctx context.Context, path string, rate int, dec Decoder) (*mixer.Clip, error) {
	if dec == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNeedsDecoder)
	}
	samples, got, err := dec.Decode(ctx, path, rate)
	if err != nil {
		return nil, err
	}
	if got <= 0 {
		return nil, fmt.Errorf("%s: decoder reported no sample rate", path)
	}
	return mixer.NewClip(samples, got), nil
}

func readWAV(path string) (*mixer.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}
	if d.WavAudioFormat != wavFormatPCM || d.BitDepth < 16 || d.SampleRate == 0 {
		return nil, ErrNeedsDecoder
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%s: no channels", path)
	}
	scale := float32(int64(1) << (d.BitDepth - 1))
	frames := len(buf.Data) / channels

	samples := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		left := float32(buf.Data[i*channels]) / scale
		right := left
		if channels > 1 {
			right = float32(buf.Data[i*channels+1]) / scale
		}
		samples[i*2] = left
		samples[i*2+1] = right
	}
	return mixer.NewClip(samples, int(d.SampleRate)), nil
}

// Resolve finds name with one of Extensions in dir.
func Resolve(dir, name string) (string, error) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("sound %q not found in %s", name, dir)
}

// LoadBank loads click, drag, flick and ending from dir, each at its native
// rate.
func LoadBank(ctx context.Context, dir string, dec Decoder) (*mixer.Bank, error) {
	load := func(name string) (*mixer.Clip, error) {
		p, err := Resolve(dir, name)
		if err != nil {
			return nil, err
		}
		return LoadClip(ctx, p, dec)
	}

	var bank mixer.Bank
	var err error
	if bank.Click, err = load("click"); err != nil {
		return nil, err
	}
	if bank.Drag, err = load("drag"); err != nil {
		return nil, err
	}
	if bank.Flick, err = load("flick"); err != nil {
		return nil, err
	}
	if bank.Ending, err = load("ending"); err != nil {
		return nil, err
	}
	return &bank, nil
}
