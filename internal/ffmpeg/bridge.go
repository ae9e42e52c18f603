package ffmpeg

import (
	"context"
	"io"
)

// Bridge binds the encoding stages to one ffmpeg binary.
type Bridge struct {
	Bin string
}

// EncodeAudio runs the audio stage.
func (b Bridge) EncodeAudio(ctx context.Context, src io.WriterTo, inputRate int, spec AudioSpec, output string) error {
	return EncodeAudio(ctx, b.Bin, src, inputRate, spec, output)
}

// StartVideo starts the muxing stage.
func (b Bridge) StartVideo(ctx context.Context, spec VideoSpec) (io.WriteCloser, error) {
	return StartVideo(ctx, b.Bin, spec)
}

// Decode decodes an audio file; rate 0 keeps its native rate.
func (b Bridge) Decode(ctx context.Context, path string, rate int) ([]float32, int, error) {
	return Decode(ctx, b.Bin, path, rate)
}
