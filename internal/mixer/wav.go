package mixer

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	"github.com/go-audio/wav"
)

// DumpWAV writes the program as integer PCM, for inspecting a mix outside the
// pipeline. Samples beyond full scale are clamped in the file only.
func (p *Program) DumpWAV(path string, bitDepth int) error {
	if bitDepth != 16 && bitDepth != 24 {
		return fmt.Errorf("unsupported wav bit depth %d", bitDepth)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	format := &audio.Format{NumChannels: 2, SampleRate: p.sampleRate}
	ceiling := float32(1 - 1/float64(int(1)<<(bitDepth-1)))
	data := make([]float32, len(p.samples))
	for i, v := range p.samples {
		data[i] = max(-1, min(ceiling, v))
	}
	fBuf := &audio.Float32Buffer{Data: data, Format: format}
	if err := transforms.PCMScaleF32(fBuf, bitDepth); err != nil {
		return fmt.Errorf("failed to scale samples: %w", err)
	}

	enc := wav.NewEncoder(f, p.sampleRate, bitDepth, 2, 1)
	if err := enc.Write(fBuf.AsIntBuffer()); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return enc.Close()
}
