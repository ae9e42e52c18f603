package mixer

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// Program is the fixed-length stereo buffer for a whole export. Its length
// never changes after construction; every placement is clipped to it.
type Program struct {
	samples    []float32
	sampleRate int
}

// NewProgram allocates ceil(seconds*sampleRate) silent stereo frames.
func NewProgram(seconds float64, sampleRate int) *Program {
	frames := int(math.Ceil(seconds * float64(sampleRate)))
	if frames < 0 {
		frames = 0
	}
	return &Program{
		samples:    make([]float32, frames*2),
		sampleRate: sampleRate,
	}
}

// Frames is the number of stereo frames.
func (p *Program) Frames() int { return len(p.samples) / 2 }

// SampleRate is the program rate in Hz.
func (p *Program) SampleRate() int { return p.sampleRate }

// Samples exposes the interleaved samples.
func (p *Program) Samples() []float32 { return p.samples }

// Duration is the program length in seconds.
func (p *Program) Duration() float64 {
	return float64(p.Frames()) / float64(p.sampleRate)
}

// Place adds clip*gain starting at onset seconds and returns the number of
// frames written. An onset at or past the end writes nothing; a negative
// onset drops the clip's leading frames.
func (p *Program) Place(onset float64, clip *Clip, gain float32) int {
	return p.PlaceN(onset, clip, gain, clip.Frames())
}

// PlaceN is Place limited to the first limit frames of the clip.
func (p *Program) PlaceN(onset float64, clip *Clip, gain float32, limit int) int {
	start := int(math.Round(onset * float64(p.sampleRate)))
	skip := 0
	if start < 0 {
		skip = -start
		start = 0
	}
	if limit > clip.Frames() {
		limit = clip.Frames()
	}
	if start >= p.Frames() || skip >= limit {
		return 0
	}

	n := min(limit-skip, p.Frames()-start)
	dst := p.samples[start*2 : (start+n)*2]
	src := clip.samples[skip*2 : (skip+n)*2]
	for i := range dst {
		dst[i] += src[i] * gain
	}
	return n
}

// Peak returns the largest absolute sample value. Values above 1 are kept;
// the program is never clipped.
func (p *Program) Peak() float32 {
	var peak float32
	for _, v := range p.samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// WriteTo streams the program as little-endian 32-bit floats, the f32le
// layout the encoder reads from its stdin.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	var buf [4]byte
	var written int64
	for _, v := range p.samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		n, err := bw.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}
