// Package mixer builds the export's audio program: one fixed-length stereo
// buffer into which the music, the ending loop and every hit sound are
// summed.
package mixer

// Clip is a decoded sound: interleaved stereo float samples at a fixed rate.
type Clip struct {
	samples    []float32
	sampleRate int
}

// NewClip wraps interleaved stereo samples. A trailing odd sample is dropped.
func NewClip(samples []float32, sampleRate int) *Clip {
	return &Clip{
		samples:    samples[:len(samples)&^1],
		sampleRate: sampleRate,
	}
}

// MonoClip builds a stereo clip from a single channel.
func MonoClip(mono []float32, sampleRate int) *Clip {
	samples := make([]float32, len(mono)*2)
	for i, v := range mono {
		samples[i*2] = v
		samples[i*2+1] = v
	}
	return &Clip{samples: samples, sampleRate: sampleRate}
}

// Frames is the number of stereo frames.
func (c *Clip) Frames() int { return len(c.samples) / 2 }

// SampleRate is the clip's rate in Hz.
func (c *Clip) SampleRate() int { return c.sampleRate }

// Length is the clip duration in seconds.
func (c *Clip) Length() float64 {
	if c.sampleRate == 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.sampleRate)
}

// Frame returns frame i, or silence outside the clip.
func (c *Clip) Frame(i int) (left, right float32) {
	if i < 0 || i >= c.Frames() {
		return 0, 0
	}
	return c.samples[i*2], c.samples[i*2+1]
}

// Samples exposes the interleaved samples.
func (c *Clip) Samples() []float32 { return c.samples }
