package mixer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/timeline"
)

// Bank holds the fixed sound assets of an export.
type Bank struct {
	Click  *Clip
	Drag   *Clip
	Flick  *Clip
	Ending *Clip
}

// Input is everything Mix needs.
type Input struct {
	SampleRate  int
	Layout      timeline.Layout
	Music       *Clip
	Bank        *Bank
	Notes       []chart.Note
	VolumeMusic float32
	VolumeSfx   float32
	Logger      *slog.Logger
}

// Mix builds the audio program. Every clip must already be at the mixing
// rate; a mismatch is a broken asset pack and panics.
func Mix(in Input) *Program {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mustMatchRate("music", in.Music, in.SampleRate)
	mustMatchRate("ending", in.Bank.Ending, in.SampleRate)
	mustMatchRate("click", in.Bank.Click, in.SampleRate)
	mustMatchRate("drag", in.Bank.Drag, in.SampleRate)
	mustMatchRate("flick", in.Bank.Flick, in.SampleRate)

	l := in.Layout
	p := NewProgram(l.VideoLength, in.SampleRate)

	if in.VolumeMusic != 0 {
		start := time.Now()
		span := int(l.MusicSpan() * float64(in.SampleRate))
		p.PlaceN(l.MusicStart(), in.Music, in.VolumeMusic, span)

		if l.EndingLoops() && in.Bank.Ending.Frames() > 0 {
			step := in.Bank.Ending.Length()
			for pos := l.EndingStart(); pos < l.VideoLength; pos += step {
				p.Place(pos, in.Bank.Ending, in.VolumeMusic)
			}
		}
		logger.Debug("music mixed", "elapsed", time.Since(start))
	}

	if in.VolumeSfx != 0 {
		start := time.Now()
		placed := 0
		for _, n := range in.Notes {
			if n.Fake {
				continue
			}
			if p.Place(l.NoteTime(n.Time), in.Bank.For(n.Kind), in.VolumeSfx) > 0 {
				placed++
			}
		}
		logger.Debug("hit sounds mixed", "placed", placed, "elapsed", time.Since(start))
	}

	return p
}

// For returns the hit sound for a note kind.
func (b *Bank) For(kind chart.NoteKind) *Clip {
	switch kind {
	case chart.NoteDrag:
		return b.Drag
	case chart.NoteFlick:
		return b.Flick
	}
	return b.Click
}

func mustMatchRate(name string, c *Clip, rate int) {
	if c == nil {
		panic(fmt.Sprintf("mixer: %s clip missing", name))
	}
	if c.SampleRate() != rate {
		panic(fmt.Sprintf("mixer: %s clip is %d Hz, mixing at %d Hz", name, c.SampleRate(), rate))
	}
}
