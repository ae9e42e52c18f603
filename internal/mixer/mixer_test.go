package mixer

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/timeline"
)

const testRate = 100

// constClip is a stereo clip of the given length whose left channel is l and
// right channel is r.
func constClip(seconds float64, l, r float32) *Clip {
	frames := int(seconds * testRate)
	s := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		s[i*2] = l
		s[i*2+1] = r
	}
	return NewClip(s, testRate)
}

func testBank() *Bank {
	return &Bank{
		Click:  constClip(0.05, 0.1, 0.1),
		Drag:   constClip(0.05, 0.2, 0.2),
		Flick:  constClip(0.05, 0.3, 0.3),
		Ending: constClip(0.5, 0.05, 0.05),
	}
}

func frameAt(p *Program, i int) (float32, float32) {
	return p.samples[i*2], p.samples[i*2+1]
}

func TestNewProgram_Length(t *testing.T) {
	p := NewProgram(1.234, testRate)
	if len(p.Samples()) != 124*2 {
		t.Errorf("expected %d samples, got %d", 124*2, len(p.Samples()))
	}
	if NewProgram(-1, testRate).Frames() != 0 {
		t.Error("negative length should give an empty program")
	}
}

func TestPlace_PastEndWritesNothing(t *testing.T) {
	p := NewProgram(2, testRate)
	clip := constClip(1, 1, 1)

	if n := p.Place(2, clip, 1); n != 0 {
		t.Errorf("onset at end wrote %d frames", n)
	}
	if n := p.Place(50, clip, 1); n != 0 {
		t.Errorf("onset past end wrote %d frames", n)
	}
	if p.Peak() != 0 {
		t.Error("program should still be silent")
	}
}

func TestPlace_TruncatesAtEnd(t *testing.T) {
	p := NewProgram(2, testRate)
	if n := p.Place(1.5, constClip(1, 1, 1), 1); n != 50 {
		t.Errorf("expected 50 frames written, got %d", n)
	}
	if l, _ := frameAt(p, 149); l != 0 {
		t.Error("wrote before onset")
	}
	if l, _ := frameAt(p, 199); l != 1 {
		t.Error("expected last frame written")
	}
}

func TestPlace_NegativeOnsetSkipsLead(t *testing.T) {
	p := NewProgram(1, testRate)
	s := make([]float32, 40)
	for i := range s {
		s[i] = float32(i / 2)
	}
	if n := p.Place(-0.1, NewClip(s, testRate), 1); n != 10 {
		t.Fatalf("expected 10 frames, got %d", n)
	}
	if l, _ := frameAt(p, 0); l != 10 {
		t.Errorf("expected frame 10 of the clip at the start, got %v", l)
	}
}

func TestPlace_AdditiveWithoutClipping(t *testing.T) {
	p := NewProgram(1, testRate)
	clip := constClip(0.5, 0.75, -0.5)
	p.Place(0, clip, 1)
	p.Place(0.25, clip, 1)

	if l, r := frameAt(p, 10); l != 0.75 || r != -0.5 {
		t.Errorf("single overlap frame = (%v, %v)", l, r)
	}
	if l, r := frameAt(p, 30); l != 1.5 || r != -1 {
		t.Errorf("double overlap frame = (%v, %v), want (1.5, -1)", l, r)
	}
	if p.Peak() != 1.5 {
		t.Errorf("peak %v, expected values above full scale to survive", p.Peak())
	}
}

func TestWriteTo_LittleEndianFloats(t *testing.T) {
	p := NewProgram(0.02, testRate)
	p.Place(0, constClip(0.02, 0.5, -2), 1)

	var buf bytes.Buffer
	n, err := p.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(p.Samples())*4) || buf.Len() != int(n) {
		t.Fatalf("wrote %d bytes", n)
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(buf.Bytes()[4:8])); v != -2 {
		t.Errorf("second sample = %v", v)
	}
}

func zeroLayout(track, offset, ending float64) timeline.Layout {
	return timeline.NewLayout(timeline.Constants{EndingWait: 1}, track, offset, ending, true)
}

func TestMix_MusicStartsAfterNegativeOffset(t *testing.T) {
	l := zeroLayout(1, -0.5, 0)
	p := Mix(Input{
		SampleRate:  testRate,
		Layout:      l,
		Music:       constClip(1, 1, 1),
		Bank:        testBank(),
		VolumeMusic: 0.5,
	})

	if p.Frames() != 150 {
		t.Fatalf("expected 150 frames, got %d", p.Frames())
	}
	if l, _ := frameAt(p, 49); l != 0 {
		t.Error("music must not start before the offset")
	}
	if l, _ := frameAt(p, 50); l != 0.5 {
		t.Errorf("music frame = %v, want 0.5", l)
	}
}

func TestMix_HitSounds(t *testing.T) {
	l := zeroLayout(2, 0.1, 0)
	notes := []chart.Note{
		{Time: 0.5, Kind: chart.NoteClick},
		{Time: 1.0, Kind: chart.NoteDrag},
		{Time: 1.5, Kind: chart.NoteFlick},
		{Time: 1.7, Kind: chart.NoteHold},
		{Time: 0.2, Kind: chart.NoteFlick, Fake: true},
	}
	p := Mix(Input{
		SampleRate: testRate,
		Layout:     l,
		Music:      constClip(2, 0, 0),
		Bank:       testBank(),
		Notes:      notes,
		VolumeSfx:  1,
	})

	checks := []struct {
		frame int
		want  float32
	}{
		{30, 0},   // fake note at 0.2 + 0.1
		{60, 0.1}, // click at 0.5 + 0.1
		{110, 0.2},
		{160, 0.3},
		{180, 0.1}, // hold uses the click sound
	}
	for _, c := range checks {
		if l, r := frameAt(p, c.frame); !near(l, c.want) || !near(r, c.want) {
			t.Errorf("frame %d = (%v, %v), want %v", c.frame, l, r, c.want)
		}
	}
}

func TestMix_ZeroGainSkipsCategory(t *testing.T) {
	l := zeroLayout(1, 0, 0)
	base := Input{
		SampleRate:  testRate,
		Layout:      l,
		Music:       constClip(1, 0.25, 0.25),
		Bank:        testBank(),
		Notes:       []chart.Note{{Time: 0.5, Kind: chart.NoteClick}},
		VolumeMusic: 1,
	}
	musicOnly := base
	musicOnly.Notes = nil
	musicOnly.VolumeSfx = 1

	withZeroSfx := base
	withZeroSfx.VolumeSfx = 0
	if !equalSamples(Mix(musicOnly).Samples(), Mix(withZeroSfx).Samples()) {
		t.Error("zero sfx gain changed the program")
	}

	withSfx := base
	withSfx.VolumeSfx = 1
	if equalSamples(Mix(musicOnly).Samples(), Mix(withSfx).Samples()) {
		t.Error("expected hit sounds with non-zero gain")
	}

	silent := base
	silent.VolumeMusic = 0
	if Mix(silent).Peak() != 0 {
		t.Error("zero gain everywhere should give silence")
	}
}

func TestMix_EndingLoops(t *testing.T) {
	l := zeroLayout(1, 0, 2)
	p := Mix(Input{
		SampleRate:  testRate,
		Layout:      l,
		Music:       constClip(0, 0, 0),
		Bank:        testBank(),
		VolumeMusic: 1,
	})

	if p.Frames() != 300 {
		t.Fatalf("expected 300 frames, got %d", p.Frames())
	}
	for _, f := range []int{100, 149, 150, 250, 299} {
		if l, _ := frameAt(p, f); !near(l, 0.05) {
			t.Errorf("frame %d = %v, want ending sample", f, l)
		}
	}
	if l, _ := frameAt(p, 99); l != 0 {
		t.Error("ending started early")
	}
}

func TestMix_ShortEndingDoesNotLoop(t *testing.T) {
	l := zeroLayout(1, 0, 0.5)
	p := Mix(Input{
		SampleRate:  testRate,
		Layout:      l,
		Music:       constClip(0, 0, 0),
		Bank:        testBank(),
		VolumeMusic: 1,
	})
	if p.Peak() != 0 {
		t.Error("ending shorter than the wait time must not be placed")
	}
}

func TestMix_SampleRateMismatchPanics(t *testing.T) {
	bank := testBank()
	bank.Flick = NewClip(make([]float32, 10), 44100)

	defer func() {
		if recover() == nil {
			t.Error("expected a panic on mismatched sample rate")
		}
	}()
	Mix(Input{
		SampleRate: testRate,
		Layout:     zeroLayout(1, 0, 0),
		Music:      constClip(1, 0, 0),
		Bank:       bank,
	})
}

func TestDumpWAV(t *testing.T) {
	p := NewProgram(0.5, 8000)
	p.Place(0, NewClip(make([]float32, 800), 8000), 1)
	path := filepath.Join(t.TempDir(), "mix.wav")

	if err := p.DumpWAV(path, 24); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatal("dump is not a valid wav file")
	}
	if d.SampleRate != 8000 || d.NumChans != 2 || d.BitDepth != 24 {
		t.Errorf("unexpected format %d Hz, %d ch, %d bit", d.SampleRate, d.NumChans, d.BitDepth)
	}

	if err := p.DumpWAV(path, 12); err == nil {
		t.Error("expected unsupported bit depth error")
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func equalSamples(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
