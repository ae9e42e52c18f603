package scene

import (
	"fmt"
	"math"
	"sort"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/gpu"
)

// PatternName is the built-in deterministic scene.
const PatternName = "pattern"

func init() {
	Register(PatternName, NewPattern)
}

const (
	flashDuration = 0.15
	laneCount     = 8
)

// Pattern draws a deterministic visualisation of the chart timeline: a
// slowly shifting background, a judge line, one flash per note as it is hit
// and a progress bar. Its output depends only on the clock value, which makes
// it useful for checking frame timing end to end.
type Pattern struct {
	opts  Options
	notes []chart.Note
	now   float64
}

// NewPattern builds the pattern scene.
func NewPattern(opts Options) (Driver, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid scene size %dx%d", opts.Width, opts.Height)
	}
	notes := make([]chart.Note, 0, len(opts.Notes))
	for _, n := range opts.Notes {
		if !n.Fake {
			notes = append(notes, n)
		}
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Time < notes[j].Time })
	return &Pattern{opts: opts, notes: notes}, nil
}

func (p *Pattern) Update(clock Clock) error {
	p.now = clock.Now()
	return nil
}

// chartTime maps video time to chart time.
func (p *Pattern) chartTime() float64 {
	return p.now - p.opts.PreRoll - math.Max(p.opts.ChartOffset, 0)
}

func (p *Pattern) Render(fb *gpu.Framebuffer) error {
	if fb.Width != p.opts.Width || fb.Height != p.opts.Height {
		return fmt.Errorf("target is %dx%d, scene is %dx%d", fb.Width, fb.Height, p.opts.Width, p.opts.Height)
	}

	fb.Fill(p.background())

	if p.opts.Settings.UILine {
		y := fb.Height / 4
		fb.FillRect(0, y, fb.Width, y+max(1, fb.Height/360), [4]byte{255, 255, 230, 255})
	}

	p.drawFlashes(fb)

	if p.opts.Settings.ShowProgressText && p.opts.VideoLength > 0 {
		progress := math.Min(math.Max(p.now/p.opts.VideoLength, 0), 1)
		h := max(2, fb.Height/120)
		fb.FillRect(0, fb.Height-h, int(progress*float64(fb.Width)), fb.Height, [4]byte{255, 255, 255, 200})
	}
	return nil
}

func (p *Pattern) background() [4]byte {
	if !p.opts.Settings.Background {
		return [4]byte{0, 0, 0, 255}
	}
	dim := 1 - math.Min(math.Max(p.opts.Info.BackgroundDim, 0), 1)
	phase := p.now * 0.25
	r := (0.5 + 0.5*math.Sin(phase)) * 96 * dim
	g := (0.5 + 0.5*math.Sin(phase+2.094)) * 96 * dim
	b := (0.5 + 0.5*math.Sin(phase+4.189)) * 96 * dim
	return [4]byte{byte(r), byte(g), byte(b), 255}
}

func (p *Pattern) drawFlashes(fb *gpu.Framebuffer) {
	t := p.chartTime()
	lo := sort.Search(len(p.notes), func(i int) bool { return p.notes[i].Time > t-flashDuration })
	laneWidth := max(1, fb.Width/laneCount)
	lineY := fb.Height / 4

	for i := lo; i < len(p.notes) && p.notes[i].Time <= t; i++ {
		n := p.notes[i]
		fade := 1 - (t-n.Time)/flashDuration
		lane := i % laneCount
		if p.opts.Settings.FlidX {
			lane = laneCount - 1 - lane
		}
		c := kindColor(n.Kind)
		for k := 0; k < 3; k++ {
			c[k] = byte(float64(c[k]) * fade)
		}
		x := lane * laneWidth
		fb.FillRect(x, lineY-laneWidth/4, x+laneWidth, lineY+laneWidth/4, c)
	}
}

func kindColor(k chart.NoteKind) [4]byte {
	switch k {
	case chart.NoteDrag:
		return [4]byte{240, 220, 80, 255}
	case chart.NoteFlick:
		return [4]byte{240, 80, 80, 255}
	case chart.NoteHold:
		return [4]byte{80, 220, 240, 255}
	}
	return [4]byte{80, 160, 255, 255}
}
