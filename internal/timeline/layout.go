// Package timeline owns the export's notion of time: how long the video is,
// where the music and notes sit on it, and the virtual clock that advances
// one frame at a time.
package timeline

import "math"

// Constants are the fixed lengths around the gameplay section.
type Constants struct {
	// LoadingTime is shown before gameplay unless loading is disabled.
	LoadingTime float64
	// BeforeTime is the lead-in between the loading screen and the chart.
	BeforeTime float64
	// Tail runs past the end of the track before the ending clip starts.
	Tail float64
	// Fade shortens the video relative to the tail (negative trims).
	Fade float64
	// EndingWait is the minimum ending length for which the ending clip loops.
	EndingWait float64
}

// DefaultConstants match the stock game scene timings.
func DefaultConstants() Constants {
	return Constants{
		LoadingTime: 2.55,
		BeforeTime:  0.7,
		Tail:        1.0,
		Fade:        -0.5,
		EndingWait:  1.2,
	}
}

// Layout is the fixed timeline of one export, computed once per job.
type Layout struct {
	PreRoll     float64 `json:"preRoll"`
	Track       float64 `json:"track"`
	ChartOffset float64 `json:"chartOffset"`
	Gameplay    float64 `json:"gameplay"`
	Tail        float64 `json:"tail"`
	Fade        float64 `json:"fade"`
	Ending      float64 `json:"ending"`
	EndingWait  float64 `json:"endingWait"`
	VideoLength float64 `json:"videoLength"`
}

// NewLayout lays out a track of the given length. A negative chart offset
// delays the music, extending gameplay by the same amount.
func NewLayout(c Constants, track, chartOffset, ending float64, disableLoading bool) Layout {
	preRoll := c.BeforeTime
	if !disableLoading {
		preRoll += c.LoadingTime
	}
	gameplay := track - math.Min(chartOffset, 0)
	l := Layout{
		PreRoll:     preRoll,
		Track:       track,
		ChartOffset: chartOffset,
		Gameplay:    gameplay,
		Tail:        c.Tail,
		Fade:        c.Fade,
		Ending:      ending,
		EndingWait:  c.EndingWait,
	}
	l.VideoLength = preRoll + gameplay + c.Tail + c.Fade + ending
	if l.VideoLength < 0 {
		l.VideoLength = 0
	}
	return l
}

// TotalFrames is ceil(VideoLength * fps). A tiny epsilon keeps exact
// products such as 10s at 60fps from rounding up through float noise.
func (l Layout) TotalFrames(fps int) uint64 {
	if fps <= 0 || l.VideoLength <= 0 {
		return 0
	}
	return uint64(math.Ceil(l.VideoLength*float64(fps) - 1e-9))
}

// MusicStart is where the first music sample lands.
func (l Layout) MusicStart() float64 {
	return l.PreRoll - math.Min(l.ChartOffset, 0)
}

// MusicSpan is how much of the music track is scanned into the program.
func (l Layout) MusicSpan() float64 {
	return l.Track + l.Tail + l.Fade + l.Ending
}

// EndingStart is where the ending clip first plays.
func (l Layout) EndingStart() float64 {
	return l.PreRoll + l.Gameplay + l.Tail
}

// EndingLoops reports whether the ending clip should be laid down at all.
func (l Layout) EndingLoops() bool {
	return l.Ending > l.EndingWait
}

// NoteTime maps a note's chart time to video time.
func (l Layout) NoteTime(t float64) float64 {
	return l.PreRoll + t + math.Max(l.ChartOffset, 0)
}

// FrameTime is the virtual clock value of frame k.
func FrameTime(k uint64, fps int) float64 {
	return float64(k) / float64(fps)
}
