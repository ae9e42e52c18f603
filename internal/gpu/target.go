package gpu

// MSTarget is a render target with an optional multisampled input surface.
// Scenes draw into Input; Resolve produces the single-sampled Output that is
// read back.
type MSTarget struct {
	samples int
	input   *Framebuffer
	output  *Framebuffer
}

// NewMSTarget creates a target of the given size. With samples <= 1 the input
// and output are the same surface and Resolve is a no-op.
func NewMSTarget(width, height, samples int) *MSTarget {
	out := NewFramebuffer(width, height)
	t := &MSTarget{samples: samples, input: out, output: out}
	if samples > 1 {
		t.input = NewFramebuffer(width, height)
	}
	return t
}

// Multisampled reports whether Resolve has work to do.
func (t *MSTarget) Multisampled() bool { return t.samples > 1 }

// Samples returns the sample count.
func (t *MSTarget) Samples() int { return t.samples }

// Input is the surface scenes render into.
func (t *MSTarget) Input() *Framebuffer { return t.input }

// Output is the resolved surface.
func (t *MSTarget) Output() *Framebuffer { return t.output }

// Resolve blits the multisampled input into the output.
func (t *MSTarget) Resolve() {
	if !t.Multisampled() {
		return
	}
	copy(t.output.Pix, t.input.Pix)
}
