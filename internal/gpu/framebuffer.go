// Package gpu holds the render target and pixel readback primitives the frame
// driver uses. Buffers are RGBA8 with the first row at the bottom of the
// image, the same layout a GL readback produces; the encoder flips it.
package gpu

import "fmt"

// Framebuffer is a tightly packed RGBA8 image.
type Framebuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFramebuffer allocates a cleared framebuffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		Width:  width,
		Height: height,
		Pix:    make([]byte, FrameSize(width, height)),
	}
}

// FrameSize is the byte size of one RGBA8 frame.
func FrameSize(width, height int) int {
	return width * height * 4
}

// Fill paints every pixel with c.
func (f *Framebuffer) Fill(c [4]byte) {
	if len(f.Pix) == 0 {
		return
	}
	copy(f.Pix[:4], c[:])
	for filled := 4; filled < len(f.Pix); filled *= 2 {
		copy(f.Pix[filled:], f.Pix[:filled])
	}
}

// FillRect paints the rectangle [x0,x1)x[y0,y1), clipped to the buffer. y
// counts rows from the bottom.
func (f *Framebuffer) FillRect(x0, y0, x1, y1 int, c [4]byte) {
	x0, x1 = clamp(x0, 0, f.Width), clamp(x1, 0, f.Width)
	y0, y1 = clamp(y0, 0, f.Height), clamp(y1, 0, f.Height)
	if x0 >= x1 || y0 >= y1 {
		return
	}
	for y := y0; y < y1; y++ {
		row := f.Pix[(y*f.Width+x0)*4 : (y*f.Width+x1)*4]
		for i := 0; i < len(row); i += 4 {
			copy(row[i:i+4], c[:])
		}
	}
}

// At returns the pixel at (x, y), y from the bottom.
func (f *Framebuffer) At(x, y int) [4]byte {
	var c [4]byte
	i := (y*f.Width + x) * 4
	copy(c[:], f.Pix[i:i+4])
	return c
}

func (f *Framebuffer) checkSize(size int) error {
	if len(f.Pix) != size {
		return fmt.Errorf("framebuffer is %d bytes, expected %d", len(f.Pix), size)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
