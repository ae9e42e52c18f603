package gpu

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxSlots caps the readback ring depth.
const DefaultMaxSlots = 30

var ErrSlotState = errors.New("readback slot in unexpected state")

type slotState uint8

const (
	slotFree slotState = iota
	slotGPU
	slotHost
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotGPU:
		return "gpu"
	case slotHost:
		return "host"
	}
	return "unknown"
}

// SlotCount picks the ring depth for a frame rate: the largest divisor of fps
// that does not exceed max, or 1.
func SlotCount(fps, max int) int {
	if max <= 0 {
		max = DefaultMaxSlots
	}
	n := fps
	if n > max {
		n = max
	}
	for ; n > 1; n-- {
		if fps%n == 0 {
			return n
		}
	}
	return 1
}

// Ring pipelines readbacks through N device slots so the transfer of frame k
// overlaps the rendering of frames k+1..k+N-1. Frames leave the ring in the
// order they entered it.
type Ring struct {
	dev       Device
	n         int
	frameSize int
	states    []slotState
	written   uint64
	read      uint64
	out       io.Writer
	onFrame   func(frame uint64) error
}

// NewRing binds a ring of n slots to dev. Every frame read back is written to
// out, then onFrame (if set) is called with the 1-based count of frames
// delivered so far.
func NewRing(dev Device, n, frameSize int, out io.Writer, onFrame func(frame uint64) error) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{
		dev:       dev,
		n:         n,
		frameSize: frameSize,
		states:    make([]slotState, n),
		out:       out,
		onFrame:   onFrame,
	}
}

// Slots returns the ring depth.
func (r *Ring) Slots() int { return r.n }

// Written is the number of readbacks requested.
func (r *Ring) Written() uint64 { return r.written }

// Read is the number of frames delivered to the writer.
func (r *Ring) Read() uint64 { return r.read }

// Pending is the number of requested frames not yet delivered.
func (r *Ring) Pending() int { return int(r.written - r.read) }

// Push requests the readback of fb into the next slot and, once N frames are
// in flight, delivers the oldest.
func (r *Ring) Push(fb *Framebuffer) error {
	if err := fb.checkSize(r.frameSize); err != nil {
		return err
	}

	slot := int(r.written % uint64(r.n))
	if r.states[slot] != slotFree {
		return fmt.Errorf("%w: slot %d is %s on request", ErrSlotState, slot, r.states[slot])
	}
	if err := r.dev.ReadPixels(fb, slot); err != nil {
		return fmt.Errorf("failed to request readback: %w", err)
	}
	r.states[slot] = slotGPU
	r.written++

	if r.Pending() >= r.n {
		return r.deliverOldest()
	}
	return nil
}

// Drain delivers every frame still in flight, oldest first. After the last
// Push at most N-1 frames remain.
func (r *Ring) Drain() error {
	for r.read < r.written {
		if err := r.deliverOldest(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ring) deliverOldest() error {
	slot := int(r.read % uint64(r.n))
	if r.states[slot] != slotGPU {
		return fmt.Errorf("%w: slot %d is %s on read", ErrSlotState, slot, r.states[slot])
	}

	data, err := r.dev.Map(slot)
	if err != nil {
		return fmt.Errorf("failed to map readback slot: %w", err)
	}
	r.states[slot] = slotHost

	if _, err := r.out.Write(data[:r.frameSize]); err != nil {
		_ = r.dev.Unmap(slot)
		r.states[slot] = slotFree
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if err := r.dev.Unmap(slot); err != nil {
		return fmt.Errorf("failed to unmap readback slot: %w", err)
	}
	r.states[slot] = slotFree
	r.read++

	if r.onFrame != nil {
		return r.onFrame(r.read)
	}
	return nil
}
