package gpu

import (
	"errors"
	"fmt"
)

var ErrSlotRange = errors.New("readback slot out of range")

// Device issues asynchronous pixel transfers into a fixed set of host-visible
// slots. Map blocks until the transfer into that slot has completed.
type Device interface {
	ReadPixels(src *Framebuffer, slot int) error
	Map(slot int) ([]byte, error)
	Unmap(slot int) error
	Close() error
}

// SoftDevice emulates a pixel-pack transfer on host memory. Each ReadPixels
// copies on its own goroutine and signals a per-slot fence.
type SoftDevice struct {
	slots  [][]byte
	fences []chan struct{}
}

// NewSoftDevice allocates n slots of frameSize bytes.
func NewSoftDevice(n, frameSize int) *SoftDevice {
	d := &SoftDevice{
		slots:  make([][]byte, n),
		fences: make([]chan struct{}, n),
	}
	for i := range d.slots {
		d.slots[i] = make([]byte, frameSize)
	}
	return d
}

func (d *SoftDevice) ReadPixels(src *Framebuffer, slot int) error {
	if slot < 0 || slot >= len(d.slots) {
		return fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	if err := src.checkSize(len(d.slots[slot])); err != nil {
		return err
	}
	if d.fences[slot] != nil {
		return fmt.Errorf("slot %d still has a transfer in flight", slot)
	}

	// The source is reused for the next frame as soon as this returns, so take
	// the snapshot before handing off to the transfer goroutine.
	snapshot := append([]byte(nil), src.Pix...)
	fence := make(chan struct{})
	d.fences[slot] = fence
	dst := d.slots[slot]
	go func() {
		copy(dst, snapshot)
		close(fence)
	}()
	return nil
}

func (d *SoftDevice) Map(slot int) ([]byte, error) {
	if slot < 0 || slot >= len(d.slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	fence := d.fences[slot]
	if fence == nil {
		return nil, fmt.Errorf("slot %d has no pending transfer", slot)
	}
	<-fence
	return d.slots[slot], nil
}

func (d *SoftDevice) Unmap(slot int) error {
	if slot < 0 || slot >= len(d.slots) {
		return fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	d.fences[slot] = nil
	return nil
}

func (d *SoftDevice) Close() error {
	for i, f := range d.fences {
		if f != nil {
			<-f
			d.fences[i] = nil
		}
	}
	return nil
}
