package gpu

import (
	"bytes"
	"errors"
	"testing"
)

// recordingDevice wraps a SoftDevice and checks the trailing-index invariant
// on every map.
type recordingDevice struct {
	*SoftDevice
	t       *testing.T
	ring    *Ring
	maps    int
	maxLag  int
	minLag  int
	mapped  []int
	failMap bool
}

func (d *recordingDevice) Map(slot int) ([]byte, error) {
	if d.failMap {
		return nil, errors.New("lost device")
	}
	if d.ring != nil {
		lag := int(d.ring.Written() - d.ring.Read())
		if d.maps == 0 || lag > d.maxLag {
			d.maxLag = lag
		}
		if d.maps == 0 || lag < d.minLag {
			d.minLag = lag
		}
	}
	d.maps++
	d.mapped = append(d.mapped, slot)
	return d.SoftDevice.Map(slot)
}

func frameWithID(w, h int, id byte) *Framebuffer {
	fb := NewFramebuffer(w, h)
	fb.Fill([4]byte{id, 0, 0, 255})
	return fb
}

func TestSlotCount(t *testing.T) {
	cases := []struct {
		fps, max, want int
	}{
		{60, 30, 30},
		{30, 30, 30},
		{24, 30, 24},
		{144, 30, 24},
		{59, 30, 1},
		{50, 30, 25},
		{1, 30, 1},
		{60, 0, 30},
	}
	for _, c := range cases {
		if got := SlotCount(c.fps, c.max); got != c.want {
			t.Errorf("SlotCount(%d, %d) = %d, want %d", c.fps, c.max, got, c.want)
		}
		if got := SlotCount(c.fps, c.max); c.fps%got != 0 {
			t.Errorf("SlotCount(%d, %d) = %d does not divide fps", c.fps, c.max, got)
		}
	}
}

func TestRing_DeliversEveryFrameInOrder(t *testing.T) {
	const w, h = 4, 2
	size := FrameSize(w, h)

	for _, n := range []int{1, 2, 5, 30} {
		for _, total := range []int{0, 1, n - 1, n, n + 1, 3*n + 2} {
			if total < 0 {
				continue
			}
			var out bytes.Buffer
			dev := &recordingDevice{SoftDevice: NewSoftDevice(n, size), t: t}
			var delivered []uint64
			ring := NewRing(dev, n, size, &out, func(frame uint64) error {
				delivered = append(delivered, frame)
				return nil
			})
			dev.ring = ring

			for k := 0; k < total; k++ {
				if err := ring.Push(frameWithID(w, h, byte(k))); err != nil {
					t.Fatalf("n=%d total=%d: push %d failed: %v", n, total, k, err)
				}
				if ring.Pending() > n-1 {
					t.Fatalf("n=%d: %d frames pending after push, want at most %d", n, ring.Pending(), n-1)
				}
			}
			if err := ring.Drain(); err != nil {
				t.Fatalf("n=%d total=%d: drain failed: %v", n, total, err)
			}

			if out.Len() != total*size {
				t.Fatalf("n=%d total=%d: wrote %d bytes, want %d", n, total, out.Len(), total*size)
			}
			for k := 0; k < total; k++ {
				if got := out.Bytes()[k*size]; got != byte(k) {
					t.Fatalf("n=%d total=%d: frame %d carries id %d", n, total, k, got)
				}
			}
			if len(delivered) != total {
				t.Fatalf("n=%d total=%d: %d frame callbacks", n, total, len(delivered))
			}
			if total > 0 && (dev.minLag < 1 || dev.maxLag > n) {
				t.Errorf("n=%d total=%d: read index trailed write by [%d,%d], want within [1,%d]", n, total, dev.minLag, dev.maxLag, n)
			}
			if ring.Pending() != 0 {
				t.Errorf("n=%d total=%d: %d frames left after drain", n, total, ring.Pending())
			}
		}
	}
}

func TestRing_DrainEmptiesFinalSlotsInRingOrder(t *testing.T) {
	const n, total = 4, 10
	size := FrameSize(1, 1)
	var out bytes.Buffer
	dev := &recordingDevice{SoftDevice: NewSoftDevice(n, size), t: t}
	ring := NewRing(dev, n, size, &out, nil)

	for k := 0; k < total; k++ {
		if err := ring.Push(frameWithID(1, 1, byte(k))); err != nil {
			t.Fatal(err)
		}
	}
	before := len(dev.mapped)
	if err := ring.Drain(); err != nil {
		t.Fatal(err)
	}

	drained := dev.mapped[before:]
	if len(drained) != n-1 {
		t.Fatalf("drain mapped %d slots, want %d", len(drained), n-1)
	}
	// Frames 7, 8, 9 live in slots 3, 0, 1.
	want := []int{3, 0, 1}
	for i := range want {
		if drained[i] != want[i] {
			t.Errorf("drain order %v, want %v", drained, want)
			break
		}
	}
}

func TestRing_RejectsWrongFrameSize(t *testing.T) {
	size := FrameSize(2, 2)
	ring := NewRing(NewSoftDevice(2, size), 2, size, &bytes.Buffer{}, nil)
	if err := ring.Push(NewFramebuffer(3, 3)); err == nil {
		t.Error("expected error for mismatched frame size")
	}
}

func TestRing_MapFailureSurfaces(t *testing.T) {
	size := FrameSize(1, 1)
	dev := &recordingDevice{SoftDevice: NewSoftDevice(1, size), t: t, failMap: true}
	ring := NewRing(dev, 1, size, &bytes.Buffer{}, nil)
	if err := ring.Push(NewFramebuffer(1, 1)); err == nil {
		t.Error("expected map failure to be returned from Push")
	}
}

func TestMSTarget_Resolve(t *testing.T) {
	single := NewMSTarget(2, 2, 1)
	if single.Multisampled() || single.Input() != single.Output() {
		t.Error("single-sampled target should render straight into its output")
	}

	ms := NewMSTarget(2, 2, 4)
	ms.Input().Fill([4]byte{9, 8, 7, 6})
	if ms.Output().At(1, 1) == ([4]byte{9, 8, 7, 6}) {
		t.Fatal("output changed before resolve")
	}
	ms.Resolve()
	if got := ms.Output().At(1, 1); got != ([4]byte{9, 8, 7, 6}) {
		t.Errorf("resolved pixel = %v", got)
	}
}

func TestFramebuffer_FillRectClips(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	fb.FillRect(-2, 2, 2, 10, [4]byte{1, 1, 1, 1})
	if fb.At(0, 3) != ([4]byte{1, 1, 1, 1}) || fb.At(1, 2) != ([4]byte{1, 1, 1, 1}) {
		t.Error("expected clipped rect to be painted")
	}
	if fb.At(2, 2) != ([4]byte{}) || fb.At(0, 1) != ([4]byte{}) {
		t.Error("painted outside the rect")
	}
}
