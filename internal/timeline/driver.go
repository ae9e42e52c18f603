package timeline

import (
	"context"
	"fmt"

	"github.com/phitk/render/internal/gpu"
	"github.com/phitk/render/internal/scene"
)

// FrameDriver steps a scene through every frame of the export and feeds the
// resolved frames to the readback ring.
type FrameDriver struct {
	Clock  *ManualClock
	Scene  scene.Driver
	Target *gpu.MSTarget
	Ring   *gpu.Ring
	FPS    int
}

// Run renders frames 0..total-1 and drains the ring. Frame k is rendered
// with the clock at k/fps.
func (d *FrameDriver) Run(ctx context.Context, total uint64) error {
	if d.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", d.FPS)
	}

	for k := uint64(0); k < total; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.Clock.Set(FrameTime(k, d.FPS))
		if err := d.Scene.Update(d.Clock); err != nil {
			return fmt.Errorf("frame %d: update failed: %w", k, err)
		}
		if err := d.Scene.Render(d.Target.Input()); err != nil {
			return fmt.Errorf("frame %d: render failed: %w", k, err)
		}
		d.Target.Resolve()

		if err := d.Ring.Push(d.Target.Output()); err != nil {
			return fmt.Errorf("frame %d: %w", k, err)
		}
	}

	return d.Ring.Drain()
}
