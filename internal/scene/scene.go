// Package scene defines the boundary between the frame driver and whatever
// draws the chart. The driver only ever asks a scene to update against the
// virtual clock and to render into a target.
package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/gpu"
	"github.com/phitk/render/internal/model"
)

// Clock is the time source a scene reads. During export it is driven by the
// frame counter, never by wall time.
type Clock interface {
	Now() float64
}

// Driver draws one frame per call pair.
type Driver interface {
	Update(clock Clock) error
	Render(fb *gpu.Framebuffer) error
}

// Options is everything a scene needs to draw a chart.
type Options struct {
	Width       int
	Height      int
	Notes       []chart.Note
	ChartOffset float64
	PreRoll     float64
	VideoLength float64
	Info        model.ChartInfo
	Settings    model.RenderSettings
}

// Factory builds a scene from options.
type Factory func(Options) (Driver, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a scene available by name. Registering a name twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("scene: Register called twice for %q", name))
	}
	factories[name] = f
}

// New builds the named scene.
func New(name string, opts Options) (Driver, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scene %q", name)
	}
	return f(opts)
}

// Names lists the registered scenes.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
