package model

// ChartInfo is the descriptive metadata that travels with a chart.
type ChartInfo struct {
	Name          string  `json:"name" yaml:"name"`
	Level         string  `json:"level" yaml:"level"`
	Charter       string  `json:"charter" yaml:"charter"`
	Composer      string  `json:"composer" yaml:"composer"`
	Illustrator   string  `json:"illustrator" yaml:"illustrator"`
	Tip           *string `json:"tip,omitempty" yaml:"tip,omitempty"`
	AspectRatio   float64 `json:"aspectRatio" yaml:"aspectRatio"`
	BackgroundDim float64 `json:"backgroundDim" yaml:"backgroundDim"`

	// Chart and Music are paths relative to the chart directory.
	Chart string `json:"chart,omitempty" yaml:"chart,omitempty"`
	Music string `json:"music,omitempty" yaml:"music,omitempty"`
}
