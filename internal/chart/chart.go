// Package chart loads the minimal chart data the render pipeline needs: the
// chart offset, the note list and where the music lives.
package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phitk/render/internal/model"
)

// NoteKind is the gameplay kind of a note.
type NoteKind string

const (
	NoteClick NoteKind = "click"
	NoteHold  NoteKind = "hold"
	NoteDrag  NoteKind = "drag"
	NoteFlick NoteKind = "flick"
)

// Note is one scheduled note. Time is in chart seconds.
type Note struct {
	Time float64  `json:"time"`
	Kind NoteKind `json:"kind"`
	Fake bool     `json:"fake,omitempty"`
}

// Chart is the loaded chart.
type Chart struct {
	Offset float64         `json:"offset"`
	Music  string          `json:"music"`
	Notes  []Note          `json:"notes"`
	Info   model.ChartInfo `json:"info"`

	// Dir is the directory chart-relative paths resolve against.
	Dir string `json:"-"`
}

var ErrNoChart = errors.New("chart file not found")

// DefaultFile is the chart file looked up inside a chart directory.
const DefaultFile = "chart.json"

// Loader is the boundary to chart parsing.
type Loader interface {
	Load(ctx context.Context, path string, info model.ChartInfo) (*Chart, error)
}

// JSONLoader reads the pipeline's JSON chart format.
type JSONLoader struct{}

// Load reads a chart from a .json file or a directory holding one. Fields in
// info override what the file declares.
func (JSONLoader) Load(ctx context.Context, path string, info model.ChartInfo) (*Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := resolveFile(path, info.Chart)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart: %w", err)
	}

	var c Chart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse chart %s: %w", file, err)
	}

	for i, n := range c.Notes {
		switch n.Kind {
		case NoteClick, NoteHold, NoteDrag, NoteFlick:
		case "":
			c.Notes[i].Kind = NoteClick
		default:
			return nil, fmt.Errorf("note %d: unknown kind %q", i, n.Kind)
		}
	}

	c.Dir = filepath.Dir(file)
	if info.Music != "" {
		c.Music = info.Music
	}
	c.Info = mergeInfo(c.Info, info)
	if c.Info.Music == "" {
		c.Info.Music = c.Music
	}
	return &c, nil
}

// MusicPath returns the absolute path of the chart's music.
func (c *Chart) MusicPath() string {
	if c.Music == "" || filepath.IsAbs(c.Music) {
		return c.Music
	}
	return filepath.Join(c.Dir, c.Music)
}

// ReadInfo loads only the metadata of a chart.
func ReadInfo(ctx context.Context, path string) (model.ChartInfo, error) {
	c, err := JSONLoader{}.Load(ctx, path, model.ChartInfo{})
	if err != nil {
		return model.ChartInfo{}, err
	}
	if c.Info.Name == "" {
		c.Info.Name = model.JobName(c.Info, path)
	}
	return c.Info, nil
}

// ListFiles walks root and returns every chart-like file under it.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".zip", ".pek":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func resolveFile(path, name string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoChart, path)
		}
		return "", err
	}
	if !st.IsDir() {
		return path, nil
	}
	if name == "" {
		name = DefaultFile
	}
	file := filepath.Join(path, name)
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoChart, file)
	}
	return file, nil
}

func mergeInfo(base, over model.ChartInfo) model.ChartInfo {
	if over.Name != "" {
		base.Name = over.Name
	}
	if over.Level != "" {
		base.Level = over.Level
	}
	if over.Charter != "" {
		base.Charter = over.Charter
	}
	if over.Composer != "" {
		base.Composer = over.Composer
	}
	if over.Illustrator != "" {
		base.Illustrator = over.Illustrator
	}
	if over.Tip != nil {
		base.Tip = over.Tip
	}
	if over.AspectRatio != 0 {
		base.AspectRatio = over.AspectRatio
	}
	if over.BackgroundDim != 0 {
		base.BackgroundDim = over.BackgroundDim
	}
	if over.Chart != "" {
		base.Chart = over.Chart
	}
	if over.Music != "" {
		base.Music = over.Music
	}
	return base
}
