// Package preset keeps named render settings in a YAML file.
package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/phitk/render/internal/model"
)

// DefaultName is the built-in preset; it always resolves and cannot be
// added or removed.
const DefaultName = "default"

var (
	ErrExists   = errors.New("preset already exists")
	ErrNotFound = errors.New("preset not found")
	ErrReserved = errors.New("preset name is reserved")
)

// Preset is a named settings snapshot.
type Preset struct {
	Name     string               `json:"name" yaml:"name"`
	Settings model.RenderSettings `json:"settings" yaml:"settings"`
}

type file struct {
	Presets map[string]model.RenderSettings `yaml:"presets"`
}

// Store is a preset file. Every change is written back immediately.
type Store struct {
	mu      sync.RWMutex
	path    string
	presets map[string]model.RenderSettings
}

// Open loads the preset file at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, presets: make(map[string]model.RenderSettings)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, settings := range f.Presets {
		s.presets[name] = settings
	}
	return s, nil
}

// List returns every preset, the default first and the rest by name.
func (s *Store) List() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []Preset{{Name: DefaultName, Settings: model.DefaultRenderSettings()}}
	for _, name := range names {
		out = append(out, Preset{Name: name, Settings: s.presets[name].Clone()})
	}
	return out
}

// Get resolves a preset. The empty name and DefaultName give the default
// settings.
func (s *Store) Get(name string) (model.RenderSettings, error) {
	if name == "" || name == DefaultName {
		return model.DefaultRenderSettings(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.presets[name]
	if !ok {
		return model.RenderSettings{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return settings.Clone(), nil
}

// Add stores a new preset.
func (s *Store) Add(name string, settings model.RenderSettings) error {
	if name == "" || name == DefaultName {
		return fmt.Errorf("%w: %q", ErrReserved, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.presets[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	s.presets[name] = settings.Clone()
	if err := s.flush(); err != nil {
		delete(s.presets, name)
		return err
	}
	return nil
}

// Remove deletes a preset.
func (s *Store) Remove(name string) error {
	if name == DefaultName {
		return fmt.Errorf("%w: %q", ErrReserved, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.presets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.presets, name)
	if err := s.flush(); err != nil {
		s.presets[name] = old
		return err
	}
	return nil
}

// flush writes the file through a temp file and rename. Caller holds mu.
func (s *Store) flush() error {
	data, err := yaml.Marshal(file{Presets: s.presets})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	return os.Rename(tmp, s.path)
}
