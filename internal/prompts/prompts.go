// internal/prompts/prompts.go
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinYAML []byte

// Preset is one named system prompt plus generation settings.
type Preset struct {
	Name        string  `yaml:"-" json:"name"`
	Description string  `yaml:"description" json:"description"`
	System      string  `yaml:"system" json:"-"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

type presetFile struct {
	Default string            `yaml:"default"`
	Presets map[string]Preset `yaml:"presets"`
}

// Store holds the presets. It is read-only after construction.
type Store struct {
	presets map[string]Preset
	def     string
}

// Builtin returns the presets compiled into the binary.
func Builtin() *Store {
	s, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded presets.yaml: %v", err))
	}
	return s
}

// Parse decodes a presets document.
func Parse(data []byte) (*Store, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	s := &Store{presets: make(map[string]Preset, len(f.Presets)), def: f.Default}
	for name, p := range f.Presets {
		if strings.TrimSpace(p.System) == "" {
			return nil, fmt.Errorf("preset %q has no system prompt", name)
		}
		p.Name = name
		s.presets[name] = p
	}
	if s.def != "" {
		if _, ok := s.presets[s.def]; !ok {
			return nil, fmt.Errorf("default preset %q is not defined", s.def)
		}
	}
	return s, nil
}

// Load returns the builtin presets overlaid with the file at path.
// An empty path returns the builtin set.
func Load(path string) (*Store, error) {
	base := Builtin()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for name, p := range override.presets {
		base.presets[name] = p
	}
	if override.def != "" {
		base.def = override.def
	}
	return base, nil
}

// Get looks up a preset; an empty name means the default preset.
func (s *Store) Get(name string) (Preset, bool) {
	if name == "" {
		name = s.def
	}
	p, ok := s.presets[name]
	return p, ok
}

func (s *Store) Default() string {
	return s.def
}

// Names returns the preset names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all presets sorted by name.
func (s *Store) List() []Preset {
	out := make([]Preset, 0, len(s.presets))
	for _, name := range s.Names() {
		out = append(out, s.presets[name])
	}
	return out
}
