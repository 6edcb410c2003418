package personas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"talkreel/internal/services"
)

// Persona is one selectable character.
type Persona struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Gender       string `yaml:"gender,omitempty" json:"gender,omitempty"`
	Avatar       string `yaml:"avatar,omitempty" json:"avatar,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Personality  string `yaml:"personality,omitempty" json:"personality,omitempty"`
	RefAudio     string `yaml:"ref_audio,omitempty" json:"ref_audio,omitempty"`
	RefAudioText string `yaml:"ref_audio_text,omitempty" json:"ref_audio_text,omitempty"`
	RefVideo     string `yaml:"ref_video,omitempty" json:"ref_video,omitempty"`
	ModelPath    string `yaml:"model_path,omitempty" json:"model_path,omitempty"`
}

// Settings holds catalog-wide choices.
type Settings struct {
	DefaultCharacter string `yaml:"default_character" json:"default_character"`
}

// Catalog is the persona file.
type Catalog struct {
	Characters []Persona `yaml:"characters" json:"characters"`
	Settings   Settings  `yaml:"settings" json:"settings"`
}

// Default returns the built-in catalog used when no file exists.
func Default() *Catalog {
	return &Catalog{
		Characters: []Persona{{
			ID:           "xiaoya",
			Name:         "小雅",
			Gender:       "female",
			Avatar:       "🌸",
			Description:  "温柔 · 甜美",
			Personality:  "温柔体贴，说话甜美",
			RefAudioText: "你好，我是小雅",
		}},
		Settings: Settings{DefaultCharacter: "xiaoya"},
	}
}

// Load reads the catalog at path. A missing file yields Default; a
// malformed one is a services.ErrConfiguration. Relative media paths are
// resolved against the catalog's directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "personas", "read catalog", path, err)
	}
	catalog, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	catalog.resolvePaths(filepath.Dir(path))
	return catalog, nil
}

// Parse decodes and validates a catalog. Unknown keys are rejected so typos
// surface at startup.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var catalog Catalog
	if err := dec.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrConfiguration, "personas", "parse catalog", "catalog is empty", nil)
		}
		return nil, services.Wrap(services.ErrConfiguration, "personas", "parse catalog", "", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks ids and the default character.
func (c *Catalog) Validate() error {
	if len(c.Characters) == 0 {
		return services.Wrap(services.ErrConfiguration, "personas", "validate", "catalog lists no characters", nil)
	}
	seen := make(map[string]struct{}, len(c.Characters))
	for i := range c.Characters {
		p := &c.Characters[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		if p.ID == "" {
			return services.Wrap(services.ErrConfiguration, "personas", "validate", fmt.Sprintf("character %d has no id", i+1), nil)
		}
		if p.Name == "" {
			return services.Wrap(services.ErrConfiguration, "personas", "validate", fmt.Sprintf("character %q has no name", p.ID), nil)
		}
		if _, dup := seen[p.ID]; dup {
			return services.Wrap(services.ErrConfiguration, "personas", "validate", fmt.Sprintf("duplicate character id %q", p.ID), nil)
		}
		seen[p.ID] = struct{}{}
	}
	def := strings.TrimSpace(c.Settings.DefaultCharacter)
	if def != "" {
		if _, ok := seen[def]; !ok {
			return services.Wrap(services.ErrConfiguration, "personas", "validate", fmt.Sprintf("default character %q is not defined", def), nil)
		}
	}
	c.Settings.DefaultCharacter = def
	return nil
}

// Lookup returns the persona with id.
func (c *Catalog) Lookup(id string) (Persona, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Characters {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// DefaultPersona returns the configured default, or the first character.
func (c *Catalog) DefaultPersona() Persona {
	if p, ok := c.Lookup(c.Settings.DefaultCharacter); ok {
		return p
	}
	if len(c.Characters) > 0 {
		return c.Characters[0]
	}
	return Persona{}
}

// Resolve returns the persona named by id, or the default when id is empty.
// An unknown id is a services.ErrValidation.
func (c *Catalog) Resolve(id string) (Persona, error) {
	if strings.TrimSpace(id) == "" {
		return c.DefaultPersona(), nil
	}
	p, ok := c.Lookup(id)
	if !ok {
		return Persona{}, services.Wrap(services.ErrValidation, "personas", "resolve", fmt.Sprintf("unknown persona %q", id), nil)
	}
	return p, nil
}

func (c *Catalog) resolvePaths(base string) {
	abs := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Characters {
		p := &c.Characters[i]
		p.RefAudio = abs(p.RefAudio)
		p.RefVideo = abs(p.RefVideo)
		p.ModelPath = abs(p.ModelPath)
	}
}
