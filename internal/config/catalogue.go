package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalogue is the declarative description of an experiment deployment:
// which playlists exist, which blocks run on them and how blocks group into
// phases. It is loaded once at startup and written into the store.
type Catalogue struct {
	Playlists []PlaylistSpec `yaml:"playlists"`
	Phases    []PhaseSpec    `yaml:"phases"`
	Blocks    []BlockSpec    `yaml:"blocks"`
}

type PlaylistSpec struct {
	Name     string        `yaml:"name"`
	Sections []SectionSpec `yaml:"sections"`
}

type SectionSpec struct {
	Artist    string  `yaml:"artist"`
	Name      string  `yaml:"name"`
	Filename  string  `yaml:"filename"`
	StartTime float64 `yaml:"start_time"`
	Duration  float64 `yaml:"duration"`
	Tag       string  `yaml:"tag"`
	Group     string  `yaml:"group"`
}

type PhaseSpec struct {
	Name      string `yaml:"name"`
	Randomize bool   `yaml:"randomize"`
	Dashboard bool   `yaml:"dashboard"`
}

type BlockSpec struct {
	Slug        string   `yaml:"slug"`
	Rules       string   `yaml:"rules"`
	Rounds      int      `yaml:"rounds"`
	BonusPoints float64  `yaml:"bonus_points"`
	Phase       string   `yaml:"phase"`
	Index       int      `yaml:"index"`
	Playlists   []string `yaml:"playlists"`
}

func LoadCatalogue(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	defer f.Close()
	return ParseCatalogue(f)
}

func ParseCatalogue(r io.Reader) (*Catalogue, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalogue
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalogue) validate() error {
	playlists := map[string]bool{}
	for _, p := range c.Playlists {
		if p.Name == "" {
			return fmt.Errorf("catalogue: playlist without a name")
		}
		if playlists[p.Name] {
			return fmt.Errorf("catalogue: duplicate playlist %q", p.Name)
		}
		playlists[p.Name] = true
		for i, s := range p.Sections {
			if s.Filename == "" {
				return fmt.Errorf("catalogue: playlist %q section %d has no filename", p.Name, i)
			}
		}
	}

	phases := map[string]bool{}
	for _, p := range c.Phases {
		if p.Name == "" {
			return fmt.Errorf("catalogue: phase without a name")
		}
		if phases[p.Name] {
			return fmt.Errorf("catalogue: duplicate phase %q", p.Name)
		}
		phases[p.Name] = true
	}

	slugs := map[string]bool{}
	for _, b := range c.Blocks {
		if b.Slug == "" {
			return fmt.Errorf("catalogue: block without a slug")
		}
		if slugs[b.Slug] {
			return fmt.Errorf("catalogue: duplicate block %q", b.Slug)
		}
		slugs[b.Slug] = true
		if b.Rules == "" {
			return fmt.Errorf("catalogue: block %q has no rules id", b.Slug)
		}
		if b.Rounds < 0 {
			return fmt.Errorf("catalogue: block %q has negative rounds", b.Slug)
		}
		if b.Phase != "" && !phases[b.Phase] {
			return fmt.Errorf("catalogue: block %q references unknown phase %q", b.Slug, b.Phase)
		}
		for _, name := range b.Playlists {
			if !playlists[name] {
				return fmt.Errorf("catalogue: block %q references unknown playlist %q", b.Slug, name)
			}
		}
	}
	return nil
}
