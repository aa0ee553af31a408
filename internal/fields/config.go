package fields

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldSelector picks the paragraphs after the last thematic break, where
// documents keep their metadata lines.
const FieldSelector = "thematicBreak:last-of-type ~ paragraph > text"

// Default returns the built-in descriptors.
func Default() []Descriptor {
	return []Descriptor{
		{Field: "topics", Selector: FieldSelector, Pattern: `^(Topics:\s*)(.*)`},
		{Field: "products", Selector: FieldSelector, Pattern: `^(Products:\s*)(.*)`},
	}
}

type fileConfig struct {
	Fields []Descriptor `yaml:"fields"`
}

// LoadFile reads descriptors from a YAML file of the form
//
//	fields:
//	  - field: topics
//	    selector: "thematicBreak:last-of-type ~ paragraph > text"
//	    pattern: '^(Topics:\s*)(.*)'
//
// A descriptor without a selector gets FieldSelector.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fields file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse fields file %s: %w", path, err)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("fields file %s: no fields defined", path)
	}
	for i := range cfg.Fields {
		if cfg.Fields[i].Selector == "" {
			cfg.Fields[i].Selector = FieldSelector
		}
	}
	return cfg.Fields, nil
}

// Load builds an Engine from the descriptors in path, or from Default when
// path is empty.
func Load(path string, opts ...Option) (*Engine, error) {
	descs := Default()
	if path != "" {
		var err error
		if descs, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	return New(descs, opts...)
}
