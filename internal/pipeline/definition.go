package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FilterSpec is one entry of a pipeline definition.
type FilterSpec struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	AddTag    []string       `yaml:"add_tag"`
	RemoveTag []string       `yaml:"remove_tag"`
	Options   map[string]any `yaml:"options"`
}

// Definition is the on-disk form of a pipeline.
type Definition struct {
	ID      string       `yaml:"id"`
	Filters []FilterSpec `yaml:"filters"`
}

// ParseDefinition decodes a YAML pipeline definition. Unknown keys are rejected.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return Definition{}, errors.New("parse pipeline: empty definition")
		}
		return Definition{}, fmt.Errorf("parse pipeline: %w", err)
	}
	return def, nil
}

// LoadDefinition reads and decodes the definition at path.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadFile reads the definition at path and builds it.
func LoadFile(path string, reg *Registry, env Env, opts ...Option) (*Pipeline, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return Build(def, reg, env, opts...)
}
