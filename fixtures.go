package dci

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadQueryConfig reads a QueryConfig from a YAML file at path, using the
// same field tags a caller would write by hand in a QueryConfig literal.
// It is meant for benchmark and fixture-driven tests that want their
// query parameters checked into the repo rather than hardcoded.
func LoadQueryConfig(path string) (QueryConfig, error) {
	var cfg QueryConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("dci: reading query config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("dci: parsing query config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConstructionConfig reads a ConstructionConfig from a YAML file at
// path, in the same shape LoadQueryConfig uses.
func LoadConstructionConfig(path string) (ConstructionConfig, error) {
	var cfg ConstructionConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("dci: reading construction config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("dci: parsing construction config %q: %w", path, err)
	}
	return cfg, nil
}
