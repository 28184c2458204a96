package backlog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk backlog produced by the planning step.
type Document struct {
	Epics []WorkGroup `yaml:"epics" json:"epics"`
}

// Load reads a YAML backlog from path and returns its validated epics.
func Load(path string) ([]WorkGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backlog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into validated epics.
func Parse(data []byte) ([]WorkGroup, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backlog: parse: %w", err)
	}
	if err := Validate(doc.Epics); err != nil {
		return nil, err
	}
	return doc.Epics, nil
}

// Validate checks that every epic and story is identified and that story
// IDs are unique across the whole backlog. Empty epics are allowed.
func Validate(groups []WorkGroup) error {
	var errs []string
	seen := make(map[string]bool)
	for i, g := range groups {
		if g.ID == "" {
			errs = append(errs, fmt.Sprintf("epics[%d].id is required", i))
		}
		for j, it := range g.Items {
			if it.ID == "" {
				errs = append(errs, fmt.Sprintf("epics[%d].stories[%d].id is required", i, j))
				continue
			}
			if it.Title == "" {
				errs = append(errs, fmt.Sprintf("epics[%d].stories[%d].title is required", i, j))
			}
			if seen[it.ID] {
				errs = append(errs, fmt.Sprintf("duplicate story id %q", it.ID))
			}
			seen[it.ID] = true
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("backlog: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
