package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultPlan is the phase order used when no plan file is configured.
var DefaultPlan = []string{
	"ingestion",
	"preprocess",
	"forensics",
	"parsing_chunking",
	"indexing",
	"fact_extraction",
	"timeline",
	"legal_theories",
	"strategy",
	"drafting",
	"qa_review",
}

// Plan is the workflow plan file.
//
//	phases:
//	  - ingestion
//	  - timeline
type Plan struct {
	Phases []string `yaml:"phases"`
}

// LoadPlan reads the phase list from a YAML plan file. An empty path yields
// DefaultPlan.
func LoadPlan(path string) ([]string, error) {
	if path == "" {
		return slices.Clone(DefaultPlan), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	if len(plan.Phases) == 0 {
		return nil, errors.New("plan file lists no phases")
	}

	seen := make(map[string]bool, len(plan.Phases))
	for _, phase := range plan.Phases {
		if phase == "" {
			return nil, errors.New("plan file contains an empty phase name")
		}
		if seen[phase] {
			return nil, fmt.Errorf("plan file lists phase %q twice", phase)
		}
		seen[phase] = true
	}
	return plan.Phases, nil
}
