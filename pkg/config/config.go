// Package config provides configuration loading and management for cellmatch.
// It handles loading configuration from YAML files, provides default values
// and converts the loosely typed sections into validated values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"cellmatch/pkg/matching"
	"cellmatch/pkg/spacing"
	"cellmatch/pkg/transform"
)

// Operator names accepted in a specimen's transform section
const (
	OperatorIdentity = "identity"
	OperatorAffine   = "affine"
	OperatorANTs     = "ants"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds how many specimens are processed at once
		NumWorkers int `yaml:"numWorkers"`

		// FailFast cancels the remaining specimens after the first failure
		FailFast bool `yaml:"failFast"`
	} `yaml:"processing"`

	// Matching parameters
	Matching struct {
		// Strategy is nearest-neighbor (nn) or optimal-assignment (hungarian)
		Strategy string `yaml:"strategy"`

		// MaxDistanceUm is the distance gate in microns; .inf accepts all
		MaxDistanceUm float64 `yaml:"maxDistanceUm"`

		// MinOverlapVoxels filters the label overlap table
		MinOverlapVoxels int `yaml:"minOverlapVoxels"`
	} `yaml:"matching"`

	// Output parameters
	Output struct {
		// Dir receives one subdirectory per specimen
		Dir string `yaml:"dir"`

		SaveWarpedLabels bool `yaml:"saveWarpedLabels"`
		SaveQCSlices     bool `yaml:"saveQCSlices"`
		SaveOverview     bool `yaml:"saveOverview"`

		// MetricsTextfile is written in Prometheus text format after a run
		MetricsTextfile string `yaml:"metricsTextfile"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	Specimens []Specimen `yaml:"specimens"`
}

// Specimen pairs two modalities of one sample with the transform between them
type Specimen struct {
	Name      string    `yaml:"name"`
	Source    Modality  `yaml:"source"`
	Target    Modality  `yaml:"target"`
	Transform Transform `yaml:"transform"`
}

// Modality is one segmented acquisition
type Modality struct {
	Name    string             `yaml:"name"`
	Labels  string             `yaml:"labels"`
	Spacing map[string]float64 `yaml:"spacing"`
}

// Transform describes how source points reach the target frame
type Transform struct {
	// Operator is identity, affine or ants
	Operator string `yaml:"operator"`

	// Steps are listed most specific first; every step states its direction
	Steps []TransformStep `yaml:"steps"`

	// Affines holds the named homogeneous matrices of the affine operator
	Affines map[string][][]float64 `yaml:"affines,omitempty"`

	// Binary overrides the antsApplyTransformsToPoints executable
	Binary string `yaml:"binary,omitempty"`
}

// TransformStep is one entry of the chain. Invert has no default.
type TransformStep struct {
	Name   string `yaml:"name"`
	Invert *bool  `yaml:"invert"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.FailFast = false

	cfg.Matching.Strategy = matching.NearestNeighbor.String()
	cfg.Matching.MaxDistanceUm = 5.0
	cfg.Matching.MinOverlapVoxels = 1

	cfg.Output.Dir = "cellmatch_out"
	cfg.Output.SaveWarpedLabels = true
	cfg.Output.SaveQCSlices = false
	cfg.Output.SaveOverview = true
	cfg.Output.LogFormat = "text"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile writes the defaults plus one example specimen
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	forward, inverse := false, true
	cfg.Specimens = []Specimen{{
		Name: "specimen01",
		Source: Modality{
			Name:    "confocal",
			Labels:  "specimen01/confocal_labels.npy",
			Spacing: map[string]float64{"dz": 1.0, "dy": 0.2, "dx": 0.2},
		},
		Target: Modality{
			Name:    "2p",
			Labels:  "specimen01/2p_labels.npy",
			Spacing: map[string]float64{"dz": 2.0, "dy": 0.6, "dx": 0.6},
		},
		Transform: Transform{
			Operator: OperatorANTs,
			Steps: []TransformStep{
				{Name: "specimen01/conf_to_2p_1Warp.nii.gz", Invert: &forward},
				{Name: "specimen01/conf_to_2p_0GenericAffine.mat", Invert: &inverse},
			},
		},
	}}
	return SaveConfig(cfg, configPath)
}

// Validate checks every section and every specimen
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if _, err := c.StrategyValue(); err != nil {
		return fmt.Errorf("matching.strategy: %w", err)
	}
	if g := c.Matching.MaxDistanceUm; math.IsNaN(g) || g < 0 {
		return fmt.Errorf("matching.maxDistanceUm must be non-negative, got %g", g)
	}
	if c.Matching.MinOverlapVoxels < 0 {
		return fmt.Errorf("matching.minOverlapVoxels must be non-negative, got %d", c.Matching.MinOverlapVoxels)
	}
	switch strings.ToLower(c.Output.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("output.logFormat must be text or json, got %q", c.Output.LogFormat)
	}

	seen := make(map[string]bool, len(c.Specimens))
	for i, s := range c.Specimens {
		if s.Name == "" {
			return fmt.Errorf("specimens[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("specimens[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("specimens[%d] (%s): %w", i, s.Name, err)
		}
	}
	return nil
}

// StrategyValue parses matching.strategy
func (c *Config) StrategyValue() (matching.Strategy, error) {
	return matching.ParseStrategy(c.Matching.Strategy)
}

// Validate checks both modalities and the transform chain
func (s Specimen) Validate() error {
	src, err := s.Source.SpacingValue()
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	tgt, err := s.Target.SpacingValue()
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if src.NDim() != tgt.NDim() {
		return fmt.Errorf("source spacing is %dD but target spacing is %dD", src.NDim(), tgt.NDim())
	}
	if s.Source.Labels == "" {
		return fmt.Errorf("source.labels is required")
	}
	if s.Target.Labels == "" {
		return fmt.Errorf("target.labels is required")
	}
	if _, err := s.Transform.ChainSteps(); err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	return s.Transform.validateOperator()
}

// SpacingValue converts the spacing mapping into a validated Spacing
func (m Modality) SpacingValue() (spacing.Spacing, error) {
	if len(m.Spacing) == 0 {
		return spacing.Spacing{}, fmt.Errorf("modality %q has no spacing", m.Name)
	}
	return spacing.FromMapping(m.Spacing)
}

// ChainSteps converts the configured chain, requiring an explicit invert
// flag on every step.
func (t Transform) ChainSteps() ([]transform.Step, error) {
	steps := make([]transform.Step, len(t.Steps))
	for i, s := range t.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("steps[%d].name is required", i)
		}
		if s.Invert == nil {
			return nil, fmt.Errorf("steps[%d] (%s): invert must be set to true or false", i, s.Name)
		}
		steps[i] = transform.Step{Name: s.Name, Invert: *s.Invert}
	}
	return steps, nil
}

func (t Transform) validateOperator() error {
	switch t.Operator {
	case OperatorIdentity, "":
		if len(t.Steps) > 0 {
			return fmt.Errorf("identity transform cannot have steps")
		}
	case OperatorAffine:
		for _, s := range t.Steps {
			if _, ok := t.Affines[s.Name]; !ok {
				return fmt.Errorf("affine step %q has no matrix in affines", s.Name)
			}
		}
	case OperatorANTs:
		if len(t.Steps) == 0 {
			return fmt.Errorf("ants transform needs at least one step")
		}
	default:
		return fmt.Errorf("unknown operator %q (want %s, %s or %s)", t.Operator, OperatorIdentity, OperatorAffine, OperatorANTs)
	}
	return nil
}
