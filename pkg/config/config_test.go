package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellmatch/pkg/matching"
	"cellmatch/pkg/transform"
)

const sampleYAML = `
processing:
  numWorkers: 2
  failFast: true
matching:
  strategy: hungarian
  maxDistanceUm: 7.5
output:
  dir: out
  logFormat: json
specimens:
  - name: m01
    source:
      name: confocal
      labels: m01/conf.npy
      spacing: {dz: 1.0, dy: 0.2, dx: 0.2}
    target:
      name: 2p
      labels: m01/2p.npy
      spacing: {DZ: 2.0, DY: 0.6, DX: 0.6}
    transform:
      operator: ants
      steps:
        - {name: m01/1Warp.nii.gz, invert: false}
        - {name: m01/0GenericAffine.mat, invert: true}
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellmatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "nearest-neighbor", cfg.Matching.Strategy)
	assert.Equal(t, 5.0, cfg.Matching.MaxDistanceUm)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Processing.NumWorkers)
	assert.True(t, cfg.Processing.FailFast)
	assert.Equal(t, 7.5, cfg.Matching.MaxDistanceUm)
	// unset keys keep their defaults
	assert.Equal(t, 1, cfg.Matching.MinOverlapVoxels)
	assert.True(t, cfg.Output.SaveOverview)

	strategy, err := cfg.StrategyValue()
	require.NoError(t, err)
	assert.Equal(t, matching.OptimalAssignment, strategy)

	require.Len(t, cfg.Specimens, 1)
	s := cfg.Specimens[0]
	tgt, err := s.Target.SpacingValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0.6, 0.6}, tgt.Native())

	steps, err := s.Transform.ChainSteps()
	require.NoError(t, err)
	assert.Equal(t, []transform.Step{
		{Name: "m01/1Warp.nii.gz", Invert: false},
		{Name: "m01/0GenericAffine.mat", Invert: true},
	}, steps)
}

func TestInfiniteGate(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "matching:\n  maxDistanceUm: .inf\n"))
	require.NoError(t, err)
	assert.True(t, math.IsInf(cfg.Matching.MaxDistanceUm, 1))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{"bad strategy", "matching:\n  strategy: greedy\n", "greedy"},
		{"negative gate", "matching:\n  maxDistanceUm: -1\n", "maxDistanceUm"},
		{"bad log format", "output:\n  logFormat: xml\n", "logFormat"},
		{"no workers", "processing:\n  numWorkers: 0\n", "numWorkers"},
		{"missing invert", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
    transform:
      operator: ants
      steps: [{name: warp.nii.gz}]
`, "invert must be set"},
		{"bad spacing", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 0, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
`, "dy"},
		{"mixed dimensionality", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dz: 1, dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
`, "3D"},
		{"affine without matrix", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
    transform:
      operator: affine
      steps: [{name: shift, invert: false}]
`, "no matrix"},
		{"duplicate names", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
`, "duplicate"},
		{"unknown operator", `
specimens:
  - name: a
    source: {name: s, labels: s.npy, spacing: {dy: 1, dx: 1}}
    target: {name: t, labels: t.npy, spacing: {dy: 1, dx: 1}}
    transform: {operator: elastix}
`, "elastix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestCreateDefaultConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cellmatch.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Specimens, 1)
	assert.Equal(t, OperatorANTs, cfg.Specimens[0].Transform.Operator)

	steps, err := cfg.Specimens[0].Transform.ChainSteps()
	require.NoError(t, err)
	assert.False(t, steps[0].Invert)
	assert.True(t, steps[1].Invert)

	cfg.Matching.Strategy = "optimal-assignment"
	require.NoError(t, SaveConfig(cfg, path))
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
