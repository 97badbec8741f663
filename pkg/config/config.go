// Package config provides configuration loading and management for
// pmapcut. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"pmapcut/pkg/segmentation"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Segmentation parameters, one field per pipeline knob.
	Segmentation struct {
		// Beta biases the multicut toward over- or under-segmentation.
		Beta float64 `yaml:"beta"`

		// RunWatershed generates superpixels from the probability map.
		RunWatershed bool `yaml:"runWatershed"`

		// SliceBySlice runs the watershed per z-slice instead of in 3D.
		SliceBySlice bool `yaml:"sliceBySlice"`

		// Threshold is the boundary probability cutoff for watershed seeding.
		Threshold float64 `yaml:"threshold"`

		// MinSize is the minimum superpixel size enforced by the watershed.
		MinSize int `yaml:"minSize"`

		// SmoothingSigma is the Gaussian scale for seed smoothing.
		SmoothingSigma float64 `yaml:"smoothingSigma"`

		// WeightSmoothingSigma optionally smooths the flooding weights.
		WeightSmoothingSigma float64 `yaml:"weightSmoothingSigma"`

		// PostMinSize is the minimum segment size enforced after multicut.
		PostMinSize int `yaml:"postMinSize"`

		// MaxIterations caps the multicut local search.
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"segmentation"`

	// Processing parameters.
	Processing struct {
		// Workers bounds the goroutines used by the parallel stages and
		// the number of volumes processed concurrently.
		Workers int `yaml:"workers"`
	} `yaml:"processing"`

	// Output parameters.
	Output struct {
		// SaveDirectory is the subdirectory created next to each input
		// for the segmentation files.
		SaveDirectory string `yaml:"saveDirectory"`

		// SavePreview writes colorized preview images alongside the
		// segmentation.
		SavePreview bool `yaml:"savePreview"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	p := segmentation.DefaultParams()

	cfg.Segmentation.Beta = p.Beta
	cfg.Segmentation.RunWatershed = p.RunWatershed
	cfg.Segmentation.SliceBySlice = p.SliceBySlice
	cfg.Segmentation.Threshold = p.Threshold
	cfg.Segmentation.MinSize = p.MinSize
	cfg.Segmentation.SmoothingSigma = p.Sigma
	cfg.Segmentation.WeightSmoothingSigma = p.WeightSigma
	cfg.Segmentation.PostMinSize = p.PostMinSize
	cfg.Segmentation.MaxIterations = p.MaxIterations

	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Output.SaveDirectory = "multicut"
	cfg.Output.SavePreview = false

	return cfg
}

// Params converts the configuration into pipeline parameters.
func (c *Config) Params() segmentation.Params {
	return segmentation.Params{
		Beta:          c.Segmentation.Beta,
		RunWatershed:  c.Segmentation.RunWatershed,
		SliceBySlice:  c.Segmentation.SliceBySlice,
		Threshold:     c.Segmentation.Threshold,
		MinSize:       c.Segmentation.MinSize,
		Sigma:         c.Segmentation.SmoothingSigma,
		WeightSigma:   c.Segmentation.WeightSmoothingSigma,
		PostMinSize:   c.Segmentation.PostMinSize,
		MaxIterations: c.Segmentation.MaxIterations,
		Workers:       c.Processing.Workers,
	}
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
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
