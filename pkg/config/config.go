// Package config provides configuration loading and management for ctseverity.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// SliceDir is the directory containing 2D CT slice images
		SliceDir string `yaml:"sliceDir"`

		// MaskDir is the directory containing binary masks paired with
		// the slices, used for segmentation training
		MaskDir string `yaml:"maskDir"`

		// ImageSize is the square resolution every slice and mask is
		// resized to before processing
		ImageSize int `yaml:"imageSize"`
	} `yaml:"input"`

	// Feature extraction parameters
	Features struct {
		// ModelPath is the ONNX graph of the pretrained backbone with
		// its classification head removed
		ModelPath string `yaml:"modelPath"`

		// MetadataPath is the JSON sidecar describing tensor shapes
		MetadataPath string `yaml:"metadataPath"`

		// ReducedDims is the output dimensionality of the PCA projection
		ReducedDims int `yaml:"reducedDims"`
	} `yaml:"features"`

	// Segmentation training parameters
	Segmentation struct {
		// BaseFilters is the channel count of the first U-Net level
		BaseFilters int `yaml:"baseFilters"`

		// Dropout is the dropout rate inside convolutional blocks;
		// zero disables dropout
		Dropout float64 `yaml:"dropout"`

		// Epochs is the fixed training epoch budget
		Epochs int `yaml:"epochs"`

		// BatchSize is the minibatch size for gradient descent
		BatchSize int `yaml:"batchSize"`

		// LearningRate and Momentum configure the SGD optimizer
		LearningRate float64 `yaml:"learningRate"`
		Momentum     float64 `yaml:"momentum"`

		// ValidationSplit is the fraction of pairs held out for
		// validation; the validation split is never augmented
		ValidationSplit float64 `yaml:"validationSplit"`

		// ModelFile is where the trained weights are written
		ModelFile string `yaml:"modelFile"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// MaskExportDir, when set, receives predicted-mask panels for
		// qualitative inspection after segmentation training
		MaskExportDir string `yaml:"maskExportDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.ImageSize = 128

	cfg.Features.ModelPath = "models/backbone.onnx"
	cfg.Features.MetadataPath = "models/backbone_metadata.json"
	cfg.Features.ReducedDims = 64

	cfg.Segmentation.BaseFilters = 16
	cfg.Segmentation.Dropout = 0.1
	cfg.Segmentation.Epochs = 25
	cfg.Segmentation.BatchSize = 4
	cfg.Segmentation.LearningRate = 0.01
	cfg.Segmentation.Momentum = 0.9
	cfg.Segmentation.ValidationSplit = 0.2
	cfg.Segmentation.ModelFile = "unet_weights.bin"

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
