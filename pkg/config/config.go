// Package config provides configuration loading and management for ctsegment.
// It handles loading configuration from YAML files, environment overrides and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values loaded from YAML
const (
	EnvNumCores  = "CTSEG_NUM_CORES"
	EnvLogLevel  = "CTSEG_LOG_LEVEL"
	EnvLogFormat = "CTSEG_LOG_FORMAT"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds how many slices are filtered concurrently
		NumCores int `yaml:"numCores"`

		// Backend selects the 2D morphology implementation: "go" or "gocv"
		Backend string `yaml:"backend"`
	} `yaml:"processing"`

	// Threshold segmentation parameters
	Segmentation struct {
		// FreshRetainCount is how many components survive a pass when no
		// mask has been accepted yet
		FreshRetainCount int `yaml:"freshRetainCount"`

		// AccumulatedRetainCount is used once at least one mask was accepted
		AccumulatedRetainCount int `yaml:"accumulatedRetainCount"`

		// OpenCloseSize is the side of the square used for opening/closing
		OpenCloseSize int `yaml:"openCloseSize"`

		// SmoothingRadius is the disk radius of the dilate/erode step
		SmoothingRadius int `yaml:"smoothingRadius"`

		// GaussianSigma is the standard deviation of the final blur, in voxels
		GaussianSigma float64 `yaml:"gaussianSigma"`

		// GaussianTruncate cuts the kernel at this many sigmas
		GaussianTruncate float64 `yaml:"gaussianTruncate"`
	} `yaml:"segmentation"`

	// Manual correction parameters
	Editing struct {
		// Tolerance widens the lower threshold for edits and region growing
		Tolerance float64 `yaml:"tolerance"`

		// PatchHalfSize is half the side of the cube saved for patch undo
		PatchHalfSize int `yaml:"patchHalfSize"`

		// GrowBudget caps the voxels painted by one region growing call
		GrowBudget int `yaml:"growBudget"`

		// PaintColor is the overlay color of drawn and grown voxels
		PaintColor [3]int32 `yaml:"paintColor,flow"`

		// DefaultSize is the brush size used when a request does not set one
		DefaultSize int `yaml:"defaultSize"`
	} `yaml:"editing"`

	// Mask compositing parameters
	Composite struct {
		// ScaleFactor multiplies same-depth masks before accumulation
		ScaleFactor float64 `yaml:"scaleFactor"`
	} `yaml:"composite"`

	// Output parameters
	Output struct {
		// Verbose prints the per-step report
		Verbose bool `yaml:"verbose"`

		// SaveSlices writes PNG slice sequences of the results
		SaveSlices bool `yaml:"saveSlices"`

		// WindowLevel and WindowWidth map intensities to gray levels
		WindowLevel float64 `yaml:"windowLevel"`
		WindowWidth float64 `yaml:"windowWidth"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Backend = "go"

	cfg.Segmentation.FreshRetainCount = 3
	cfg.Segmentation.AccumulatedRetainCount = 7
	cfg.Segmentation.OpenCloseSize = 3
	cfg.Segmentation.SmoothingRadius = 3
	cfg.Segmentation.GaussianSigma = 0.4
	cfg.Segmentation.GaussianTruncate = 4.0

	cfg.Editing.Tolerance = 150
	cfg.Editing.PatchHalfSize = 8
	cfg.Editing.GrowBudget = 10000
	cfg.Editing.PaintColor = [3]int32{255, 0, 0}
	cfg.Editing.DefaultSize = 2

	cfg.Composite.ScaleFactor = 100

	cfg.Output.Verbose = true
	cfg.Output.SaveSlices = false
	cfg.Output.WindowLevel = 40
	cfg.Output.WindowWidth = 400

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Processing.NumCores < 1:
		return fmt.Errorf("processing.numCores must be positive, got %d", c.Processing.NumCores)
	case c.Processing.Backend != "go" && c.Processing.Backend != "gocv":
		return fmt.Errorf("processing.backend must be go or gocv, got %q", c.Processing.Backend)
	case c.Segmentation.FreshRetainCount < 1 || c.Segmentation.AccumulatedRetainCount < 1:
		return fmt.Errorf("segmentation retain counts must be positive")
	case c.Segmentation.OpenCloseSize < 1:
		return fmt.Errorf("segmentation.openCloseSize must be positive, got %d", c.Segmentation.OpenCloseSize)
	case c.Segmentation.SmoothingRadius < 0:
		return fmt.Errorf("segmentation.smoothingRadius must not be negative, got %d", c.Segmentation.SmoothingRadius)
	case c.Segmentation.GaussianSigma < 0 || c.Segmentation.GaussianTruncate <= 0:
		return fmt.Errorf("segmentation gaussian parameters out of range")
	case c.Editing.PatchHalfSize < 1:
		return fmt.Errorf("editing.patchHalfSize must be positive, got %d", c.Editing.PatchHalfSize)
	case c.Editing.GrowBudget < 1:
		return fmt.Errorf("editing.growBudget must be positive, got %d", c.Editing.GrowBudget)
	case c.Editing.DefaultSize < 1:
		return fmt.Errorf("editing.defaultSize must be positive, got %d", c.Editing.DefaultSize)
	case c.Output.WindowWidth <= 0:
		return fmt.Errorf("output.windowWidth must be positive")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
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

// ApplyEnv overlays environment variables on cfg. A .env file in the working
// directory is loaded first when present; variables already set in the
// process environment win over it.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv(EnvNumCores); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvNumCores, err)
		}
		cfg.Processing.NumCores = n
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogFormat); ok && v != "" {
		cfg.Logging.Format = v
	}
	return nil
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
