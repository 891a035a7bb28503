package leanify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxDepth bounds how deeply nested payloads are followed.
	DefaultMaxDepth = 32
	// DefaultIterations is the compression effort used when none is given.
	DefaultIterations = 15
)

// Config is the process-wide configuration for one run. It is set up once
// before the first file is processed and never modified afterward.
type Config struct {
	// MaxDepth is the deepest nesting level that is still compacted. Regions
	// nested deeper than this are passed through untouched.
	MaxDepth int `yaml:"max_depth"`
	// Iterations is the effort given to the deflate re-encoder. Higher values
	// try more encodings.
	Iterations int `yaml:"iterations"`
	// Fast skips recompression of existing compressed streams entirely.
	Fast bool `yaml:"fast"`
	// Verbose turns on diagnostic narration. It never changes the output.
	Verbose bool `yaml:"verbose"`
	// KeepExif keeps the Exif segment of JPEG files.
	KeepExif bool `yaml:"keep_exif"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxDepth:   DefaultMaxDepth,
		Iterations: DefaultIterations,
	}
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, ErrInvalidConfig.Wrap(err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that all values are in range.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return ErrInvalidConfig.WithMessage(
			fmt.Sprintf("max_depth must be non-negative, got %d", c.MaxDepth))
	}
	if c.Iterations < 1 {
		return ErrInvalidConfig.WithMessage(
			fmt.Sprintf("iterations must be at least 1, got %d", c.Iterations))
	}
	return nil
}
