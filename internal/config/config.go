package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/setanarut/traitmerge"
	"github.com/setanarut/traitmerge/internal/logging"
	"github.com/setanarut/traitmerge/utils"
	"gopkg.in/yaml.v3"
)

// TestSampleSize is the sample used by `run --test`.
const TestSampleSize = 50

// Config holds the run configuration.
type Config struct {
	BatchSize       int    `yaml:"batch_size"`
	SampleSize      int    `yaml:"sample_size"`
	OutputDir       string `yaml:"output_dir"` // empty: the scanned root
	Workers         int    `yaml:"workers"`
	Backend         string `yaml:"backend"` // draw, gg
	MaxWriteRetries int    `yaml:"max_write_retries"`
	Extension       string `yaml:"extension"`
	SortKey         string `yaml:"sort_key"` // digits, image_prefix
	// Checkpoint file; empty means <output>/.traitmerge-state.json.
	StateFile string `yaml:"state_file"`

	Collection      traitmerge.Collection `yaml:"collection"`
	BackgroundColor BackgroundColorConfig `yaml:"background_color"`
	Logging         logging.Config        `yaml:"logging"`
}

type BackgroundColorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Method  string `yaml:"method"` // dominantcolor, kmeans
	Colors  int    `yaml:"colors"`
}

// DefaultConfig mirrors traitmerge.DefaultOptions.
func DefaultConfig() *Config {
	opt := traitmerge.DefaultOptions()
	return &Config{
		BatchSize:       opt.BatchSize,
		SampleSize:      opt.SampleSize,
		Workers:         opt.Workers,
		Backend:         string(opt.Backend),
		MaxWriteRetries: opt.MaxWriteRetries,
		Extension:       opt.Extension,
		SortKey:         "digits",
		Collection:      opt.Collection,
		BackgroundColor: BackgroundColorConfig{
			Method: opt.PaletteMethod.String(),
			Colors: opt.PaletteColors,
		},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.SampleSize < 0 {
		errs = append(errs, fmt.Errorf("sample_size must not be negative, got %d", c.SampleSize))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxWriteRetries < 0 {
		errs = append(errs, fmt.Errorf("max_write_retries must not be negative, got %d", c.MaxWriteRetries))
	}
	if !strings.HasPrefix(c.Extension, ".") {
		errs = append(errs, fmt.Errorf("extension must start with a dot, got %q", c.Extension))
	}
	switch traitmerge.Backend(c.Backend) {
	case traitmerge.BackendDraw, traitmerge.BackendGG:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := sortKeyFunc(c.SortKey); err != nil {
		errs = append(errs, err)
	}
	if _, err := utils.ParsePaletteMethod(c.BackgroundColor.Method); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sortKeyFunc(name string) (traitmerge.SortKeyFunc, error) {
	switch name {
	case "", "digits":
		return traitmerge.DigitsSortKey, nil
	case "image_prefix":
		return traitmerge.ImagePrefixSortKey, nil
	}
	return nil, fmt.Errorf("unknown sort_key %q", name)
}

// Options converts c for a run rooted at root.
func (c *Config) Options(root string) (traitmerge.Options, error) {
	if err := c.Validate(); err != nil {
		return traitmerge.Options{}, err
	}
	sortKey, _ := sortKeyFunc(c.SortKey)
	method, _ := utils.ParsePaletteMethod(c.BackgroundColor.Method)

	opt := traitmerge.DefaultOptions()
	opt.BatchSize = c.BatchSize
	opt.SampleSize = c.SampleSize
	opt.OutputDir = c.OutputDir
	if opt.OutputDir == "" {
		opt.OutputDir = root
	}
	opt.Workers = c.Workers
	opt.Backend = traitmerge.Backend(c.Backend)
	opt.MaxWriteRetries = c.MaxWriteRetries
	opt.Extension = c.Extension
	opt.SortKey = sortKey
	opt.Collection = c.Collection
	opt.BackgroundColor = c.BackgroundColor.Enabled
	opt.PaletteMethod = method
	if c.BackgroundColor.Colors > 0 {
		opt.PaletteColors = c.BackgroundColor.Colors
	}
	return opt, nil
}
