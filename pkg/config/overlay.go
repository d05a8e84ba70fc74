package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is the YAML tuning file. Only knobs that operators actually
// re-tune between deployments are exposed; secrets stay in the environment.
type Overlay struct {
	Workers    *WorkerConfig     `yaml:"workers"`
	Extraction *ExtractionConfig `yaml:"extraction"`
	Blob       *BlobConfig       `yaml:"blob"`
	Optimizer  *OptimizerConfig  `yaml:"optimizer"`
}

// OptimizerConfig bounds the image optimizer.
type OptimizerConfig struct {
	MaxDimension int `yaml:"max_dimension"`
	TargetKB     int `yaml:"target_kb"`
	Quality      int `yaml:"quality"`
	MinQuality   int `yaml:"min_quality"`
}

// ApplyOverlay merges the YAML file at path into cfg. The environment wins:
// only zero-valued fields are filled from the file, except pool sizes and
// model ids which the file may override outright (that is its purpose).
// A missing file is not an error.
func ApplyOverlay(cfg *Config, path string) (*OptimizerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read overlay %s: %w", path, err)
	}

	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("config: parse overlay %s: %w", path, err)
	}

	if ov.Workers != nil {
		applyPositive(&cfg.Workers.Upload, ov.Workers.Upload)
		applyPositive(&cfg.Workers.Inventory, ov.Workers.Inventory)
		applyPositive(&cfg.Workers.Process, ov.Workers.Process)
		applyPositive(&cfg.Workers.Stock, ov.Workers.Stock)
	}
	if ov.Extraction != nil {
		if ov.Extraction.PrimaryModel != "" {
			cfg.Extraction.PrimaryModel = ov.Extraction.PrimaryModel
		}
		if ov.Extraction.FallbackModel != "" {
			cfg.Extraction.FallbackModel = ov.Extraction.FallbackModel
		}
		applyPositive(&cfg.Extraction.RequestsPerMin, ov.Extraction.RequestsPerMin)
		if ov.Extraction.USDToINR > 0 {
			cfg.Extraction.USDToINR = ov.Extraction.USDToINR
		}
	}
	if ov.Blob != nil {
		if cfg.Blob.Bucket == "" {
			cfg.Blob.Bucket = ov.Blob.Bucket
		}
		if cfg.Blob.PublicBaseURL == "" {
			cfg.Blob.PublicBaseURL = ov.Blob.PublicBaseURL
		}
	}

	return ov.Optimizer, nil
}

func applyPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
