// Package config loads the service configuration from disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// Load reads a TOML, YAML, or JSON config file, chosen by extension, and
// fills unset fields with defaults. An empty path yields the defaults.
func Load(filePath string) (*types.Config, error) {
	if filePath == "" {
		return types.DefaultConfig(), nil
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("error accessing config file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", filePath)
	}

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg types.Config
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		if err := toml.Unmarshal(fileData, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing TOML file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(fileData, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing JSON file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(filePath))
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}
