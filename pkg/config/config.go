// Package config provides YAML and JSONC configuration loading with
// environment variable expansion.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable expansion.
// Files ending in .json or .jsonc are read as JSONC and decoded with the
// same yaml tags.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".jsonc":
		expandedData, err = fromJSONC(expandedData)
		if err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if err := yaml.Unmarshal(expandedData, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return validate(target)
}

// LoadWithDefaults loads configuration from filename when it exists. A missing
// file leaves target as preset by the caller and only validates it.
func LoadWithDefaults[T any](filename string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

// fromJSONC standardizes JSONC and re-encodes it as YAML.
func fromJSONC(data []byte) ([]byte, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}
	var doc any
	if err := json.Unmarshal(standardized, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return yaml.Marshal(doc)
}

func validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
