package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadFile overlays the YAML document at path onto cfg. Keys absent from the
// document keep their current value.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
