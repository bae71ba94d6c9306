package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAMLOverlay merges an optional project-local ".testimpact.yml"
// on top of cfg. It sits in the same precedence tier as the JSON
// config file (spec §6): present only as a convenience for projects
// that prefer a YAML-based override file over editing JSON directly.
// Missing files are not an error.
func LoadYAMLOverlay(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read yaml overlay %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml overlay %s: %w", path, err)
	}
	return nil
}
