// Package rig loads the rig configuration file.
//
// Each physical rig carries a small TOML file describing its fixed identity
// and defaults. The launcher consumes it to fill {rig_param:*} placeholders
// in the parameter set and to derive default output locations.
package rig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config describes a physical rig.
type Config struct {
	RigID            string `toml:"rig_id"`
	OutputRootFolder string `toml:"output_root_folder"`

	// Params is a free-form table of rig-specific values referenced by
	// {rig_param:KEY} placeholders in the parameter file.
	Params map[string]string `toml:"params"`
}

// Load reads and decodes a rig configuration TOML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rig config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing rig config %s: %w", path, err)
	}

	if cfg.RigID == "" {
		return nil, fmt.Errorf("rig config %s: rig_id is required", path)
	}

	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}

	return &cfg, nil
}

// PlaceholderValues returns the mapping used for {rig_param:KEY}
// substitution. Well-known fields are exposed alongside the free-form
// params table; explicit params win on collision.
func (c *Config) PlaceholderValues() map[string]string {
	values := map[string]string{
		"rig_id":             c.RigID,
		"output_root_folder": c.OutputRootFolder,
	}
	for k, v := range c.Params {
		values[k] = v
	}
	return values
}

// AsMap returns the rig configuration as a generic mapping for inclusion
// in persisted session state.
func (c *Config) AsMap() map[string]any {
	m := map[string]any{
		"rig_id":             c.RigID,
		"output_root_folder": c.OutputRootFolder,
	}
	for k, v := range c.Params {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return m
}
