package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlTarget represents one chat destination from TOML
type TomlTarget struct {
	ChatID string `toml:"chat_id"`
}

// TomlSources holds the community list configuration
type TomlSources struct {
	ListURL      string   `toml:"list_url,omitempty"`
	ExcludedTags []string `toml:"excluded_tags,omitempty"`
}

// TomlRPC holds the plebbit RPC endpoint configuration
type TomlRPC struct {
	Hosts []string `toml:"hosts"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Targets []TomlTarget `toml:"targets"`
	Sources TomlSources  `toml:"sources"`
	RPC     TomlRPC      `toml:"rpc"`
}

// TargetIDs returns the chat ids of all configured targets.
func (c *TomlConfig) TargetIDs() []string {
	ids := make([]string, 0, len(c.Targets))
	for _, target := range c.Targets {
		if target.ChatID != "" {
			ids = append(ids, target.ChatID)
		}
	}
	return ids
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}
