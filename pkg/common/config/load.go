package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.RPC) == 0 && cfg.P2P == nil {
		return nil, fmt.Errorf("config needs at least one rpc node or a p2p section")
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Parsing the network here surfaces a bad magic_bytes override at load
	// time instead of first use.
	if _, err := cfg.Network.Params(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
