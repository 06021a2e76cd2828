package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// toolConfig is the CLI's own yaml-configured settings, distinct from
// the packed binary layout evsed persists: it only names
// where that layout, the checkpoint, the log/metric filesystems, and
// the authorization store live on disk.
type toolConfig struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

func defaultToolConfig() toolConfig {
	return toolConfig{DataDir: "/var/lib/evse", LogLevel: "info"}
}

// loadToolConfig reads path if it exists, overlaying onto the defaults.
// A missing file is not an error: the CLI runs against the default
// data directory.
func loadToolConfig(path string) (toolConfig, error) {
	cfg := defaultToolConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read tool config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse tool config: %w", err)
	}
	return cfg, nil
}
