package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyndonlyu/serverforge/internal/config"
)

// loadConfig reads --config and applies the --root and --base-dir overrides.
// A missing file is an error: forge never provisions from bare defaults.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s (create one with 'forge init')", configPath)
		}
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	applyOverrides(cfg)
	return cfg, nil
}

// loadState is loadConfig for commands that only read forge's own state and
// can run without a config file.
func loadState() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	applyOverrides(cfg)
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if rootFlag != "" {
		cfg.Runtime.Root = rootFlag
	}
	if baseDirFlag != "" {
		cfg.Runtime.BaseDir = baseDirFlag
	}
}

// hostPath maps an absolute host path into runtime.root.
func hostPath(cfg *config.Config, p string) string {
	return filepath.Join(cfg.Runtime.Root, p)
}
