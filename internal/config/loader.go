package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".triagebot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix is left empty: every field in Config already carries a
	// fully-qualified envconfig tag matching spec.md §6.4's flat key names
	// (DATABASE_PATH, SLA_UNCLAIMED_NUDGE_MINUTES, ...), so no additional
	// prefix should be prepended.
	EnvPrefix = ""
)

// ConfigPath returns the path to the config file, honoring TRIAGEBOT_CONFIG
// and falling back to ~/.triagebot/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TRIAGEBOT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Load reads the config file (if present), overlays environment variables,
// and returns the result. A missing config file is not an error; defaults
// apply and env vars may still override them.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return cfg, jsonErr
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return cfg, err
	}

	if expanded, err := expandHome(cfg.Database.Path); err == nil {
		cfg.Database.Path = expanded
	}
	if expanded, err := expandHome(cfg.Scheduler.LockPath); err == nil {
		cfg.Scheduler.LockPath = expanded
	}

	return cfg, nil
}
