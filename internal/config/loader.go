package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the config search when set.
const EnvConfigPath = "WARDEN_CONFIG"

// FindConfigPath locates warden.jsonc. Precedence: the explicit path
// argument, the WARDEN_CONFIG environment variable, ./warden.jsonc, then
// ~/.warden/warden.jsonc. An empty return with nil error means no config
// file exists and defaults apply.
func FindConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return absPath(explicit), nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("config file %s (from %s): %w", env, EnvConfigPath, err)
		}
		return absPath(env), nil
	}

	candidates := []string{"warden.jsonc"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".warden", "warden.jsonc"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absPath(path), nil
		}
	}
	return "", nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Load reads, parses and validates the configuration. An empty path triggers
// the search order of FindConfigPath; built-in defaults fill every field a
// file does not set.
func Load(path string) (*Config, error) {
	found, err := FindConfigPath(path)
	if err != nil {
		return nil, err
	}
	if found == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(found)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", found, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(StripJSONC(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", found, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", found, err)
	}
	return cfg, nil
}
