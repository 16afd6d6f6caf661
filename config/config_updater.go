package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EnsureConfigExists writes a default config file to configPath unless one is
// already present. It reports whether a new file was created.
func EnsureConfigExists(configPath string) (bool, error) {
	if _, err := os.Stat(configPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return false, err
	}
	if err := SaveConfig(configPath, CreateDefaultConfig()); err != nil {
		return false, fmt.Errorf("failed to create default config: %w", err)
	}
	return true, nil
}

// SaveConfig encodes cfg as TOML. The session id is a credential, so the file
// is created owner-readable only.
func SaveConfig(configPath string, cfg *Config) error {
	file, err := os.OpenFile(configPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(cfg)
}
