package config

import (
	"os"
	"path/filepath"
)

// ConfigEnvVar overrides the configuration file path.
const ConfigEnvVar = "LIVEEVAL_CONFIG"

// GetConfigPath returns the configuration file path: $LIVEEVAL_CONFIG if
// set, otherwise ~/.liveeval/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(ConfigEnvVar); configPath != "" {
		return configPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".liveeval", "config"), nil
}

// EnsureConfigDir ensures that the configuration directory exists.
func EnsureConfigDir() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}
