package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings represents the application configuration
type Settings struct {
	TelemetryEnabled bool   `json:"telemetry_enabled"`
	SentryDSN        string `json:"sentry_dsn,omitempty"`
	// Timeout hints passed to the migration executor when no flag is given.
	// Zero leaves the server default in place.
	LockTimeoutMS      int `json:"lock_timeout_ms"`
	StatementTimeoutMS int `json:"statement_timeout_ms"`
}

func defaultSettings() *Settings {
	return &Settings{
		TelemetryEnabled:   false,
		LockTimeoutMS:      5000,
		StatementTimeoutMS: 0,
	}
}

// getConfigDir returns the configuration directory following XDG Base Directory spec
func getConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "pgted"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	return filepath.Join(home, ".config", "pgted"), nil
}

// getSettingsPath returns the full path to settings.json
func getSettingsPath() (string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "settings.json"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	configDir, err := getConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	return nil
}

// LoadSettings reads settings.json, returning defaults if it doesn't exist.
// Fields missing from the file keep their default values.
func LoadSettings() (*Settings, error) {
	settingsPath, err := getSettingsPath()
	if err != nil {
		return nil, err
	}

	settings := defaultSettings()
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("could not read settings file: %w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("could not parse settings file: %w", err)
	}

	return settings, nil
}

// SaveSettings writes the settings to settings.json
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	settingsPath, err := getSettingsPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("could not write settings file: %w", err)
	}

	return nil
}
