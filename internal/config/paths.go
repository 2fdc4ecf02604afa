package config

import (
	"os"
	"path/filepath"
)

// LogDirectory returns the log directory for the engine and CLI.
//
//   - Windows: %USERPROFILE%\.config\ultratransfer\logs
//   - Unix: ~/.config/ultratransfer/logs
func LogDirectory() string {
	configDir, err := defaultConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ultratransfer-logs")
	}
	return filepath.Join(configDir, "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't already exist.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
