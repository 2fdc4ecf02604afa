// Package config provides configuration management for ultratransfer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"
)

// Config is the sole configuration source for the transfer engine and its
// CLI.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\ultratransfer\apiconfig
//   - Unix: ~/.config/ultratransfer/apiconfig
//
// INI format:
//
//	[ultratransfer]
//	api_base_url = https://api.example.com
//	api_key = <token-or-api-key>
//	temp_root = /home/user/.cache/ultratransfer/tmp
//	auth_token_path = /home/user/.config/ultratransfer/auth_token.json
//	max_download_threads = 8
//	max_upload_threads = 4
//	log_level = info
type Config struct {
	// APIBaseURL is the backend REST collaborator's base URL.
	APIBaseURL string `ini:"api_base_url"`

	// APIKey, when set, is installed by the CLI directly as the bearer token;
	// when empty, the CLI falls back to the token cache at AuthTokenPath.
	APIKey string `ini:"api_key"`

	// TempRoot is where per-file fragment directories live during a
	// download (temp_root/file_id/*.part).
	TempRoot string `ini:"temp_root"`

	// AuthTokenPath is where the on-disk token cache is stored.
	AuthTokenPath string `ini:"auth_token_path"`

	// MaxDownloadThreads is the AutoScaler's ceiling for download workers.
	// Default: 8
	MaxDownloadThreads int `ini:"max_download_threads"`

	// MaxUploadThreads is the AutoScaler's ceiling for upload workers.
	// Default: 4
	MaxUploadThreads int `ini:"max_upload_threads"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `ini:"log_level"`
}

// Validation errors.
var (
	ErrMissingAPIBaseURL = errors.New("api_base_url is required")
	ErrMissingAPIKey     = errors.New("api_key is required")
)

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() (string, error) {
	configDir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "apiconfig"), nil
}

// DefaultAuthTokenPath returns the default path for the auth token cache.
func DefaultAuthTokenPath() (string, error) {
	configDir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "auth_token.json"), nil
}

func defaultConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", "ultratransfer"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ultratransfer"), nil
}

// New creates a Config with default values. A fresh checkout with no
// apiconfig file on disk still runs against these.
func New() *Config {
	tokenPath, _ := DefaultAuthTokenPath()
	return &Config{
		APIBaseURL:         "https://api.example.com",
		TempRoot:           filepath.Join(os.TempDir(), "ultratransfer"),
		AuthTokenPath:      tokenPath,
		MaxDownloadThreads: 8,
		MaxUploadThreads:   4,
		LogLevel:           "info",
	}
}

// Load reads configuration from an INI file. If the file doesn't exist,
// it returns defaults and no error; if it exists but is malformed, it
// returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load apiconfig: %w", err)
	}

	section := iniFile.Section("ultratransfer")
	cfg.APIBaseURL = section.Key("api_base_url").MustString(cfg.APIBaseURL)
	cfg.APIKey = section.Key("api_key").String()
	cfg.TempRoot = section.Key("temp_root").MustString(cfg.TempRoot)
	cfg.AuthTokenPath = section.Key("auth_token_path").MustString(cfg.AuthTokenPath)
	cfg.MaxDownloadThreads = section.Key("max_download_threads").MustInt(cfg.MaxDownloadThreads)
	cfg.MaxUploadThreads = section.Key("max_upload_threads").MustInt(cfg.MaxUploadThreads)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)

	return cfg, nil
}

// Save writes configuration to an INI file, creating parent directories as
// needed and replacing the file atomically (write to a temp path, then
// rename) so a crash mid-write never corrupts an existing config.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	section, err := iniFile.NewSection("ultratransfer")
	if err != nil {
		return fmt.Errorf("failed to create ultratransfer section: %w", err)
	}
	section.Key("api_base_url").SetValue(cfg.APIBaseURL)
	section.Key("api_key").SetValue(cfg.APIKey)
	section.Key("temp_root").SetValue(cfg.TempRoot)
	section.Key("auth_token_path").SetValue(cfg.AuthTokenPath)
	section.Key("max_download_threads").SetValue(fmt.Sprintf("%d", cfg.MaxDownloadThreads))
	section.Key("max_upload_threads").SetValue(fmt.Sprintf("%d", cfg.MaxUploadThreads))
	section.Key("log_level").SetValue(cfg.LogLevel)

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// ValidateForConnection checks only the fields needed to make API calls.
func (cfg *Config) ValidateForConnection() error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return ErrMissingAPIBaseURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}
