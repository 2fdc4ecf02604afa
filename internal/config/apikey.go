package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ResolveAPIKey returns an API key by checking multiple sources in priority
// order: an explicitly supplied value, the default token file, then the
// ULTRATRANSFER_API_KEY environment variable.
func ResolveAPIKey(apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if tokenPath := GetDefaultTokenPath(); tokenPath != "" {
		if key, err := ReadTokenFile(tokenPath); err == nil && key != "" {
			return key
		}
	}
	return os.Getenv("ULTRATRANSFER_API_KEY")
}

// ResolveAPIKeySource is ResolveAPIKey plus a label identifying which source
// won, for --verbose CLI output.
func ResolveAPIKeySource(apiKey string) (string, string) {
	if apiKey != "" {
		return apiKey, "flag"
	}
	if tokenPath := GetDefaultTokenPath(); tokenPath != "" {
		if key, err := ReadTokenFile(tokenPath); err == nil && key != "" {
			return key, "token-file"
		}
	}
	if envKey := os.Getenv("ULTRATRANSFER_API_KEY"); envKey != "" {
		return envKey, "environment"
	}
	return "", ""
}

// GetDefaultTokenPath returns the plain-text API key file path, distinct
// from the JSON auth-token cache (see tokencache.go) which stores the
// short-lived session token returned by login.
func GetDefaultTokenPath() string {
	configDir, err := defaultConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "token")
}

// ReadTokenFile reads and trims a plain-text token file.
func ReadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := string(data)
	for len(key) > 0 && (key[len(key)-1] == '\n' || key[len(key)-1] == '\r' || key[len(key)-1] == ' ') {
		key = key[:len(key)-1]
	}
	return key, nil
}

// WriteTokenFile writes a plain-text token file with owner-only
// permissions on Unix.
func WriteTokenFile(path, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(key), 0600); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		return os.Chmod(path, 0600)
	}
	return nil
}
