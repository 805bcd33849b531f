//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Secrets on non-macOS systems live in a mode-0600 JSON file keyed by
// service and account, mirroring the keychain layout used on darwin.

func secretsFilePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "askdb", "secrets.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "askdb", "secrets.json")
	}
	return filepath.Join(home, ".local", "share", "askdb", "secrets.json")
}

func readSecrets(path string) map[string]map[string]string {
	secrets := make(map[string]map[string]string)
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	return secrets
}

func keychainGet(service, account string) ([]byte, error) {
	path := secretsFilePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("secrets store not available: %w", err)
	}
	val, ok := readSecrets(path)[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for service %q account %q", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()

	secrets := readSecrets(path)
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
