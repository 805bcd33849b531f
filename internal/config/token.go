package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenService = "askdb"
	tokenAccount = "api_token"
	tokenEnv     = "ASKDB_API_TOKEN"
)

// APIToken returns the bearer token HTTP clients must present. The env var
// wins; otherwise the token is read from the platform secret store, and
// generated (and persisted) on first use.
func APIToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv(tokenEnv)); tok != "" {
		return tok, nil
	}

	if raw, err := keychainGet(tokenService, tokenAccount); err == nil {
		if tok := strings.TrimSpace(string(raw)); tok != "" {
			return tok, nil
		}
	}

	tok := uuid.NewString()
	if err := keychainSet(tokenService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
