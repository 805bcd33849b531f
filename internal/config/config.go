package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Storage    StorageConfig
	Cache      CacheConfig
	Classifier ClassifierConfig
	Sampling   SamplingConfig
	Explain    ExplainConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type LLMConfig struct {
	AnthropicAPIKey string
	Model           string
	BaseURL         string
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	TTL           string
	MaxEntries    int
	SweepInterval string
}

// TTLDuration parses the configured TTL, falling back to 5 minutes.
func (c CacheConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 5*time.Minute)
}

// SweepDuration parses the janitor interval, falling back to 1 minute.
func (c CacheConfig) SweepDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

type ClassifierConfig struct {
	// Comma-separated overrides; empty means built-in lists.
	FastVerbs          string
	AnalyticalKeywords string
}

// FastVerbList splits the configured fast verbs.
func (c ClassifierConfig) FastVerbList() []string { return splitCSV(c.FastVerbs) }

// AnalyticalKeywordList splits the configured analytical keywords.
func (c ClassifierConfig) AnalyticalKeywordList() []string { return splitCSV(c.AnalyticalKeywords) }

type SamplingConfig struct {
	SmallMax  int
	MediumMax int
	MediumCap int
	LargeCap  int
}

type ExplainConfig struct {
	Enabled bool
	Timeout string
}

// TimeoutDuration parses the explanation timeout, falling back to 10 seconds.
func (c ExplainConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		LLM: LLMConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Cache: CacheConfig{
			TTL:           "5m",
			MaxEntries:    256,
			SweepInterval: "1m",
		},
		Sampling: SamplingConfig{
			SmallMax:  1000,
			MediumMax: 10000,
			MediumCap: 500,
			LargeCap:  300,
		},
		Explain: ExplainConfig{
			Enabled: true,
			Timeout: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.askdb.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/askdb/config.json
// and secrets live in a mode-0600 JSON file under $XDG_DATA_HOME.
//
// Environment variables (ASKDB_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API key if still empty.
	if cfg.LLM.AnthropicAPIKey == "" {
		if key, err := kc.Get("askdb", "anthropic_api_key"); err == nil && key != "" {
			cfg.LLM.AnthropicAPIKey = key
		}
	}

	if cfg.LLM.AnthropicAPIKey == "" {
		msg := "missing required config: Anthropic API key. " +
			"Set it via environment variable ASKDB_ANTHROPIC_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
