package config

import (
	"strconv"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]string
}

func (b mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, err
	}
	return i, true, nil
}

func (b mapBackend) SetString(key, val string) error  { b.data[key] = val; return nil }
func (b mapBackend) SetInt(key string, val int) error { b.data[key] = strconv.Itoa(val); return nil }
func (b mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func TestDefaults(t *testing.T) {
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{data: map[string]string{}}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.LLM.Model != "claude-sonnet-4-20250514" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Cache.TTL != "5m" {
		t.Errorf("Cache.TTL = %q, want 5m", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntries != 256 {
		t.Errorf("Cache.MaxEntries = %d, want 256", cfg.Cache.MaxEntries)
	}
	if cfg.Sampling.MediumCap != 500 || cfg.Sampling.LargeCap != 300 {
		t.Errorf("Sampling caps = %d/%d, want 500/300", cfg.Sampling.MediumCap, cfg.Sampling.LargeCap)
	}
	if !cfg.Explain.Enabled {
		t.Error("Explain.Enabled = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "test-key")

	b := mapBackend{data: map[string]string{
		"server.port":      "5100",
		"llm.model":        "claude-haiku-4",
		"cache.ttl":        "90s",
		"storage.data_dir": "/tmp/askdb-test",
		"explain.enabled":  "false",
	}}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.LLM.Model != "claude-haiku-4" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Cache.TTL != "90s" {
		t.Errorf("Cache.TTL = %q", cfg.Cache.TTL)
	}
	if cfg.Storage.DataDir != "/tmp/askdb-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Explain.Enabled {
		t.Error("Explain.Enabled = true, want false")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("ASKDB_SERVER_PORT", "6100")

	b := mapBackend{data: map[string]string{"server.port": "5100"}}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100 (env should win)", cfg.Server.Port)
	}
	if cfg.LLM.AnthropicAPIKey != "env-key" {
		t.Errorf("AnthropicAPIKey = %q, want env-key", cfg.LLM.AnthropicAPIKey)
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "")

	_, err := loadWith(mapBackend{data: map[string]string{}}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "")

	cfg, err := loadWith(mapBackend{data: map[string]string{}}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.AnthropicAPIKey != "keychain-secret" {
		t.Errorf("AnthropicAPIKey = %q, want keychain-secret", cfg.LLM.AnthropicAPIKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := CacheConfig{TTL: "2m", SweepInterval: "garbage"}
	if got := c.TTLDuration().String(); got != "2m0s" {
		t.Errorf("TTLDuration = %s, want 2m0s", got)
	}
	if got := c.SweepDuration().String(); got != "1m0s" {
		t.Errorf("SweepDuration = %s, want 1m0s (fallback)", got)
	}
}

func TestClassifierListSplitting(t *testing.T) {
	c := ClassifierConfig{FastVerbs: "Show, list ,,COUNT"}
	got := c.FastVerbList()
	want := []string{"show", "list", "count"}
	if len(got) != len(want) {
		t.Fatalf("FastVerbList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FastVerbList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
