package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ASKDB_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "ASKDB_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "llm.anthropic_api_key", typ: kString, env: "ASKDB_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnthropicAPIKey },
	},
	{
		key: "llm.model", typ: kString, env: "ASKDB_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "ASKDB_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ASKDB_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.ttl", typ: kString, env: "ASKDB_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "ASKDB_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "cache.sweep_interval", typ: kString, env: "ASKDB_CACHE_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Cache.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.SweepInterval },
	},
	{
		key: "classifier.fast_verbs", typ: kString, env: "ASKDB_CLASSIFIER_FAST_VERBS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.FastVerbs = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.FastVerbs },
	},
	{
		key: "classifier.analytical_keywords", typ: kString, env: "ASKDB_CLASSIFIER_ANALYTICAL_KEYWORDS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.AnalyticalKeywords = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.AnalyticalKeywords },
	},
	{
		key: "sampling.small_max", typ: kInt, env: "ASKDB_SAMPLING_SMALL_MAX",
		apply:   func(cfg *Config, v any) { cfg.Sampling.SmallMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Sampling.SmallMax },
	},
	{
		key: "sampling.medium_max", typ: kInt, env: "ASKDB_SAMPLING_MEDIUM_MAX",
		apply:   func(cfg *Config, v any) { cfg.Sampling.MediumMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Sampling.MediumMax },
	},
	{
		key: "sampling.medium_cap", typ: kInt, env: "ASKDB_SAMPLING_MEDIUM_CAP",
		apply:   func(cfg *Config, v any) { cfg.Sampling.MediumCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Sampling.MediumCap },
	},
	{
		key: "sampling.large_cap", typ: kInt, env: "ASKDB_SAMPLING_LARGE_CAP",
		apply:   func(cfg *Config, v any) { cfg.Sampling.LargeCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Sampling.LargeCap },
	},
	{
		key: "explain.enabled", typ: kBool, env: "ASKDB_EXPLAIN_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Explain.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Explain.Enabled },
	},
	{
		key: "explain.timeout", typ: kString, env: "ASKDB_EXPLAIN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Explain.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Explain.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "ASKDB_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
