package config

import (
	"fmt"
	"strconv"

	"github.com/nickmurray47/goose/pkg/models"
)

// Environment variables recognized by the overlay. They win over both
// defaults and file values so a shell export can steer a run without
// editing config.
const (
	EnvMode             = "GOOSE_MODE"
	EnvMaxTurns         = "GOOSE_MAX_TURNS"
	EnvCompactThreshold = "GOOSE_AUTO_COMPACT_THRESHOLD"
	EnvLeadTurns        = "GOOSE_LEAD_TURNS"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
)

// applyEnv overlays recognized environment variables onto cfg. getenv is
// injected so tests can run without touching the process environment.
// GOOSE_AUTO_COMPACT_THRESHOLD=0 disables compaction outright.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvMode); v != "" {
		mode := models.PermissionMode(v)
		if !mode.Valid() {
			return fmt.Errorf("%s: unknown permission mode %q", EnvMode, v)
		}
		cfg.Mode = mode
	}
	if v := getenv(EnvMaxTurns); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvMaxTurns, v)
		}
		cfg.MaxTurns = n
	}
	if v := getenv(EnvCompactThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%s: want a number in [0,1], got %q", EnvCompactThreshold, v)
		}
		cfg.Compaction.Threshold = f
	}
	if v := getenv(EnvLeadTurns); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: want a non-negative integer, got %q", EnvLeadTurns, v)
		}
		cfg.Routing.LeadTurns = n
	}

	if v := getenv(EnvAnthropicAPIKey); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := getenv(EnvOpenAIAPIKey); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	return nil
}

func setProviderKey(cfg *Config, provider, key string) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	pc := cfg.Providers[provider]
	if pc.APIKey == "" {
		pc.APIKey = key
	}
	cfg.Providers[provider] = pc
}
