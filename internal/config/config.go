package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nickmurray47/goose/pkg/models"
)

// Config is the engine configuration. It is assembled once at startup
// from defaults, an optional YAML file, and the environment overlay, and
// treated as immutable afterwards.
type Config struct {
	// Mode is the permission mode for new sessions.
	// Default: smart_approve
	Mode models.PermissionMode `yaml:"mode"`

	// MaxTurns bounds the number of model turns in one run.
	// Default: 1000
	MaxTurns int `yaml:"max_turns"`

	Routing    RoutingConfig             `yaml:"routing"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Extensions []models.ExtensionSpec    `yaml:"extensions"`
	Dispatch   DispatchConfig            `yaml:"dispatch"`
	Compaction CompactionConfig          `yaml:"compaction"`
	Security   SecurityConfig            `yaml:"security"`
	Sessions   SessionsConfig            `yaml:"sessions"`
	Logging    LoggingConfig             `yaml:"logging"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Trace      TraceConfig               `yaml:"trace"`
}

// RoutingConfig pins model roles to provider/model bindings.
type RoutingConfig struct {
	// Bindings maps role names (main, lead, worker, planner) to models.
	Bindings map[models.ModelRole]models.RoleBinding `yaml:"bindings"`

	// LeadTurns is how many initial turns use the lead binding before
	// switching to worker.
	// Default: 3
	LeadTurns int `yaml:"lead_turns"`
}

// ProviderConfig holds per-provider credentials and endpoint overrides.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// DispatchConfig bounds concurrent tool execution.
type DispatchConfig struct {
	// MaxInFlight caps concurrently executing tool calls.
	// Default: 4
	MaxInFlight int `yaml:"max_in_flight"`

	// CallTimeout is the per-call timeout when the extension declares none.
	// Default: 300s
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// CompactionConfig controls automatic history compaction.
type CompactionConfig struct {
	// Threshold is the usage/window ratio that triggers compaction.
	// 0.0 disables compaction entirely.
	// Default: 0.8
	Threshold float64 `yaml:"threshold"`

	// ProtectedTurns is the tail of recent turns never compacted away.
	// Default: 2
	ProtectedTurns int `yaml:"protected_turns"`
}

// SecurityConfig controls the prompt-injection scanner.
type SecurityConfig struct {
	Enabled bool `yaml:"enabled"`

	// Threshold is the risk score at or above which the permission gate
	// escalates to asking the user.
	// Default: 0.7
	Threshold float64 `yaml:"threshold"`
}

// SessionsConfig selects the persistence backend.
type SessionsConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: memory
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend only).
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format: json or text. Default: json
	Format string `yaml:"format"`
}

// TelemetryConfig configures metrics and tracing exports.
type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Default: ":9464"
	MetricsAddr string `yaml:"metrics_addr"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// TraceConfig configures the JSONL event trace file.
type TraceConfig struct {
	// Path of the trace file; empty disables tracing.
	Path string `yaml:"path"`
}

// Load reads the configuration file at path, expands environment
// variables in its text, applies defaults, and overlays GOOSE_* settings
// from the environment. An empty path loads defaults plus the overlay.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = models.DefaultMode
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 1000
	}
	if cfg.Routing.LeadTurns == 0 {
		cfg.Routing.LeadTurns = 3
	}
	if cfg.Dispatch.MaxInFlight == 0 {
		cfg.Dispatch.MaxInFlight = 4
	}
	if cfg.Dispatch.CallTimeout == 0 {
		cfg.Dispatch.CallTimeout = 300 * time.Second
	}
	if cfg.Compaction.Threshold == 0 {
		cfg.Compaction.Threshold = 0.8
	}
	if cfg.Compaction.ProtectedTurns == 0 {
		cfg.Compaction.ProtectedTurns = 2
	}
	if cfg.Security.Threshold == 0 {
		cfg.Security.Threshold = 0.7
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = ":9464"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown permission mode %q", c.Mode)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.Compaction.Threshold < 0 || c.Compaction.Threshold > 1 {
		return fmt.Errorf("compaction threshold must be in [0,1], got %g", c.Compaction.Threshold)
	}
	if c.Security.Threshold < 0 || c.Security.Threshold > 1 {
		return fmt.Errorf("security threshold must be in [0,1], got %g", c.Security.Threshold)
	}
	if c.Dispatch.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be positive, got %d", c.Dispatch.MaxInFlight)
	}
	switch c.Sessions.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	if c.Sessions.Backend == "sqlite" && c.Sessions.Path == "" {
		return fmt.Errorf("sqlite sessions backend requires a path")
	}
	return nil
}
