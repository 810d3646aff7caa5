// Package config provides configuration types and defaults for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/tracing"
)

// ClientConfig declares one provider client to construct at startup.
type ClientConfig struct {
	Name        string         `mapstructure:"name"`
	Provider    string         `mapstructure:"provider"`
	Model       string         `mapstructure:"model"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	SoftFail    bool           `mapstructure:"soft_fail"`
	Default     bool           `mapstructure:"default"`
	Options     map[string]any `mapstructure:"options"` // passed to the backend factory
}

// EngineConfig holds the execution engine's retry defaults.
type EngineConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	BackoffJitter  time.Duration `mapstructure:"backoff_jitter"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// Backoff translates the engine config into a dispatch backoff policy.
func (e EngineConfig) Backoff() dispatch.Backoff {
	return dispatch.Backoff{
		Initial: e.BackoffInitial,
		Factor:  e.BackoffFactor,
		Jitter:  e.BackoffJitter,
		Max:     e.BackoffMax,
	}
}

// PromptConfig holds the prompt plan directory settings.
type PromptConfig struct {
	Dir      string        `mapstructure:"dir"`
	Reload   bool          `mapstructure:"reload"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// AuditConfig holds the call audit store settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// Config holds all configuration options for relay.
type Config struct {
	// StripTokens extends the built-in strip-token list used when
	// deriving component names.
	StripTokens []string `mapstructure:"strip_tokens"`

	// Discovery lists package paths whose registrations run at startup.
	// Opaque to the core; the bootstrap imports them for side effects.
	Discovery []string `mapstructure:"discovery"`

	Engine  EngineConfig   `mapstructure:"engine"`
	Clients []ClientConfig `mapstructure:"clients"`
	Prompts PromptConfig   `mapstructure:"prompts"`
	Audit   AuditConfig    `mapstructure:"audit"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxAttempts:    3,
			BackoffInitial: 500 * time.Millisecond,
			BackoffFactor:  2.0,
			BackoffJitter:  100 * time.Millisecond,
			BackoffMax:     10 * time.Second,
		},
		Prompts: PromptConfig{
			Dir:      "",
			Reload:   false,
			Debounce: 500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  DefaultAuditDBPath(),
		},
		Tracing: tracing.Config{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     DefaultTracesFilePath(),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "relay",
		},
	}
}

// ConfigDir returns the relay configuration directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "relay")
}

// DefaultTracesFilePath returns the default trace output file.
func DefaultTracesFilePath() string {
	return filepath.Join(ConfigDir(), "traces", "traces.jsonl")
}

// DefaultAuditDBPath returns the default audit database file.
func DefaultAuditDBPath() string {
	return filepath.Join(ConfigDir(), "audit.db")
}

// Validate checks cross-field constraints viper cannot express.
func Validate(cfg Config) error {
	if cfg.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.BackoffFactor < 1 {
		return fmt.Errorf("engine.backoff_factor must be at least 1, got %g", cfg.Engine.BackoffFactor)
	}
	if cfg.Engine.BackoffInitial < 0 || cfg.Engine.BackoffMax < 0 {
		return fmt.Errorf("engine backoff durations must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Clients))
	defaults := 0
	for i, c := range cfg.Clients {
		if c.Provider == "" {
			return fmt.Errorf("clients[%d]: provider is required", i)
		}
		name := c.Name
		if name == "" {
			name = c.Provider + "-" + c.Model
		}
		if seen[name] {
			return fmt.Errorf("clients[%d]: duplicate client name %q", i, name)
		}
		seen[name] = true
		if c.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one client may be marked default, got %d", defaults)
	}

	if cfg.Prompts.Reload && cfg.Prompts.Dir == "" {
		return fmt.Errorf("prompts.reload requires prompts.dir")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		return fmt.Errorf("audit.enabled requires audit.db_path")
	}

	switch cfg.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp; got %q", cfg.Tracing.Exporter)
	}
	return nil
}

// BuildClientSet constructs every configured client against its
// registered backend. The Default flag marks the set's default pointer.
func BuildClientSet(cfg Config, opts ...dispatch.ClientOption) (*dispatch.ClientSet, error) {
	set := dispatch.NewClientSet()
	var defaultName string

	for i, cc := range cfg.Clients {
		backend, err := dispatch.NewBackend(cc.Provider, cc.Options)
		if err != nil {
			return nil, fmt.Errorf("clients[%d]: %w", i, err)
		}
		client := dispatch.NewClient(dispatch.ClientConfig{
			Name:        cc.Name,
			Provider:    cc.Provider,
			Model:       cc.Model,
			Timeout:     cc.Timeout,
			MaxAttempts: cc.MaxAttempts,
			SoftFail:    cc.SoftFail,
		}, backend, opts...)
		if err := set.Add(client); err != nil {
			return nil, fmt.Errorf("clients[%d]: %w", i, err)
		}
		if cc.Default {
			defaultName = client.Name()
		}
	}

	if defaultName != "" {
		if err := set.SetDefault(defaultName); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// DefaultConfigTemplate returns a commented starter config.
func DefaultConfigTemplate() string {
	return `# relay configuration
#
# strip_tokens extends the built-in list of tokens removed when deriving
# component names (Component, Impl, Base).
# strip_tokens:
#   - Codec

# discovery lists packages whose registrations run at startup.
# discovery:
#   - yourapp/services

engine:
  max_attempts: 3
  backoff_initial: 500ms
  backoff_factor: 2.0
  backoff_jitter: 100ms
  backoff_max: 10s

clients:
  - provider: mock
    model: mock-1
    default: true

prompts:
  dir: ""
  reload: false
  debounce: 500ms

audit:
  enabled: false

tracing:
  enabled: false
  exporter: file
  sample_rate: 1.0
`
}

// WriteDefaultConfig writes the starter config to configPath, creating
// parent directories. Refuses to overwrite an existing file.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
