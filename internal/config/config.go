// Package config loads and validates agenttune configuration.
// Config lives at .agenttune/config.yaml under the workspace; environment
// variables override the API key and storage backend for CI and containers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agenttune configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Optimization policy thresholds and cooldown
	Policy PolicyConfig `yaml:"policy"`

	// Metrics/backup/report storage
	Storage StorageConfig `yaml:"storage"`

	// Suggestion generator (LLM)
	LLM LLMConfig `yaml:"llm"`

	// Post-mutation verification
	Safety SafetyConfig `yaml:"safety"`

	// Debug logging
	Logging LoggingConfig `yaml:"logging"`
}

// PolicyConfig configures the optimization decision engine.
type PolicyConfig struct {
	// Cooldown is the minimum elapsed time between two optimization cycles
	// for the same agent (e.g. "24h").
	Cooldown string `yaml:"cooldown"`

	// Trigger thresholds
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold"`   // optimize if exceeded
	SuccessRateThreshold float64 `yaml:"success_rate_threshold"` // optimize if below
	FeedbackThreshold    float64 `yaml:"feedback_threshold"`     // optimize if below
	ImmediateFeedback    float64 `yaml:"immediate_feedback"`     // immediate trigger if below

	// EvaluationInterval drives the periodic sweep in serve mode (e.g. "5m").
	EvaluationInterval string `yaml:"evaluation_interval"`
}

// StorageConfig configures the metrics store and artifact areas.
type StorageConfig struct {
	// Backend selects the metrics store implementation: "file" or "sqlite".
	Backend string `yaml:"backend"`

	// DataDir is the workspace-relative data directory. Defaults to .agenttune.
	DataDir string `yaml:"data_dir"`
}

// LLMConfig configures the suggestion generator's LLM client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"` // per-call bound; timeout means "no suggestions"
}

// SafetyConfig configures backup and verification behavior.
type SafetyConfig struct {
	// VerificationWindow is how long to watch the error stream after a
	// mutation before declaring it healthy (e.g. "30s").
	VerificationWindow string `yaml:"verification_window"`

	// RecentErrorLimit bounds how many trailing error events are scanned
	// synchronously when deciding whether a mutation regressed.
	RecentErrorLimit int `yaml:"recent_error_limit"`
}

// LoggingConfig configures category debug logging (see internal/logging).
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Name:    "agenttune",
		Version: "1.0",
		Policy: PolicyConfig{
			Cooldown:             "24h",
			ErrorRateThreshold:   0.15,
			SuccessRateThreshold: 0.8,
			FeedbackThreshold:    3.5,
			ImmediateFeedback:    3.0,
			EvaluationInterval:   "5m",
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: ".agenttune",
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Safety: SafetyConfig{
			VerificationWindow: "30s",
			RecentErrorLimit:   20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from the workspace, layering file values over defaults
// and environment overrides over both. A missing file is not an error.
func Load(workspacePath string) (*Config, error) {
	return LoadFile(filepath.Join(workspacePath, ".agenttune", "config.yaml"))
}

// LoadFile reads config from an explicit path, with the same layering as Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the workspace.
func Save(workspacePath string, cfg *Config) error {
	dir := filepath.Join(workspacePath, ".agenttune")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// applyEnvOverrides layers environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if v := os.Getenv("AGENTTUNE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("AGENTTUNE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("AGENTTUNE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("AGENTTUNE_COOLDOWN"); v != "" {
		c.Policy.Cooldown = v
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want file or sqlite)", c.Storage.Backend)
	}
	if _, err := c.CooldownDuration(); err != nil {
		return err
	}
	if _, err := c.VerificationWindow(); err != nil {
		return err
	}
	if c.Policy.ErrorRateThreshold < 0 || c.Policy.ErrorRateThreshold > 1 {
		return fmt.Errorf("error_rate_threshold %v out of [0,1]", c.Policy.ErrorRateThreshold)
	}
	if c.Policy.SuccessRateThreshold < 0 || c.Policy.SuccessRateThreshold > 1 {
		return fmt.Errorf("success_rate_threshold %v out of [0,1]", c.Policy.SuccessRateThreshold)
	}
	return nil
}

// CooldownDuration parses the policy cooldown, defaulting to 24h.
func (c *Config) CooldownDuration() (time.Duration, error) {
	return parseDuration(c.Policy.Cooldown, 24*time.Hour, "policy.cooldown")
}

// EvaluationInterval parses the periodic sweep interval, defaulting to 5m.
func (c *Config) EvaluationInterval() (time.Duration, error) {
	return parseDuration(c.Policy.EvaluationInterval, 5*time.Minute, "policy.evaluation_interval")
}

// LLMTimeout parses the per-call LLM bound, defaulting to 60s.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseDuration(c.LLM.Timeout, 60*time.Second, "llm.timeout")
}

// VerificationWindow parses the post-mutation watch window, defaulting to 30s.
func (c *Config) VerificationWindow() (time.Duration, error) {
	return parseDuration(c.Safety.VerificationWindow, 30*time.Second, "safety.verification_window")
}

// DataDir resolves the data directory against the workspace.
func (c *Config) DataDir(workspacePath string) string {
	dir := c.Storage.DataDir
	if dir == "" {
		dir = ".agenttune"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspacePath, dir)
}

func parseDuration(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}
