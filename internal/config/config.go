// Package config provides YAML-based configuration loading for Storyforge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Storyforge configuration, loaded from storyforge.yaml.
type Config struct {
	ContextID    string             `yaml:"context_id"`
	Generation   GenerationConfig   `yaml:"generation"`
	Artifacts    ArtifactsConfig    `yaml:"artifacts"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Preview      PreviewConfig      `yaml:"preview"`
	Database     DatabaseConfig     `yaml:"database"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// GenerationConfig holds connection settings for the code-generation service.
type GenerationConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// APIKey resolves the bearer token from the configured environment variable.
func (g GenerationConfig) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(g.APIKeyEnv)
}

// Timeout returns the per-request ceiling.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// ArtifactsConfig locates the service that owns generated files.
type ArtifactsConfig struct {
	BaseURL string `yaml:"base_url"`
}

// OrchestratorConfig tunes the build loop.
type OrchestratorConfig struct {
	SettleMs       int      `yaml:"settle_ms"`
	FailureDelayMs int      `yaml:"failure_delay_ms"`
	MaxFixAttempts int      `yaml:"max_fix_attempts"`
	FileTools      []string `yaml:"file_tools"`
}

// SettleInterval is the quiescence delay before checking the preview.
func (o OrchestratorConfig) SettleInterval() time.Duration {
	return time.Duration(o.SettleMs) * time.Millisecond
}

// FailureDelay is the pause after a story fails.
func (o OrchestratorConfig) FailureDelay() time.Duration {
	return time.Duration(o.FailureDelayMs) * time.Millisecond
}

// PreviewConfig tunes the preview error observer.
type PreviewConfig struct {
	IgnorePatterns []string `yaml:"ignore_patterns"`
	HistoryLimit   int      `yaml:"history_limit"`
}

// DatabaseConfig selects where run history is stored.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
}

// DashboardConfig holds the control API listener settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig configures chat notifications. Each platform is enabled when
// its channel is set.
type NotifyConfig struct {
	Slack     ChatConfig `yaml:"slack"`
	Discord   ChatConfig `yaml:"discord"`
	PulseCron string     `yaml:"pulse_cron"`
}

// ChatConfig identifies a chat channel and the env var holding its bot token.
type ChatConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	Channel     string `yaml:"channel"`
}

// Enabled reports whether the platform has a target channel.
func (c ChatConfig) Enabled() bool {
	return c.Channel != ""
}

// BotToken resolves the token from the configured environment variable.
func (c ChatConfig) BotToken() string {
	if c.BotTokenEnv == "" {
		return ""
	}
	return os.Getenv(c.BotTokenEnv)
}

// Default values applied when a setting is omitted.
const (
	DefaultTimeoutSec     = 600
	DefaultSettleMs       = 3000
	DefaultFailureDelayMs = 1500
	DefaultMaxFixAttempts = 3
	DefaultHistoryLimit   = 100
	DefaultDBPath         = "storyforge.db"
)

// DefaultFileTools are the generation tools whose success changes files.
var DefaultFileTools = []string{"write_file", "create_file", "edit_file", "delete_file", "rename_file"}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Generation.BaseURL = strings.TrimRight(c.Generation.BaseURL, "/")
	if c.Generation.TimeoutSec == 0 {
		c.Generation.TimeoutSec = DefaultTimeoutSec
	}
	if c.Artifacts.BaseURL == "" {
		c.Artifacts.BaseURL = c.Generation.BaseURL
	}
	c.Artifacts.BaseURL = strings.TrimRight(c.Artifacts.BaseURL, "/")

	if c.Orchestrator.SettleMs == 0 {
		c.Orchestrator.SettleMs = DefaultSettleMs
	}
	if c.Orchestrator.FailureDelayMs == 0 {
		c.Orchestrator.FailureDelayMs = DefaultFailureDelayMs
	}
	if c.Orchestrator.MaxFixAttempts == 0 {
		c.Orchestrator.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if len(c.Orchestrator.FileTools) == 0 {
		c.Orchestrator.FileTools = append([]string(nil), DefaultFileTools...)
	}

	if c.Preview.HistoryLimit == 0 {
		c.Preview.HistoryLimit = DefaultHistoryLimit
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = DefaultDBPath
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "storyforge"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.ContextID == "" {
		errs = append(errs, "context_id is required")
	}
	if c.Generation.BaseURL == "" {
		errs = append(errs, "generation.base_url is required")
	} else if !strings.HasPrefix(c.Generation.BaseURL, "http://") && !strings.HasPrefix(c.Generation.BaseURL, "https://") {
		errs = append(errs, "generation.base_url must be an http(s) URL")
	}
	if c.Generation.TimeoutSec < 0 {
		errs = append(errs, "generation.timeout_sec must not be negative")
	}
	if c.Orchestrator.SettleMs < 0 {
		errs = append(errs, "orchestrator.settle_ms must not be negative")
	}
	if c.Orchestrator.FailureDelayMs < 0 {
		errs = append(errs, "orchestrator.failure_delay_ms must not be negative")
	}
	if c.Orchestrator.MaxFixAttempts < 0 {
		errs = append(errs, "orchestrator.max_fix_attempts must not be negative")
	}
	if c.Preview.HistoryLimit < 0 {
		errs = append(errs, "preview.history_limit must not be negative")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, "dashboard.port must be between 0 and 65535")
	}
	if c.Notify.PulseCron != "" {
		if _, err := CronParser.Parse(c.Notify.PulseCron); err != nil {
			errs = append(errs, fmt.Sprintf("notify.pulse_cron: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
