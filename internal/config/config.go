// Package config handles Amazo configuration loading, including
// decryption of the encrypted-at-rest config artifact.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/amazo/internal/paths"
)

// Well-known locations, relative to the working directory unless absolute.
const (
	DefaultEncryptedPath = "my-core/my-config.yaml.gpg"
	DefaultPlainPath     = "my-core/my-config.yaml"
)

// DefaultKeyPaths returns the passphrase file candidates in the order
// they are checked. The first one that exists wins.
func DefaultKeyPaths() []string {
	return []string{"/root/.amazo-key", "/var/root/.amazo-key"}
}

// Loop interval bounds. Configured intervals outside this range are
// clamped by [ClampInterval].
const (
	MinInterval = 120 * time.Second
	MaxInterval = 3600 * time.Second
)

// Defaults for recognized keys.
const (
	DefaultModel          = "qwen2.5:7b"
	DefaultAPIBase        = "http://localhost:11434"
	DefaultAPIKey         = "ollama"
	DefaultLoopInterval   = 300
	DefaultCommandTimeout = 120
	DefaultModelTimeout   = 300
	DefaultLogFile        = "amazo.log"
)

// Config holds all Amazo configuration. It is read once at startup and
// never modified afterwards.
type Config struct {
	Model   string `yaml:"model"`
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`

	// LoopInterval is the sleep between cycles in seconds, before
	// clamping to [MinInterval, MaxInterval].
	LoopInterval int `yaml:"loop_interval"`

	// CommandTimeout bounds each bash tool invocation, in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// ModelTimeout bounds each model request, in seconds.
	ModelTimeout int `yaml:"model_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text, json, or auto
	LogFile   string `yaml:"log_file"`

	// LedgerPath is the SQLite cycle ledger. Empty disables it.
	LedgerPath string `yaml:"ledger_path"`

	Files     FilesConfig     `yaml:"files"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// FilesConfig locates the on-disk state the agent reads and writes
// around each cycle.
type FilesConfig struct {
	Heartbeat    string `yaml:"heartbeat"`
	WakeupPrompt string `yaml:"wakeup_prompt"`
	WakeState    string `yaml:"wake_state"`
	PostIts      string `yaml:"post_its"`
}

// TelemetryConfig controls OpenTelemetry traces and metrics.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // stdout or none
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with every recognized key at its
// default value.
func Default() *Config {
	return &Config{
		Model:          DefaultModel,
		APIBase:        DefaultAPIBase,
		APIKey:         DefaultAPIKey,
		LoopInterval:   DefaultLoopInterval,
		CommandTimeout: DefaultCommandTimeout,
		ModelTimeout:   DefaultModelTimeout,
		LogLevel:       "info",
		LogFormat:      "auto",
		LogFile:        DefaultLogFile,
		Files: FilesConfig{
			Heartbeat:    "my-core/my-heartbeat.txt",
			WakeupPrompt: "my-core/my-wakeup-prompt.md",
			WakeState:    "my-core/my-wake-state.md",
			PostIts:      "my-core/my-post-its.md",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "stdout",
			ServiceName: "amazo",
		},
	}
}

// Parse decodes YAML configuration over [Default]. Environment
// variable references (${VAR}) are expanded before decoding. The
// result is validated.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a plaintext YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// applyDefaults restores defaults for keys that were present but empty
// or non-positive, and expands ~ in file paths. LoopInterval is left
// alone: the clamp handles it.
func (c *Config) applyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Model) == "" {
		c.Model = d.Model
	}
	if strings.TrimSpace(c.APIBase) == "" {
		c.APIBase = d.APIBase
	}
	if c.APIKey == "" {
		c.APIKey = d.APIKey
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = d.ModelTimeout
	}
	if c.Files.Heartbeat == "" {
		c.Files.Heartbeat = d.Files.Heartbeat
	}
	if c.Files.WakeupPrompt == "" {
		c.Files.WakeupPrompt = d.Files.WakeupPrompt
	}
	if c.Files.WakeState == "" {
		c.Files.WakeState = d.Files.WakeState
	}
	if c.Files.PostIts == "" {
		c.Files.PostIts = d.Files.PostIts
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	paths.ExpandAll(&c.LogFile, &c.LedgerPath,
		&c.Files.Heartbeat, &c.Files.WakeupPrompt, &c.Files.WakeState, &c.Files.PostIts)
}

// Validate checks the ambient settings. The recognized agent keys have
// no invalid values once defaults are applied.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("log_format: unknown format %q (valid: auto, text, json)", c.LogFormat)
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "stdout", "none":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q (valid: stdout, none)", c.Telemetry.Exporter)
	}
	return nil
}

// Interval returns the configured loop interval, clamped.
func (c *Config) Interval() time.Duration {
	return ClampInterval(c.LoopInterval)
}

// CommandTimeoutDuration returns the bash tool timeout.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// ModelTimeoutDuration returns the per-request model timeout.
func (c *Config) ModelTimeoutDuration() time.Duration {
	return time.Duration(c.ModelTimeout) * time.Second
}

// ClampInterval converts a loop interval in seconds into a duration
// within [MinInterval, MaxInterval], inclusive.
func ClampInterval(seconds int) time.Duration {
	switch d := time.Duration(seconds) * time.Second; {
	case seconds < int(MinInterval/time.Second):
		return MinInterval
	case seconds > int(MaxInterval/time.Second):
		return MaxInterval
	default:
		return d
	}
}
