// Package config loads engine configuration from file, environment and
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	Accounts     []AccountConfig     `mapstructure:"accounts"`
	Technologies []TechnologyConfig  `mapstructure:"technologies"`
}

// DatabaseConfig selects the revision store backend.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is valid for
	// throwaway runs.
	Path string `mapstructure:"path"`
}

// EngineConfig tunes run behavior.
type EngineConfig struct {
	// Concurrency caps parallel technology runs per account.
	Concurrency int `mapstructure:"concurrency"`
	// MaxAttempts bounds retries before a technology is abandoned.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BatchSize is the default watcher page size.
	BatchSize int `mapstructure:"batch_size"`
	// ExceptionTTL is how long diagnostic records live.
	ExceptionTTL time.Duration `mapstructure:"exception_ttl"`
	// RulesDir holds per-technology YAML rule files.
	RulesDir string `mapstructure:"rules_dir"`
}

// NotifierConfig configures summary delivery.
type NotifierConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	SlackChannel    string `mapstructure:"slack_channel"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// Endpoint is the OTLP HTTP endpoint. Empty disables export.
	Endpoint string `mapstructure:"endpoint"`
}

// AccountConfig is one monitored account.
type AccountConfig struct {
	Name       string   `mapstructure:"name"`
	Identifier string   `mapstructure:"identifier"`
	ThirdParty bool     `mapstructure:"third_party"`
	Aliases    []string `mapstructure:"aliases"`
	Notes      string   `mapstructure:"notes"`
}

// TechnologyConfig overrides per-technology behavior.
type TechnologyConfig struct {
	Name             string   `mapstructure:"name"`
	BatchSize        int      `mapstructure:"batch_size"`
	ReauditEphemeral bool     `mapstructure:"reaudit_ephemeral"`
	Ignore           []string `mapstructure:"ignore"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "driftwatch.db"},
		Engine: EngineConfig{
			Concurrency:  8,
			MaxAttempts:  3,
			BatchSize:    100,
			ExceptionTTL: 10 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from path (optional) and DRIFTWATCH_* env
// vars, layered over Default.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("engine.concurrency", def.Engine.Concurrency)
	v.SetDefault("engine.max_attempts", def.Engine.MaxAttempts)
	v.SetDefault("engine.batch_size", def.Engine.BatchSize)
	v.SetDefault("engine.exception_ttl", def.Engine.ExceptionTTL)

	v.SetEnvPrefix("DRIFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("config: engine.concurrency must be positive")
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("config: engine.max_attempts must be positive")
	}
	seen := map[string]bool{}
	for _, a := range c.Accounts {
		if a.Name == "" || a.Identifier == "" {
			return fmt.Errorf("config: every account needs a name and identifier")
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate account %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Technology returns the override block for name, if present.
func (c Config) Technology(name string) (TechnologyConfig, bool) {
	for _, t := range c.Technologies {
		if t.Name == name {
			return t, true
		}
	}
	return TechnologyConfig{}, false
}
