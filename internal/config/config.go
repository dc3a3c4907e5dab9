// Package config loads the timebook daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/timebook/internal/models"
)

// DefaultListen is the API address used by the daemon and the CLI.
const DefaultListen = "127.0.0.1:7466"

// Config holds daemon configuration.
type Config struct {
	// Listen is the HTTP API listen address.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`
	// TickInterval is the length of one engine second. Only tests and demos
	// should change it.
	TickInterval time.Duration `yaml:"tick_interval"`
	// PersistDebounce collapses bursts of changes into one save.
	PersistDebounce time.Duration `yaml:"persist_debounce"`

	Pomodoro PomodoroConfig `yaml:"pomodoro"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// PomodoroConfig holds session durations.
type PomodoroConfig struct {
	FocusSeconds int `yaml:"focus_seconds"`
	BreakSeconds int `yaml:"break_seconds"`
	// DrawFromUnallocated makes focus time come out of the Unallocated allowance.
	DrawFromUnallocated bool `yaml:"draw_from_unallocated"`
}

// LedgerConfig holds bootstrap ledger values.
type LedgerConfig struct {
	// InitialAllowance seeds Unallocated on first start, in seconds.
	InitialAllowance int64 `yaml:"initial_allowance"`
}

// Dir returns ~/.timebook.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timebook"
	}
	return filepath.Join(home, ".timebook")
}

// DefaultPath returns ~/.timebook/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	settings := models.DefaultSettings()
	return &Config{
		Listen:          DefaultListen,
		DBPath:          filepath.Join(Dir(), "timebook.db"),
		LogLevel:        "info",
		TickInterval:    time.Second,
		PersistDebounce: 500 * time.Millisecond,
		Pomodoro: PomodoroConfig{
			FocusSeconds: settings.FocusSeconds,
			BreakSeconds: settings.BreakSeconds,
		},
		Ledger: LedgerConfig{InitialAllowance: 5 * 60 * 60},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if !c.Settings().Valid() {
		return fmt.Errorf("pomodoro durations must be positive")
	}
	if c.Ledger.InitialAllowance < 0 {
		return fmt.Errorf("initial_allowance must not be negative")
	}
	if c.TickInterval < 0 || c.PersistDebounce < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

// Settings returns the configured pomodoro durations.
func (c *Config) Settings() models.Settings {
	return models.Settings{
		FocusSeconds: c.Pomodoro.FocusSeconds,
		BreakSeconds: c.Pomodoro.BreakSeconds,
	}
}
