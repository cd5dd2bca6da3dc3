// Package config loads and persists the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// AccountConfig declares one server account. The password is optional;
// when empty it is looked up in the credential store instead, which is
// the recommended setup.
type AccountConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Default  bool   `yaml:"default,omitempty"`
}

// Config is the on-disk configuration.
type Config struct {
	// DBPath locates the SQLite state database.
	DBPath string `yaml:"db_path"`
	// RefreshCron schedules background sync passes (cron syntax).
	RefreshCron string `yaml:"refresh_cron"`
	// AllowInsecure permits plain-http servers. Off by default.
	AllowInsecure bool `yaml:"allow_insecure,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
	// ReminderLeadMinutes is how far ahead of an occurrence reminders
	// fire.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes,omitempty"`

	Accounts []AccountConfig `yaml:"accounts"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		DBPath:              "davsync.db",
		RefreshCron:         "*/15 * * * *",
		LogLevel:            "info",
		ReminderLeadMinutes: 10,
	}
}

// ReminderLead returns the reminder lead as a duration.
func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadMinutes) * time.Minute
}

// Load reads and validates the file at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail deep inside a
// sync pass.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("invalid refresh_cron %q: %w", c.RefreshCron, err)
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.ReminderLeadMinutes < 0 {
		return fmt.Errorf("reminder_lead_minutes must not be negative")
	}
	for i, a := range c.Accounts {
		if a.URL == "" || a.Username == "" {
			return fmt.Errorf("account %d: url and username are required", i)
		}
	}
	return nil
}

// Save writes the configuration atomically with owner-only permissions,
// since the file may carry passwords.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
