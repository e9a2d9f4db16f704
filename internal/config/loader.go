package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads and parses configuration from the given YAML file path, then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config file in standard locations and loads the
// first one found. Search order: ./autoflow.yaml, ~/.autoflow/config.yaml.
// With no file, built-in defaults plus environment overrides are used. The
// returned path is empty in that case.
func LoadDefault() (*Config, string, error) {
	candidates := []string{"autoflow.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".autoflow", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}

	cfg := &Config{}
	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	return cfg, "", nil
}

// applyEnv overrides file values with environment variables when set.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.DSN, "DATABASE_URL")
	set(&cfg.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	set(&cfg.GitHub.Token, "GITHUB_TOKEN")
	set(&cfg.Mail.Host, "SMTP_HOST")
	set(&cfg.Mail.Username, "SMTP_USER")
	set(&cfg.Mail.Password, "SMTP_PASS")
	set(&cfg.Mail.From, "SMTP_FROM")
	set(&cfg.Server.Addr, "AUTOFLOW_ADDR")
	set(&cfg.Log.Level, "AUTOFLOW_LOG_LEVEL")

	if v := getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mail.Port = port
		}
	}
}

// applyDefaults fills unset fields with built-in values. An empty database
// DSN is left for the caller to resolve to the default SQLite path.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.GitHub.Timeout == "" {
		cfg.GitHub.Timeout = "15s"
	}
	if cfg.Polling.Interval == "" {
		cfg.Polling.Interval = "30s"
	}
	if cfg.Polling.Limit == 0 {
		cfg.Polling.Limit = 10
	}
	if cfg.Mail.Host != "" && cfg.Mail.Port == 0 {
		cfg.Mail.Port = 587
	}
	if cfg.Mail.Timeout == "" {
		cfg.Mail.Timeout = "30s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
