package config

import "time"

// Config is the top-level configuration parsed from autoflow.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	GitHub   GitHubConfig   `yaml:"github"`
	Polling  PollingConfig  `yaml:"polling"`
	Mail     MailConfig     `yaml:"mail"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL is the externally reachable base URL used when registering
	// webhooks, e.g. https://autoflow.example.com.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig selects the store. A postgres:// DSN uses Postgres;
// anything else is a SQLite file path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// GitHubConfig configures the upstream API and webhook verification.
type GitHubConfig struct {
	APIURL        string `yaml:"api_url"`
	Timeout       string `yaml:"timeout"`
	WebhookSecret string `yaml:"webhook_secret"`
	// Token, when set, is loaded as the credential for every active pipeline
	// at startup. It is never written back to disk.
	Token string `yaml:"token"`
}

// PollingConfig configures the fallback poller.
type PollingConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
	Limit    int    `yaml:"limit"`
}

// MailConfig configures SMTP delivery. An empty host disables mail.
type MailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
	Timeout     string `yaml:"timeout"`
	TemplateDir string `yaml:"template_dir"`
	Timezone    string `yaml:"timezone"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// PollingEnabled reports whether the poller should run. Defaults to true.
func (p PollingConfig) PollingEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// IntervalDuration parses Interval. Call Validate first.
func (p PollingConfig) IntervalDuration() time.Duration {
	return parseDurationOr(p.Interval, 30*time.Second)
}

// TimeoutDuration parses Timeout.
func (g GitHubConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(g.Timeout, 15*time.Second)
}

// TimeoutDuration parses Timeout.
func (m MailConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(m.Timeout, 30*time.Second)
}

// Enabled reports whether SMTP delivery is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

// Location loads Timezone, defaulting to UTC.
func (m MailConfig) Location() *time.Location {
	if m.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
