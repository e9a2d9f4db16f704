package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	recognizedLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	recognizedFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "is required"})
	}
	if u := cfg.Server.PublicURL; u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, ValidationError{Field: "server.public_url", Message: fmt.Sprintf("invalid URL %q", u)})
		}
	}

	if u := cfg.GitHub.APIURL; u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, ValidationError{Field: "github.api_url", Message: fmt.Sprintf("invalid URL %q", u)})
		}
	}
	validateDuration("github.timeout", cfg.GitHub.Timeout, &errs)

	validateDuration("polling.interval", cfg.Polling.Interval, &errs)
	if d, err := time.ParseDuration(cfg.Polling.Interval); err == nil && d > 0 && d < time.Second {
		errs = append(errs, ValidationError{Field: "polling.interval", Message: "must be at least 1s"})
	}
	if cfg.Polling.Limit < 1 || cfg.Polling.Limit > 100 {
		errs = append(errs, ValidationError{Field: "polling.limit", Message: "must be between 1 and 100"})
	}

	validateMail(cfg.Mail, &errs)

	if !recognizedLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level)})
	}
	if !recognizedFormats[cfg.Log.Format] {
		errs = append(errs, ValidationError{Field: "log.format", Message: fmt.Sprintf("unrecognized format %q (want console or json)", cfg.Log.Format)})
	}
	for field, v := range map[string]int{
		"log.max_size_mb":  cfg.Log.MaxSizeMB,
		"log.max_backups":  cfg.Log.MaxBackups,
		"log.max_age_days": cfg.Log.MaxAgeDays,
	} {
		if v < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
		}
	}

	return errs
}

func validateMail(m MailConfig, errs *[]ValidationError) {
	validateDuration("mail.timeout", m.Timeout, errs)
	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			*errs = append(*errs, ValidationError{Field: "mail.timezone", Message: fmt.Sprintf("unknown timezone %q", m.Timezone)})
		}
	}
	if !m.Enabled() {
		return
	}
	if m.Port < 1 || m.Port > 65535 {
		*errs = append(*errs, ValidationError{Field: "mail.port", Message: fmt.Sprintf("invalid port %d", m.Port)})
	}
	if m.From == "" {
		*errs = append(*errs, ValidationError{Field: "mail.from", Message: "is required when mail.host is set"})
	} else if _, err := mail.ParseAddress(m.From); err != nil {
		*errs = append(*errs, ValidationError{Field: "mail.from", Message: fmt.Sprintf("invalid address %q", m.From)})
	}
	if m.Username != "" && m.Password == "" {
		*errs = append(*errs, ValidationError{Field: "mail.password", Message: "is required when mail.username is set"})
	}
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
