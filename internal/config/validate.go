package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// CronParser accepts 5-field specs plus descriptors like "@every 10m".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the fields that would otherwise only fail at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"admin.nonce_lifetime", cfg.Admin.NonceLifetime},
		{"widget.retry_interval", cfg.Widget.RetryInterval},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if p := strings.TrimSpace(cfg.Admin.Path); p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("admin.path: must start with '/'"))
	}
	if cfg.Admin.SubmitRatePerMin < 0 {
		errs = append(errs, fmt.Errorf("admin.submit_rate_per_min: must be >= 0"))
	}
	seen := map[string]bool{}
	for i, u := range cfg.Admin.Users {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("admin.users[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("admin.users[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if !strings.HasPrefix(u.PasswordHash, "$2") {
			errs = append(errs, fmt.Errorf("admin.users[%d]: password_hash must be a bcrypt hash", i))
		}
	}
	if cfg.Widget.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("widget.max_retries: must be >= 0"))
	}
	if s := strings.TrimSpace(cfg.Widget.ScriptURL); s != "" {
		if u, err := url.Parse(s); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("widget.script_url: must be an absolute http(s) URL"))
		}
	}
	if s := strings.TrimSpace(cfg.Storage.CompactSchedule); s != "" && !strings.EqualFold(s, "off") {
		if _, err := CronParser.Parse(s); err != nil {
			errs = append(errs, fmt.Errorf("storage.compact_schedule: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	return errors.Join(errs...)
}
