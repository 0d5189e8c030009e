package app

import (
	"os"
	"strings"
	"time"

	"calendlypop/internal/admin"
	"calendlypop/internal/auth"
	"calendlypop/internal/config"
	"calendlypop/internal/nonce"
	"calendlypop/internal/server"
	"calendlypop/internal/storage"
	"calendlypop/internal/widget"
	logx "calendlypop/pkg/logx"

	"github.com/samber/lo"
)

// EnvNonceSecret overrides admin.nonce_secret.
const EnvNonceSecret = "CALENDLYPOP_NONCE_SECRET"

const (
	defaultPagesDir        = "./pages"
	defaultCompactSchedule = "@every 10m"
	defaultStorageBusy     = 5 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultStorageBusy)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 15*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapWidgetOptions(cfg *config.Config) (widget.Options, error) {
	retry, err := config.ParseDurationOrDefault("widget.retry_interval", cfg.Widget.RetryInterval, widget.DefaultRetryInterval)
	if err != nil {
		return widget.Options{}, err
	}
	return widget.Options{
		ScriptURL:     strings.TrimSpace(cfg.Widget.ScriptURL),
		RetryInterval: retry,
		MaxRetries:    cfg.Widget.MaxRetries,
		ButtonLabel:   cfg.Widget.ButtonLabel,
	}.WithDefaults(), nil
}

func mapAdminOptions(cfg *config.Config) admin.Options {
	return admin.Options{
		Path:             strings.TrimSpace(cfg.Admin.Path),
		Title:            strings.TrimSpace(cfg.Admin.PageTitle),
		ClampDelay:       cfg.Admin.ClampDelayEnabled(),
		SubmitRatePerMin: cfg.Admin.SubmitRatePerMin,
	}
}

func mapUsers(cfg *config.Config) []auth.User {
	return lo.Map(cfg.Admin.Users, func(u config.AdminUser, _ int) auth.User {
		return auth.User{Name: u.Name, PasswordHash: u.PasswordHash, Capabilities: u.Capabilities}
	})
}

// nonceSecret prefers the environment, then the config file. ok is false
// when neither is set.
func nonceSecret(cfg *config.Config) (secret []byte, ok bool) {
	if s := strings.TrimSpace(os.Getenv(EnvNonceSecret)); s != "" {
		return []byte(s), true
	}
	if s := strings.TrimSpace(cfg.Admin.NonceSecret); s != "" {
		return []byte(s), true
	}
	return nil, false
}

func mapNonceIssuer(cfg *config.Config, log logx.Logger) (*nonce.Issuer, error) {
	lifetime, err := config.ParseDurationOrDefault("admin.nonce_lifetime", cfg.Admin.NonceLifetime, nonce.DefaultLifetime)
	if err != nil {
		return nil, err
	}
	secret, ok := nonceSecret(cfg)
	if !ok {
		log.Warn("no nonce secret configured; using a random one (forms break across restarts)",
			logx.String("env", EnvNonceSecret))
		if secret, err = nonce.RandomSecret(); err != nil {
			return nil, err
		}
	}
	return nonce.NewIssuer(secret, lifetime)
}

func pagesDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Site.PagesDir); d != "" {
		return d
	}
	return defaultPagesDir
}

// compactSchedule returns "" when compaction is disabled.
func compactSchedule(cfg *config.Config) string {
	s := strings.TrimSpace(cfg.Storage.CompactSchedule)
	switch {
	case s == "":
		return defaultCompactSchedule
	case strings.EqualFold(s, "off"):
		return ""
	}
	return s
}
