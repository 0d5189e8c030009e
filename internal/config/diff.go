package config

import (
	"reflect"
	"strings"

	logx "calendlypop/pkg/logx"

	"github.com/samber/lo"
)

// SummarizeConfigChange returns the changed section names and safe
// attributes for logging. Secrets (nonce secret, password hashes) are
// reported only as presence or counts.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)))
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	if oa.Path != na.Path || oa.PageTitle != na.PageTitle ||
		oa.NonceSecret != na.NonceSecret || oa.NonceLifetime != na.NonceLifetime ||
		oa.ClampDelayEnabled() != na.ClampDelayEnabled() ||
		oa.SubmitRatePerMin != na.SubmitRatePerMin ||
		!reflect.DeepEqual(oa.Users, na.Users) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.String("admin.path", na.Path),
			logx.Bool("admin.clamp_delay", na.ClampDelayEnabled()),
			logx.Int("admin.user_count", len(na.Users)),
			logx.Strings("admin.users", lo.Map(na.Users, func(u AdminUser, _ int) string { return u.Name })),
			logx.Bool("admin.nonce_secret_set", strings.TrimSpace(na.NonceSecret) != ""),
		)
	}

	if oldCfg.Site != newCfg.Site {
		changed = append(changed, "site")
		attrs = append(attrs, logx.String("site.pages_dir", newCfg.Site.PagesDir))
	}

	if oldCfg.Widget != newCfg.Widget {
		changed = append(changed, "widget")
		attrs = append(attrs,
			logx.String("widget.script_url", newCfg.Widget.ScriptURL),
			logx.String("widget.retry_interval", newCfg.Widget.RetryInterval),
			logx.Int("widget.max_retries", newCfg.Widget.MaxRetries),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.compact_schedule", newCfg.Storage.CompactSchedule),
		)
	}

	return changed, attrs
}
