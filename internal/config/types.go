package config

// Config is the operator configuration file (JSON or YAML).
//
// The two widget settings (link and delay) are NOT here: they live in
// storage and are edited through the admin settings page.
type Config struct {
	HTTP    HTTPConfig    `json:"http"`
	Admin   AdminConfig   `json:"admin"`
	Site    SiteConfig    `json:"site"`
	Widget  WidgetConfig  `json:"widget"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
}

// HTTPConfig controls the listener. Durations are Go duration strings.
//
// Security note:
//   - Prefer binding to localhost behind a reverse proxy (e.g. "127.0.0.1:8080").
type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// AdminConfig controls the settings page.
type AdminConfig struct {
	Path      string `json:"path,omitempty"`       // default: "/admin/calendly-integration"
	PageTitle string `json:"page_title,omitempty"` // default: "Calendly Integration Settings"

	// NonceSecret signs anti-forgery tokens (do not log). Overridden by
	// CALENDLYPOP_NONCE_SECRET. When both are empty a random per-process
	// secret is used.
	NonceSecret   string `json:"nonce_secret,omitempty"`
	NonceLifetime string `json:"nonce_lifetime,omitempty"` // default: "24h"

	// ClampDelay forces submitted delays into [0,10]. Pointer so that an
	// omitted key defaults to true while an explicit false keeps the
	// sanitize-only behavior.
	ClampDelay *bool `json:"clamp_delay,omitempty"`

	// SubmitRatePerMin limits settings submissions per admin. 0 = default (30).
	SubmitRatePerMin int `json:"submit_rate_per_min,omitempty"`

	Users []AdminUser `json:"users"`
}

type AdminUser struct {
	Name         string   `json:"name"`
	PasswordHash string   `json:"password_hash"` // bcrypt
	Capabilities []string `json:"capabilities"`
}

type SiteConfig struct {
	PagesDir string `json:"pages_dir,omitempty"` // default: "./pages"
}

// WidgetConfig holds operator-level widget knobs.
type WidgetConfig struct {
	ScriptURL     string `json:"script_url,omitempty"`
	RetryInterval string `json:"retry_interval,omitempty"` // default: "500ms"
	MaxRetries    int    `json:"max_retries,omitempty"`    // 0 = unbounded
	ButtonLabel   string `json:"button_label,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/calendlypop.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// CompactSchedule is a cron spec ("@every 10m", "0 3 * * *"). Empty uses
	// the default; "off" disables compaction.
	CompactSchedule string `json:"compact_schedule,omitempty"`
}

// ClampDelayEnabled resolves the pointer default.
func (a AdminConfig) ClampDelayEnabled() bool {
	if a.ClampDelay == nil {
		return true
	}
	return *a.ClampDelay
}
