package widget

import (
	"strings"
	"time"

	"calendlypop/internal/settings"
)

const (
	DefaultScriptURL     = "https://assets.calendly.com/assets/external/widget.js"
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultButtonLabel   = "Schedule Meeting"
)

// Options are the operator-level knobs (from the config file, not the settings form).
type Options struct {
	ScriptURL     string
	RetryInterval time.Duration
	// MaxRetries bounds the number of rescheduled readiness checks.
	// 0 means unbounded.
	MaxRetries  int
	ButtonLabel string
}

func (o Options) WithDefaults() Options {
	if strings.TrimSpace(o.ScriptURL) == "" {
		o.ScriptURL = DefaultScriptURL
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if strings.TrimSpace(o.ButtonLabel) == "" {
		o.ButtonLabel = DefaultButtonLabel
	}
	return o
}

// Plan is everything the launcher needs for one page load.
type Plan struct {
	Link          string
	DelayMinutes  int
	RetryInterval time.Duration
	MaxRetries    int
}

// NewPlan combines the stored settings with operator options.
func NewPlan(v settings.Values, o Options) Plan {
	o = o.WithDefaults()
	return Plan{
		Link:          v.Link,
		DelayMinutes:  v.DelayMinutes,
		RetryInterval: o.RetryInterval,
		MaxRetries:    o.MaxRetries,
	}
}

func (p Plan) Delay() time.Duration { return time.Duration(p.DelayMinutes) * time.Minute }

func (p Plan) DelayMillis() int64 { return settings.MinutesToMillis(p.DelayMinutes) }

func (p Plan) RetryMillis() int64 {
	if p.RetryInterval <= 0 {
		return DefaultRetryInterval.Milliseconds()
	}
	return p.RetryInterval.Milliseconds()
}
