// Package settings owns the two persisted widget settings: the scheduling link
// and the popup delay. It performs no validation; callers sanitize before Set.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"calendlypop/internal/storage"
)

// Option names as persisted in the key-value store.
const (
	OptionLink  = "calendly_link"
	OptionDelay = "calendly_delay"
)

// Defaults applied on install and returned by Get for absent options.
const (
	DefaultLink  = ""
	DefaultDelay = "0"
)

const (
	MinDelayMinutes = 0
	MaxDelayMinutes = 10

	// MaxParsedDelayMinutes bounds any stored delay so that the millisecond
	// value fits a browser timer (2^31-1 ms).
	MaxParsedDelayMinutes = (1<<31 - 1) / 60_000
)

// Names lists every managed option in install order.
func Names() []string { return []string{OptionLink, OptionDelay} }

// DefaultFor returns the documented default for name.
func DefaultFor(name string) string {
	switch name {
	case OptionDelay:
		return DefaultDelay
	default:
		return DefaultLink
	}
}

// Values is a typed snapshot used by the render path.
type Values struct {
	Link         string
	DelayMinutes int
	// RawDelay is the stored string, shown verbatim in the settings form.
	RawDelay string
}

// DelayMillis converts the delay to milliseconds; only done at render time.
func (v Values) DelayMillis() int64 { return MinutesToMillis(v.DelayMinutes) }

// MinutesToMillis converts minutes to milliseconds, saturating at
// ±MaxParsedDelayMinutes.
func MinutesToMillis(n int) int64 {
	m := max(min(int64(n), MaxParsedDelayMinutes), -MaxParsedDelayMinutes)
	return m * 60_000
}

// Store is the settings facade over the generic option store.
type Store struct {
	opts storage.Store
}

func NewStore(opts storage.Store) *Store { return &Store{opts: opts} }

// Get returns the stored value, or the default when the option is absent.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	v, ok, err := s.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return DefaultFor(name), nil
	}
	return v, nil
}

// Lookup reports the stored value and whether it is present.
func (s *Store) Lookup(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.opts.GetOption(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, name, value string) error {
	if err := s.opts.PutOption(ctx, name, value); err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}

// EnsureDefaults adds every absent option with its default and returns the
// names it created. Present options are left untouched.
func (s *Store) EnsureDefaults(ctx context.Context) ([]string, error) {
	var added []string
	for _, name := range Names() {
		ok, err := s.opts.AddOption(ctx, name, DefaultFor(name))
		if err != nil {
			return added, fmt.Errorf("add option %s: %w", name, err)
		}
		if ok {
			added = append(added, name)
		}
	}
	return added, nil
}

func (s *Store) Remove(ctx context.Context, name string) error {
	if _, err := s.opts.DeleteOption(ctx, name); err != nil {
		return fmt.Errorf("delete option %s: %w", name, err)
	}
	return nil
}

// Values reads both settings.
func (s *Store) Values(ctx context.Context) (Values, error) {
	link, err := s.Get(ctx, OptionLink)
	if err != nil {
		return Values{}, err
	}
	raw, err := s.Get(ctx, OptionDelay)
	if err != nil {
		return Values{}, err
	}
	return Values{Link: link, DelayMinutes: ParseDelay(raw), RawDelay: raw}, nil
}

// ParseDelay converts a stored delay leniently: the leading integer is used,
// anything unparseable is 0. The result saturates at ±MaxParsedDelayMinutes;
// no other clamping happens here.
func ParseDelay(raw string) int {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	// On overflow ParseInt returns the saturated value with ErrRange.
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return int(max(min(n, MaxParsedDelayMinutes), -MaxParsedDelayMinutes))
}
