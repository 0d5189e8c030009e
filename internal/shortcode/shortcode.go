// Package shortcode expands authoring-time placeholders such as
// [calendly_button] into markup at render time.
//
// Supported forms: [tag], [tag attr="v" attr2='v' attr3=v], [tag /].
// Doubling the brackets escapes a shortcode: [[tag]] renders as [tag].
// Unregistered tags are left untouched.
package shortcode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Attrs holds parsed attributes. Positional values use their index as key.
type Attrs map[string]string

// Handler renders one shortcode occurrence.
type Handler func(ctx context.Context, attrs Attrs) (string, error)

var (
	reTagName   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	reShortcode = regexp.MustCompile(`\[(\[?)([A-Za-z0-9_-]+)((?:\s[^\[\]]*?)?)\s*(/?)\](\]?)`)
	reAttr      = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"|([\w-]+)\s*=\s*'([^']*)'|([\w-]+)\s*=\s*([^\s'"]+)|"([^"]*)"|'([^']*)'|(\S+)`)
)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds tag to h. Tags are case-sensitive and may be registered once.
func (r *Registry) Register(tag string, h Handler) error {
	if !reTagName.MatchString(tag) {
		return fmt.Errorf("invalid shortcode tag %q", tag)
	}
	if h == nil {
		return fmt.Errorf("shortcode %q: nil handler", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[tag]; ok {
		return fmt.Errorf("shortcode %q already registered", tag)
	}
	r.handlers[tag] = h
	return nil
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[tag]
	return h, ok
}

// Expand replaces every registered shortcode in content. A failing handler
// renders as an empty string; its error is returned joined with the others
// after the whole content has been processed.
func (r *Registry) Expand(ctx context.Context, content string) (string, error) {
	if !strings.Contains(content, "[") {
		return content, nil
	}
	var (
		b    strings.Builder
		errs []error
		last int
	)
	for _, m := range reShortcode.FindAllStringSubmatchIndex(content, -1) {
		full := content[m[0]:m[1]]
		openEsc := content[m[2]:m[3]]
		tag := content[m[4]:m[5]]
		rawAttrs := content[m[6]:m[7]]
		closeEsc := content[m[10]:m[11]]

		h, ok := r.lookup(tag)
		if !ok {
			continue
		}
		b.WriteString(content[last:m[0]])
		last = m[1]

		if openEsc == "[" && closeEsc == "]" {
			b.WriteString(full[1 : len(full)-1])
			continue
		}
		// Only one side doubled: keep the stray bracket as text.
		b.WriteString(openEsc)
		out, err := h(ctx, ParseAttrs(rawAttrs))
		if err != nil {
			errs = append(errs, fmt.Errorf("shortcode %s: %w", tag, err))
		} else {
			b.WriteString(out)
		}
		b.WriteString(closeEsc)
	}
	b.WriteString(content[last:])
	return b.String(), errors.Join(errs...)
}

// ParseAttrs parses the attribute portion of a shortcode.
func ParseAttrs(s string) Attrs {
	s = strings.TrimSpace(s)
	if s == "" {
		return Attrs{}
	}
	out := Attrs{}
	pos := 0
	for _, m := range reAttr.FindAllStringSubmatch(s, -1) {
		switch {
		case m[1] != "":
			out[strings.ToLower(m[1])] = m[2]
		case m[3] != "":
			out[strings.ToLower(m[3])] = m[4]
		case m[5] != "":
			out[strings.ToLower(m[5])] = m[6]
		case m[7] != "" || strings.HasPrefix(m[0], `"`):
			out[strconv.Itoa(pos)] = m[7]
			pos++
		case m[8] != "" || strings.HasPrefix(m[0], `'`):
			out[strconv.Itoa(pos)] = m[8]
			pos++
		default:
			out[strconv.Itoa(pos)] = m[9]
			pos++
		}
	}
	return out
}
