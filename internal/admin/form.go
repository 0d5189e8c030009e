// Package admin implements the settings page: rendering, anti-forgery
// checks and the submit path that sanitizes and stores the widget settings.
package admin

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"calendlypop/internal/auth"
	"calendlypop/internal/eventbus"
	"calendlypop/internal/nonce"
	"calendlypop/internal/server"
	"calendlypop/internal/settings"
	logx "calendlypop/pkg/logx"
)

const (
	DefaultPath             = "/admin/calendly-integration"
	DefaultTitle            = "Calendly Integration Settings"
	DefaultSubmitRatePerMin = 30

	NonceField  = "calendly_nonce"
	NonceAction = "calendly_nonce_action"

	savedNotice = "Settings saved."
)

var errRateLimited = errors.New("settings submit rate limited")

// Options are the hot-reloadable knobs of the settings page.
type Options struct {
	Path  string
	Title string
	// ClampDelay forces the delay into [0,10] before it is stored.
	ClampDelay       bool
	SubmitRatePerMin int
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.SubmitRatePerMin <= 0 {
		o.SubmitRatePerMin = DefaultSubmitRatePerMin
	}
	return o
}

// Form serves GET and POST for the settings page. It expects the
// authenticated principal in the request context (see auth.Middleware).
type Form struct {
	settings *settings.Store
	bus      eventbus.Bus
	log      logx.Logger

	nonces atomic.Pointer[nonce.Issuer]
	opts   atomic.Pointer[Options]

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds the form. bus may be nil.
func New(st *settings.Store, nonces *nonce.Issuer, bus eventbus.Bus, opts Options, log logx.Logger) *Form {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Form{settings: st, bus: bus, log: log, limiters: map[string]*rate.Limiter{}}
	f.nonces.Store(nonces)
	f.SetOptions(opts)
	return f
}

// SetOptions swaps the page options. Changing the submit rate resets the
// per-admin limiters.
func (f *Form) SetOptions(o Options) {
	o = o.withDefaults()
	old := f.opts.Swap(&o)
	if old != nil && old.SubmitRatePerMin != o.SubmitRatePerMin {
		f.limMu.Lock()
		f.limiters = map[string]*rate.Limiter{}
		f.limMu.Unlock()
	}
}

func (f *Form) SetIssuer(n *nonce.Issuer) { f.nonces.Store(n) }

func (f *Form) Options() Options { return *f.opts.Load() }

func (f *Form) ServeHTTP(w http.ResponseWriter, r *http.Request) { f.HandleSubmit(w, r) }

// HandleSubmit authorizes the caller, applies a posted submission and
// renders the page. Callers without the capability get an empty 200.
func (f *Form) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !p.Can(auth.CapManageOptions) {
		f.log.Debug("settings page denied", logx.String("user", p.Name))
		w.WriteHeader(http.StatusOK)
		return
	}

	notice := ""
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if _, submitted := r.PostForm[settings.OptionLink]; submitted {
			status, err := f.apply(r, p)
			if err != nil {
				if status == http.StatusInternalServerError {
					f.log.Error("settings save failed", logx.String("user", p.Name), logx.Err(err))
				}
				http.Error(w, http.StatusText(status), status)
				return
			}
			notice = savedNotice
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	f.render(w, r, p, notice)
}

// apply validates and stores one submission. On failure it returns the HTTP
// status to answer with; nothing is stored in that case.
func (f *Form) apply(r *http.Request, p auth.Principal) (int, error) {
	ctx := r.Context()
	reqID := server.RequestIDFromContext(ctx)
	log := f.log.With(logx.String("user", p.Name), logx.String("request_id", reqID))

	if err := f.nonces.Load().Verify(r.PostFormValue(NonceField), NonceAction, p.Name); err != nil {
		log.Warn("settings nonce rejected", logx.Err(err))
		return http.StatusForbidden, err
	}
	if !f.limiter(p.Name).Allow() {
		log.Warn("settings submit rate limited")
		return http.StatusTooManyRequests, errRateLimited
	}

	opts := f.Options()
	changed := make(map[string]string, 2)

	link := settings.SanitizeText(r.PostFormValue(settings.OptionLink))
	keepLink := settings.ValidLink(link)
	if !keepLink {
		log.Warn("settings link dropped", logx.String("link", link))
	}
	rawDelay := settings.SanitizeText(r.PostFormValue(settings.OptionDelay))
	delay := settings.NormalizeDelay(rawDelay, opts.ClampDelay)
	if delay != rawDelay {
		log.Warn("settings delay normalized", logx.String("from", rawDelay), logx.String("to", delay))
	}

	if keepLink {
		prev, had, err := f.settings.Lookup(ctx, settings.OptionLink)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		if err := f.settings.Set(ctx, settings.OptionLink, link); err != nil {
			return http.StatusInternalServerError, err
		}
		if err := f.settings.Set(ctx, settings.OptionDelay, delay); err != nil {
			f.restoreLink(ctx, log, prev, had)
			return http.StatusInternalServerError, err
		}
		changed[settings.OptionLink] = link
	} else if err := f.settings.Set(ctx, settings.OptionDelay, delay); err != nil {
		return http.StatusInternalServerError, err
	}
	changed[settings.OptionDelay] = delay

	log.Info("settings updated", logx.Any("values", changed))
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSettingsUpdated,
			Data: eventbus.SettingsChange{Actor: p.Name, RequestID: reqID, Values: changed},
		})
	}
	return http.StatusOK, nil
}

// restoreLink puts the link back after a failed delay write.
func (f *Form) restoreLink(ctx context.Context, log logx.Logger, prev string, had bool) {
	var err error
	if had {
		err = f.settings.Set(ctx, settings.OptionLink, prev)
	} else {
		err = f.settings.Remove(ctx, settings.OptionLink)
	}
	if err != nil {
		log.Error("settings link restore failed", logx.Err(err))
	}
}

func (f *Form) render(w http.ResponseWriter, r *http.Request, p auth.Principal, notice string) {
	ctx := r.Context()
	opts := f.Options()

	link, err := f.settings.Get(ctx, settings.OptionLink)
	if err != nil {
		f.fail(w, "settings read failed", err)
		return
	}
	delay, err := f.settings.Get(ctx, settings.OptionDelay)
	if err != nil {
		f.fail(w, "settings read failed", err)
		return
	}
	tok, err := f.nonces.Load().Create(NonceAction, p.Name)
	if err != nil {
		f.fail(w, "nonce create failed", err)
		return
	}

	var buf bytes.Buffer
	err = Render(&buf, Page{
		Title:  opts.Title,
		Action: opts.Path,
		Link:   link,
		Delay:  delay,
		Nonce:  tok,
		Notice: notice,
	})
	if err != nil {
		f.fail(w, "settings page render failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = buf.WriteTo(w)
}

func (f *Form) fail(w http.ResponseWriter, msg string, err error) {
	f.log.Error(msg, logx.Err(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (f *Form) limiter(user string) *rate.Limiter {
	f.limMu.Lock()
	defer f.limMu.Unlock()
	l, ok := f.limiters[user]
	if !ok {
		n := f.Options().SubmitRatePerMin
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		f.limiters[user] = l
	}
	return l
}
