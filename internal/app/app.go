// Package app wires configuration, storage, the admin page, the public site
// and the HTTP listener into one process.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"calendlypop/internal/admin"
	"calendlypop/internal/auth"
	"calendlypop/internal/config"
	"calendlypop/internal/eventbus"
	"calendlypop/internal/lifecycle"
	"calendlypop/internal/runtime/supervisor"
	"calendlypop/internal/server"
	"calendlypop/internal/settings"
	"calendlypop/internal/site"
	"calendlypop/internal/storage"
	logx "calendlypop/pkg/logx"
)

const authRealm = "calendlypop admin"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	settings *settings.Store
	hooks    *lifecycle.Hooks
	auth     *auth.Authenticator
	form     *admin.Form
	site     *site.Renderer
	http     *server.Service
	compact  *compactor

	// notify reports service state to systemd; replaced in tests.
	notify func(state string)

	adminPath string
	stopOnce  sync.Once
}

// NewApp loads the config file and builds every component. Nothing is
// started; Install, Uninstall and Show work without Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	st := settings.NewStore(store)

	issuer, err := mapNonceIssuer(cfg, appLog)
	if err != nil {
		return fail(err)
	}
	wopts, err := mapWidgetOptions(cfg)
	if err != nil {
		return fail(err)
	}
	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	renderer, err := site.New(pagesDir(cfg), st, wopts, log.With(logx.String("comp", "site")))
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgPath:  cfgm.Path(),
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		settings: st,
		hooks:    lifecycle.New(st, bus, log.With(logx.String("comp", "lifecycle"))),
		auth:     auth.New(mapUsers(cfg)),
		form:     admin.New(st, issuer, bus, mapAdminOptions(cfg), log.With(logx.String("comp", "admin"))),
		site:     renderer,
		compact:  newCompactor(store, log.With(logx.String("comp", "compact"))),
		notify:   sdNotify(appLog),
	}
	a.adminPath = a.form.Options().Path
	a.http = server.New(srvCfg, a.handler(), log.With(logx.String("comp", "http")))

	if len(cfg.Admin.Users) == 0 {
		appLog.Warn("no admin users configured; the settings page is unreachable")
	}
	return a, nil
}

func sdNotify(log logx.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Debug("sd_notify sent", logx.String("state", state))
		}
	}
}

func (a *App) handler() http.Handler {
	return server.NewMux(server.Routes{
		AdminPath: a.adminPath,
		Admin:     a.auth.Middleware(authRealm, a.form),
		Site:      a.site,
	}, a.log.With(logx.String("comp", "access")))
}

// Settings exposes the settings store (CLI and tests).
func (a *App) Settings() *settings.Store { return a.settings }

// Addr is the bound HTTP address, "" before Start.
func (a *App) Addr() string { return a.http.Addr() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Install runs the install hook.
func (a *App) Install(ctx context.Context) error { return a.audited(ctx, a.hooks.OnInstall) }

// Uninstall runs the removal hook.
func (a *App) Uninstall(ctx context.Context) error { return a.audited(ctx, a.hooks.OnRemove) }

// audited runs a lifecycle hook outside Start and writes the events it
// published to the audit log before returning. Once started, the audit
// goroutine records them instead.
func (a *App) audited(ctx context.Context, hook func(context.Context) error) error {
	if a.sup != nil {
		return hook(ctx)
	}
	events, unsub := a.bus.Subscribe(8)
	defer unsub()
	err := hook(ctx)
	drainAudit(ctx, events, a.store, a.log.With(logx.String("comp", "audit")))
	return err
}

// Show writes the stored settings as JSON. Missing options are reported as
// null.
func (a *App) Show(ctx context.Context, w io.Writer) error {
	out := make(map[string]*string, 2)
	for _, name := range settings.Names() {
		v, ok, err := a.settings.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			out[name] = &v
		} else {
			out[name] = nil
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Close releases storage and log files for one-shot commands that never
// called Start.
func (a *App) Close() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

// Start installs defaults, then starts the listener, the background loops
// and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
	})

	if err := a.hooks.OnInstall(ctx); err != nil {
		return fmt.Errorf("install defaults: %w", err)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.compact.Schedule(compactSchedule(a.cfgm.Get())); err != nil {
		return fmt.Errorf("storage.compact_schedule: %w", err)
	}
	a.compact.Start()

	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", a.http.Addr()), logx.String("admin", a.adminPath))
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWidgetOptions(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply hot-swaps runtime knobs. Storage changes need a restart.
func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if slices.Contains(sections, "storage") {
		if mustStorage(oldCfg) != mustStorage(newCfg) {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if err := a.compact.Schedule(compactSchedule(newCfg)); err != nil {
			a.log.Warn("invalid compaction schedule; keeping previous", logx.Err(err))
		}
	}

	if slices.Contains(sections, "admin") {
		a.auth.SetUsers(mapUsers(newCfg))
		a.form.SetOptions(mapAdminOptions(newCfg))
		oldSecret, _ := nonceSecret(oldCfg)
		newSecret, _ := nonceSecret(newCfg)
		if string(oldSecret) != string(newSecret) || oldCfg.Admin.NonceLifetime != newCfg.Admin.NonceLifetime {
			if iss, err := mapNonceIssuer(newCfg, a.log); err != nil {
				a.log.Warn("invalid nonce config; keeping previous", logx.Err(err))
			} else {
				a.form.SetIssuer(iss)
			}
		}
		if p := a.form.Options().Path; p != a.adminPath {
			a.adminPath = p
			a.http.SetHandler(a.handler())
		}
	}

	if slices.Contains(sections, "site") {
		a.site.SetPagesDir(pagesDir(newCfg))
	}

	if slices.Contains(sections, "widget") {
		if wo, err := mapWidgetOptions(newCfg); err != nil {
			a.log.Warn("invalid widget config; keeping previous", logx.Err(err))
		} else {
			a.site.SetOptions(wo)
		}
	}

	if slices.Contains(sections, "http") {
		sc, err := mapServerConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else if err := a.http.Reconfigure(ctx, sc); err != nil {
			a.log.Error("http reconfigure failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func mustStorage(cfg *config.Config) storage.Config {
	sc, _ := mapStorageConfig(cfg)
	return sc
}

// Stop shuts everything down in reverse order. Each step is bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int64("goroutines", a.sup.Counters().Active))
		a.notify(daemon.SdNotifyStopping)
		a.sup.Cancel()

		a.step(ctx, "http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
		a.step(ctx, "compaction", 2*time.Second, func(c context.Context) error { a.compact.Stop(c); return nil })
		a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop)
		if err = a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}

		a.log.Info("stopped")
		_ = a.logs.Close()
	})
	return err
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
