package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"calendlypop/internal/config"
	"calendlypop/internal/eventbus"
	"calendlypop/internal/settings"
)

type testEnv struct {
	dir     string
	cfgPath string
}

func newEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pages, "index.html"),
		[]byte("<html><body><h1>Welcome</h1>[calendly_button]</body></html>"), 0o644))

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := fmt.Sprintf(`
http:
  addr: 127.0.0.1:0
admin:
  nonce_secret: test-secret
  users:
    - name: admin
      password_hash: %q
      capabilities: [manage_options]
    - name: editor
      password_hash: %q
      capabilities: [edit_posts]
site:
  pages_dir: %q
logging:
  level: error
  file:
    enabled: true
    path: %q
storage:
  driver: file
  path: %q
`, hash, hash, pages, filepath.Join(dir, "app.log"), filepath.Join(dir, "data", "state.json"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o644))
	return testEnv{dir: dir, cfgPath: p}
}

type notifyRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *notifyRecorder) record(s string) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *notifyRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func doRequest(t *testing.T, method, target, user string, form url.Values) (int, string) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if user != "" {
		req.SetBasicAuth(user, "s3cret")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func extractNonce(t *testing.T, page string) string {
	t.Helper()
	const marker = `name="calendly_nonce" value="`
	i := strings.Index(page, marker)
	require.GreaterOrEqual(t, i, 0, page)
	rest := page[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestEndToEnd(t *testing.T) {
	env := newEnv(t)
	a, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	rec := &notifyRecorder{}
	a.notify = rec.record

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(context.Background(), StopAppStop)

	base := "http://" + a.Addr()

	code, body := doRequest(t, http.MethodGet, base+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = doRequest(t, http.MethodGet, base+"/admin/calendly-integration", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = doRequest(t, http.MethodGet, base+"/admin/calendly-integration", "editor", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)

	code, page := doRequest(t, http.MethodGet, base+"/admin/calendly-integration", "admin", nil)
	require.Equal(t, http.StatusOK, code)
	tok := extractNonce(t, page)

	code, _ = doRequest(t, http.MethodPost, base+"/admin/calendly-integration", "admin", url.Values{
		"calendly_link":  {"https://example.com/x"},
		"calendly_delay": {"5"},
		"calendly_nonce": {"forged"},
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = doRequest(t, http.MethodPost, base+"/admin/calendly-integration", "admin", url.Values{
		"calendly_link":  {"https://example.com/x"},
		"calendly_delay": {"5"},
		"calendly_nonce": {tok},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = doRequest(t, http.MethodGet, base+"/", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "setTimeout(initCalendly, 300000)")
	assert.Contains(t, body, `"https://example.com/x"`)
	assert.Contains(t, body, `onclick="openCalendlyPopup(); return false;"`)
	assert.Contains(t, body, `Calendly.initPopupWidget({url: "https://example.com/x"});`)
	assert.True(t, strings.HasSuffix(body, "</body></html>"))

	auditPath := filepath.Join(env.dir, "data", "state.audit.jsonl")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(auditPath)
		return err == nil && bytes.Contains(b, []byte(`"action":"settings.updated"`)) &&
			bytes.Contains(b, []byte(`"actor":"admin"`))
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, rec.all())
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestInstallShowUninstall(t *testing.T) {
	env := newEnv(t)
	a, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, a.Show(ctx, &buf))
	assert.JSONEq(t, `{"calendly_link": null, "calendly_delay": null}`, buf.String())

	require.NoError(t, a.Install(ctx))
	require.NoError(t, a.Settings().Set(ctx, settings.OptionDelay, "3"))
	require.NoError(t, a.Install(ctx))

	buf.Reset()
	require.NoError(t, a.Show(ctx, &buf))
	assert.JSONEq(t, `{"calendly_link": "", "calendly_delay": "3"}`, buf.String())

	require.NoError(t, a.Uninstall(ctx))
	buf.Reset()
	require.NoError(t, a.Show(ctx, &buf))
	assert.JSONEq(t, `{"calendly_link": null, "calendly_delay": null}`, buf.String())
	require.NoError(t, a.Close())

	// values persist across processes
	b, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	require.NoError(t, b.Install(ctx))
	require.NoError(t, b.Settings().Set(ctx, settings.OptionLink, "https://example.com/keep"))
	require.NoError(t, b.Close())

	c, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	defer c.Close()
	link, err := c.Settings().Get(ctx, settings.OptionLink)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/keep", link)
}

func TestLifecycleEventsAudited(t *testing.T) {
	env := newEnv(t)
	auditPath := filepath.Join(env.dir, "data", "state.audit.jsonl")
	readAudit := func() string {
		b, _ := os.ReadFile(auditPath)
		return string(b)
	}

	a, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	a.notify = func(string) {}
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background(), StopAppStop))

	audit := readAudit()
	assert.Contains(t, audit, `"action":"settings.installed"`)
	assert.Contains(t, audit, `"actor":"system"`)
	assert.Contains(t, audit, `"target":"calendly_delay"`)
	assert.NotContains(t, audit, `"action":"settings.removed"`)

	b, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	require.NoError(t, b.Uninstall(context.Background()))
	require.NoError(t, b.Close())
	assert.Contains(t, readAudit(), `"action":"settings.removed"`)

	c, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	require.NoError(t, c.Install(context.Background()))
	require.NoError(t, c.Close())
	assert.Equal(t, 2, strings.Count(readAudit(), `"action":"settings.installed","target":"calendly_link"`))
}

func TestNewAppBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("bogus_section: 1\n"), 0o644))
	_, err := NewApp(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestNonceSecretEnvOverride(t *testing.T) {
	cfg := &config.Config{}
	cfg.Admin.NonceSecret = "from-file"

	t.Setenv(EnvNonceSecret, "")
	s, ok := nonceSecret(cfg)
	assert.True(t, ok)
	assert.Equal(t, "from-file", string(s))

	t.Setenv(EnvNonceSecret, "from-env")
	s, ok = nonceSecret(cfg)
	assert.True(t, ok)
	assert.Equal(t, "from-env", string(s))

	t.Setenv(EnvNonceSecret, "")
	_, ok = nonceSecret(&config.Config{})
	assert.False(t, ok)
}

func TestCompactSchedule(t *testing.T) {
	cases := map[string]string{
		"":          defaultCompactSchedule,
		"OFF":       "",
		"0 3 * * *": "0 3 * * *",
	}
	for in, want := range cases {
		cfg := &config.Config{}
		cfg.Storage.CompactSchedule = in
		assert.Equal(t, want, compactSchedule(cfg), in)
	}
}

func TestMapWidgetOptionsDefaults(t *testing.T) {
	wo, err := mapWidgetOptions(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.calendly.com/assets/external/widget.js", wo.ScriptURL)
	assert.Equal(t, 500*time.Millisecond, wo.RetryInterval)
	assert.Equal(t, 0, wo.MaxRetries)
	assert.Equal(t, "Schedule Meeting", wo.ButtonLabel)
}

func TestAuditEntries(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := auditEntries(eventbus.Event{
		Type: eventbus.TypeSettingsUpdated,
		Time: at,
		Data: eventbus.SettingsChange{
			Actor:     "admin",
			RequestID: "rid",
			Values:    map[string]string{"calendly_link": "https://example.com/x", "calendly_delay": "5"},
		},
	})
	require.Len(t, entries, 2)
	assert.Equal(t, "calendly_delay", entries[0].Target)
	assert.Equal(t, "5", entries[0].Value)
	assert.Equal(t, "calendly_link", entries[1].Target)
	for _, e := range entries {
		assert.Equal(t, at, e.At)
		assert.Equal(t, "admin", e.Actor)
		assert.Equal(t, "rid", e.RequestID)
		assert.Equal(t, eventbus.TypeSettingsUpdated, e.Action)
		assert.True(t, e.OK)
	}

	assert.Nil(t, auditEntries(eventbus.Event{Type: "other", Data: 42}))
}

func TestApplyHotReload(t *testing.T) {
	env := newEnv(t)
	a, err := NewApp(env.cfgPath)
	require.NoError(t, err)
	a.notify = func(string) {}
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background(), StopAppStop)

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Admin.Path = "/settings/calendly"
	newCfg.Widget.ButtonLabel = "Book a call"
	a.apply(context.Background(), oldCfg, &newCfg)

	base := "http://" + a.Addr()
	code, _ := doRequest(t, http.MethodGet, base+"/settings/calendly", "admin", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doRequest(t, http.MethodGet, base+"/admin/calendly-integration", "admin", nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, body := doRequest(t, http.MethodGet, base+"/", "", nil)
	assert.Contains(t, body, ">Book a call</button>")
}
