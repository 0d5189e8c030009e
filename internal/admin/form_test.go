package admin

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendlypop/internal/auth"
	"calendlypop/internal/eventbus"
	"calendlypop/internal/nonce"
	"calendlypop/internal/settings"
	"calendlypop/internal/storage"
	logx "calendlypop/pkg/logx"
)

var (
	admin  = auth.Principal{Name: "alice", Capabilities: []string{auth.CapManageOptions}}
	editor = auth.Principal{Name: "bob", Capabilities: []string{"edit_posts"}}
)

type fixture struct {
	form   *Form
	store  *settings.Store
	nonces *nonce.Issuer
	events <-chan eventbus.Event
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	kv, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	st := settings.NewStore(kv)
	_, err = st.EnsureDefaults(context.Background())
	require.NoError(t, err)

	iss, err := nonce.NewIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	t.Cleanup(unsub)

	return &fixture{
		form:   New(st, iss, bus, opts, logx.Nop()),
		store:  st,
		nonces: iss,
		events: ch,
	}
}

func (fx *fixture) token(t *testing.T, user string) string {
	t.Helper()
	tok, err := fx.nonces.Create(NonceAction, user)
	require.NoError(t, err)
	return tok
}

func (fx *fixture) do(p *auth.Principal, method string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, DefaultPath, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	fx.form.ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) submit(t *testing.T, p auth.Principal, link, delay string) *httptest.ResponseRecorder {
	t.Helper()
	return fx.do(&p, http.MethodPost, url.Values{
		settings.OptionLink:  {link},
		settings.OptionDelay: {delay},
		NonceField:           {fx.token(t, p.Name)},
	})
}

func (fx *fixture) stored(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	link, err := fx.store.Get(ctx, settings.OptionLink)
	require.NoError(t, err)
	delay, err := fx.store.Get(ctx, settings.OptionDelay)
	require.NoError(t, err)
	return link, delay
}

func TestGetRendersForm(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	rec := fx.do(&admin, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "<title>Calendly Integration Settings</title>")
	assert.Contains(t, body, "Calendly Link:")
	assert.Contains(t, body, "Popup Delay (0-10 minutes):")
	assert.Contains(t, body, `type="url" id="calendly_link" name="calendly_link" value=""`)
	assert.Contains(t, body, `name="calendly_delay" value="0" min="0" max="10" step="1"`)
	assert.Contains(t, body, `action="/admin/calendly-integration"`)
	assert.NotContains(t, body, savedNotice)

	i := strings.Index(body, `name="calendly_nonce" value="`)
	require.GreaterOrEqual(t, i, 0)
	tok := body[i+len(`name="calendly_nonce" value="`):]
	tok = tok[:strings.IndexByte(tok, '"')]
	assert.NoError(t, fx.nonces.Verify(tok, NonceAction, admin.Name))
}

func TestUnauthenticated(t *testing.T) {
	fx := newFixture(t, Options{})
	assert.Equal(t, http.StatusUnauthorized, fx.do(nil, http.MethodGet, nil).Code)
}

func TestMissingCapabilityIsSilent(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})

	rec := fx.do(&editor, http.MethodGet, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = fx.submit(t, editor, "https://evil.example", "3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	link, delay := fx.stored(t)
	assert.Equal(t, "", link)
	assert.Equal(t, "0", delay)
}

func TestForgeryRejected(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	cases := map[string]string{
		"missing":       "",
		"garbage":       "not-a-token",
		"other session": fx.token(t, "mallory"),
	}
	other, err := fx.nonces.Create("other_action", admin.Name)
	require.NoError(t, err)
	cases["other action"] = other

	for name, tok := range cases {
		tok := tok // per-iteration copy (go 1.21 loop semantics)
		t.Run(name, func(t *testing.T) {
			form := url.Values{
				settings.OptionLink:  {"https://example.com/x"},
				settings.OptionDelay: {"4"},
			}
			if tok != "" {
				form.Set(NonceField, tok)
			}
			rec := fx.do(&admin, http.MethodPost, form)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			link, delay := fx.stored(t)
			assert.Equal(t, "", link)
			assert.Equal(t, "0", delay)
		})
	}
	assert.Empty(t, fx.events)
}

func TestSubmitStoresAndPublishes(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	rec := fx.submit(t, admin, "  https://example.com/x  ", "5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), savedNotice)
	assert.Contains(t, rec.Body.String(), `value="https://example.com/x"`)
	assert.Contains(t, rec.Body.String(), `name="calendly_delay" value="5"`)

	link, delay := fx.stored(t)
	assert.Equal(t, "https://example.com/x", link)
	assert.Equal(t, "5", delay)

	select {
	case ev := <-fx.events:
		assert.Equal(t, eventbus.TypeSettingsUpdated, ev.Type)
		ch, ok := ev.Data.(eventbus.SettingsChange)
		require.True(t, ok)
		assert.Equal(t, "alice", ch.Actor)
		assert.Equal(t, map[string]string{
			settings.OptionLink:  "https://example.com/x",
			settings.OptionDelay: "5",
		}, ch.Values)
	default:
		t.Fatal("no settings.updated event")
	}
}

func TestSubmitSanitizesLink(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	fx.submit(t, admin, "https://example.com/x<script>alert(1)</script>", "1")
	link, _ := fx.stored(t)
	assert.Equal(t, "https://example.com/x", link)
}

func TestSubmitDropsInvalidLink(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	fx.submit(t, admin, "https://example.com/ok", "1")

	for _, bad := range []string{"javascript:alert(1)", "example.com/no-scheme", "https://"} {
		rec := fx.submit(t, admin, bad, "2")
		require.Equal(t, http.StatusOK, rec.Code)
		link, delay := fx.stored(t)
		assert.Equal(t, "https://example.com/ok", link, bad)
		assert.Equal(t, "2", delay, bad)
	}
}

func TestSubmitEmptyLinkClears(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	fx.submit(t, admin, "https://example.com/ok", "1")
	fx.submit(t, admin, "", "1")
	link, _ := fx.stored(t)
	assert.Equal(t, "", link)
}

func TestDelayClamped(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true, SubmitRatePerMin: 100})
	cases := map[string]string{
		"15":       "10",
		"10":       "10",
		"-3":       "0",
		"abc":      "0",
		"":         "0",
		"7.9":      "7",
		" 4 ":      "4",
		"<b>3</b>": "3",
	}
	for in, want := range cases {
		fx.submit(t, admin, "", in)
		_, delay := fx.stored(t)
		assert.Equal(t, want, delay, "input %q", in)
	}
}

func TestDelaySanitizeOnly(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: false, SubmitRatePerMin: 100})
	cases := map[string]string{
		"15":  "15",
		"-3":  "-3",
		"abc": "0",
	}
	for in, want := range cases {
		fx.submit(t, admin, "", in)
		_, delay := fx.stored(t)
		assert.Equal(t, want, delay, "input %q", in)
	}
}

func TestPostWithoutLinkFieldIsNotASubmission(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true})
	rec := fx.do(&admin, http.MethodPost, url.Values{settings.OptionDelay: {"9"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), savedNotice)
	_, delay := fx.stored(t)
	assert.Equal(t, "0", delay)
}

// failingDelay rejects writes of the delay option.
type failingDelay struct {
	storage.Store
}

func (f failingDelay) PutOption(ctx context.Context, name, value string) error {
	if name == settings.OptionDelay {
		return errors.New("disk full")
	}
	return f.Store.PutOption(ctx, name, value)
}

func TestSubmitIsAllOrNothing(t *testing.T) {
	kv, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	ctx := context.Background()
	st := settings.NewStore(failingDelay{kv})
	_, err = st.EnsureDefaults(ctx)
	require.NoError(t, err)
	require.NoError(t, kv.PutOption(ctx, settings.OptionLink, "https://example.com/old"))

	iss, err := nonce.NewIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	fx := &fixture{form: New(st, iss, bus, Options{}, logx.Nop()), store: st, nonces: iss, events: events}

	rec := fx.submit(t, admin, "https://example.com/new", "5")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	link, delay := fx.stored(t)
	assert.Equal(t, "https://example.com/old", link)
	assert.Equal(t, "0", delay)
	select {
	case e := <-events:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestSubmitRateLimited(t *testing.T) {
	fx := newFixture(t, Options{ClampDelay: true, SubmitRatePerMin: 1})
	assert.Equal(t, http.StatusOK, fx.submit(t, admin, "", "1").Code)
	assert.Equal(t, http.StatusTooManyRequests, fx.submit(t, admin, "", "2").Code)
	_, delay := fx.stored(t)
	assert.Equal(t, "1", delay)

	fx.form.SetOptions(Options{ClampDelay: true, SubmitRatePerMin: 5})
	assert.Equal(t, http.StatusOK, fx.submit(t, admin, "", "3").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newFixture(t, Options{})
	rec := fx.do(&admin, http.MethodDelete, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRenderEscapesValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Page{
		Link:  `"><script>alert(1)</script>`,
		Delay: `5" onfocus="x`,
		Nonce: "tok",
	}))
	out := buf.String()
	assert.NotContains(t, out, "<script>alert(1)")
	assert.Contains(t, out, `value="&#34;&gt;&lt;script&gt;alert(1)&lt;/script&gt;"`)
	assert.Contains(t, out, `value="5&#34; onfocus=&#34;x"`)
	assert.Contains(t, out, "<title>Calendly Integration Settings</title>")
}

func TestCustomPathAndTitle(t *testing.T) {
	fx := newFixture(t, Options{Path: "/wp-admin/calendly", Title: "Widget"})
	body := fx.do(&admin, http.MethodGet, nil).Body.String()
	assert.Contains(t, body, `action="/wp-admin/calendly"`)
	assert.Contains(t, body, "<h1>Widget</h1>")
}
