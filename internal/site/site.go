// Package site serves the public pages. Every page gets the widget script
// and the delayed launcher injected before </body>; page content may embed
// the manual-open button with the [calendly_button] shortcode.
package site

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"calendlypop/internal/settings"
	"calendlypop/internal/shortcode"
	"calendlypop/internal/widget"
	logx "calendlypop/pkg/logx"
)

// ButtonTag is the shortcode that renders the manual-open button.
const ButtonTag = "calendly_button"

const indexPage = "index.html"

type Renderer struct {
	settings *settings.Store
	codes    *shortcode.Registry
	log      logx.Logger

	pages atomic.Pointer[fs.FS]
	opts  atomic.Pointer[widget.Options]
}

// New builds a renderer serving pagesDir. The button shortcode is registered
// on a fresh registry; callers may add more tags through Shortcodes.
func New(pagesDir string, st *settings.Store, opts widget.Options, log logx.Logger) (*Renderer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Renderer{settings: st, codes: shortcode.NewRegistry(), log: log}
	r.SetPagesDir(pagesDir)
	r.SetOptions(opts)
	if err := r.codes.Register(ButtonTag, r.buttonShortcode); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) Shortcodes() *shortcode.Registry { return r.codes }

// SetOptions swaps the widget knobs used by subsequent renders.
func (r *Renderer) SetOptions(o widget.Options) {
	o = o.WithDefaults()
	r.opts.Store(&o)
}

func (r *Renderer) Options() widget.Options { return *r.opts.Load() }

func (r *Renderer) SetPagesDir(dir string) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	fsys := os.DirFS(dir)
	r.pages.Store(&fsys)
}

// buttonShortcode ignores attributes; the link always comes from settings.
func (r *Renderer) buttonShortcode(ctx context.Context, _ shortcode.Attrs) (string, error) {
	link, err := r.settings.Get(ctx, settings.OptionLink)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := widget.RenderButton(&b, link, r.Options().ButtonLabel); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Render expands shortcodes in content and injects the widget script plus
// the launcher footer. Shortcode failures are logged and render as empty;
// a failure to read the settings for the footer is returned.
func (r *Renderer) Render(ctx context.Context, w io.Writer, content string) error {
	body, err := r.codes.Expand(ctx, content)
	if err != nil {
		r.log.Warn("shortcode failed", logx.Err(err))
	}

	vals, err := r.settings.Values(ctx)
	if err != nil {
		return err
	}
	opts := r.Options()

	var foot bytes.Buffer
	if err := widget.RenderScriptTag(&foot, opts.ScriptURL); err != nil {
		return err
	}
	if err := widget.RenderFooter(&foot, widget.NewPlan(vals, opts)); err != nil {
		return err
	}

	at := closingBodyIndex(body)
	if at < 0 {
		at = len(body)
	}
	if _, err := io.WriteString(w, body[:at]); err != nil {
		return err
	}
	if _, err := foot.WriteTo(w); err != nil {
		return err
	}
	_, err = io.WriteString(w, body[at:])
	return err
}

// closingBodyIndex finds the last </body>, ignoring case.
func closingBodyIndex(s string) int {
	return strings.LastIndex(strings.ToLower(s), "</body>")
}

// ServeHTTP maps "/" to index.html, "/about" to about.html or
// about/index.html and "/x.html" to itself.
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	content, err := r.readPage(req.URL.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, req)
			return
		}
		r.log.Error("page read failed", logx.String("path", req.URL.Path), logx.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var out bytes.Buffer
	if err := r.Render(req.Context(), &out, string(content)); err != nil {
		r.log.Error("page render failed", logx.String("path", req.URL.Path), logx.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if req.Method == http.MethodHead {
		return
	}
	_, _ = out.WriteTo(w)
}

func (r *Renderer) readPage(urlPath string) ([]byte, error) {
	fsys := *r.pages.Load()
	for _, name := range candidates(urlPath) {
		if !fs.ValidPath(name) {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !isDirErr(fsys, name) {
			return nil, err
		}
	}
	return nil, fs.ErrNotExist
}

func candidates(urlPath string) []string {
	p := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if p == "" {
		return []string{indexPage}
	}
	if strings.HasSuffix(p, ".html") {
		return []string{p}
	}
	return []string{p + ".html", path.Join(p, indexPage)}
}

func isDirErr(fsys fs.FS, name string) bool {
	st, err := fs.Stat(fsys, name)
	return err == nil && st.IsDir()
}
