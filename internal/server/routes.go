package server

import (
	"net/http"
	"strings"

	logx "calendlypop/pkg/logx"
)

// Routes are the handlers mounted by NewMux.
type Routes struct {
	AdminPath string
	// Admin is served at AdminPath. It should already be wrapped with
	// authentication.
	Admin http.Handler
	// Site serves every other path.
	Site http.Handler
}

// NewMux builds the root handler: /healthz, the admin page and the public
// site, wrapped with request ids and access logging.
func NewMux(rt Routes, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if p := "/" + strings.Trim(strings.TrimSpace(rt.AdminPath), "/"); rt.Admin != nil && p != "/" {
		mux.Handle(p, rt.Admin)
	}
	if rt.Site != nil {
		mux.Handle("/", rt.Site)
	}
	return RequestID(AccessLog(log, mux))
}
