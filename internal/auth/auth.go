// Package auth authenticates administrators and carries their capabilities
// through the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

// CapManageOptions gates the settings page.
const CapManageOptions = "manage_options"

var ErrUnauthenticated = errors.New("unauthenticated")

// User is a configured account. PasswordHash is a bcrypt hash.
type User struct {
	Name         string
	PasswordHash string
	Capabilities []string
}

// Principal is the authenticated caller.
type Principal struct {
	Name         string
	Capabilities []string
}

func (p Principal) Can(capability string) bool {
	return lo.Contains(p.Capabilities, capability)
}

// dummyHash keeps unknown-user checks as slow as real ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("calendlypop-dummy"), bcrypt.DefaultCost)

type Authenticator struct {
	mu    sync.RWMutex
	users map[string]User
}

func New(users []User) *Authenticator {
	a := &Authenticator{}
	a.SetUsers(users)
	return a
}

// SetUsers replaces the account list (config hot reload).
func (a *Authenticator) SetUsers(users []User) {
	m := make(map[string]User, len(users))
	for _, u := range users {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			continue
		}
		u.Name = name
		m[name] = u
	}
	a.mu.Lock()
	a.users = m
	a.mu.Unlock()
}

// Authenticate checks HTTP Basic credentials.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	name, pass, ok := r.BasicAuth()
	if !ok || name == "" {
		return Principal{}, ErrUnauthenticated
	}
	a.mu.RLock()
	u, found := a.users[name]
	a.mu.RUnlock()

	hash := dummyHash
	if found {
		hash = []byte(u.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(pass)); err != nil || !found {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{Name: u.Name, Capabilities: append([]string(nil), u.Capabilities...)}, nil
}

// Middleware rejects unauthenticated requests with a Basic challenge and
// stores the principal in the request context otherwise. Capability checks
// are left to the handler.
func (a *Authenticator) Middleware(realm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			unauthorized(w, realm)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func unauthorized(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+strings.ReplaceAll(realm, `"`, "")+`", charset="UTF-8"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
