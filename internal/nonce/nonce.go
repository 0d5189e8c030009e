// Package nonce issues and checks anti-forgery tokens for admin forms.
//
// A token is an HS256-signed JWT bound to an action name and a session
// (the authenticated admin), valid for a bounded lifetime.
package nonce

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissing  = errors.New("nonce missing")
	ErrInvalid  = errors.New("nonce invalid")
	ErrExpired  = errors.New("nonce expired")
	ErrMismatch = errors.New("nonce issued for a different action or session")
)

// DefaultLifetime matches a one-day form validity window.
const DefaultLifetime = 24 * time.Hour

type claims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewIssuer returns an issuer signing with secret. A non-positive lifetime
// uses DefaultLifetime.
func NewIssuer(secret []byte, lifetime time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("nonce secret is required")
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Issuer{secret: append([]byte(nil), secret...), lifetime: lifetime, now: time.Now}, nil
}

// RandomSecret returns 32 random bytes for deployments without a configured secret.
func RandomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Create signs a token for action and session.
func (i *Issuer) Create(action, session string) (string, error) {
	now := i.now()
	c := claims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   session,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign nonce: %w", err)
	}
	return tok, nil
}

// Verify checks signature, expiry, action and session binding.
func (i *Issuer) Verify(token, action, session string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissing
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Action != action || c.Subject != session {
		return ErrMismatch
	}
	return nil
}
