// Package session binds a verified identity to a browser cookie until logout.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const CookieName = "facegate_session"

const devSecret = "facegate-dev-secret-change-in-production"

// Record is what a session ID resolves to.
type Record struct {
	IdentityID uuid.UUID `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store persists session records. Load returns (nil, nil) for unknown or expired IDs.
// Delete of an unknown ID is not an error.
type Store interface {
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// Manager issues and resolves signed session cookies.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewManager(store Store, secret string, ttl time.Duration) *Manager {
	if secret == "" {
		slog.Warn("session secret not set, using development secret")
		secret = devSecret
	}
	return &Manager{store: store, secret: []byte(secret), ttl: ttl}
}

// SecureCookies marks issued cookies as HTTPS-only.
func (m *Manager) SecureCookies(secure bool) {
	m.secure = secure
}

// Create starts a session for identityID and returns the signed cookie value.
func (m *Manager) Create(ctx context.Context, identityID uuid.UUID) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	rec := Record{IdentityID: identityID, CreatedAt: now, ExpiresAt: now.Add(m.ttl)}
	if err := m.store.Save(ctx, id, rec, m.ttl); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return id + "." + m.sign(id), nil
}

// FromRequest resolves the session cookie on r. A missing, tampered, or expired
// cookie yields (nil, nil).
func (m *Manager) FromRequest(ctx context.Context, r *http.Request) (*Record, error) {
	id, ok := m.sessionID(r)
	if !ok {
		return nil, nil
	}
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil || time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return rec, nil
}

// Destroy ends the session carried by r, if any. Calling it twice is harmless.
func (m *Manager) Destroy(ctx context.Context, r *http.Request) error {
	id, ok := m.sessionID(r)
	if !ok {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl.Seconds()),
	})
}

// ClearCookie expires the session cookie in the browser.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (m *Manager) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, err := m.verify(c.Value)
	if err != nil {
		return "", false
	}
	return id, true
}

var errBadSignature = errors.New("invalid session signature")

func (m *Manager) verify(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", errBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", errBadSignature
	}
	return id, nil
}

func (m *Manager) sign(data string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
