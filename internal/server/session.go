// Package server provides the HTTP server and WebSocket handler for the web interface.
package server

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "reporter_session"
	sessionDuration   = 24 * time.Hour
	csrfTokenDuration = 10 * time.Minute
)

// tokenStore holds random tokens with expiry. Tokens consumed with take()
// are single-use; tokens checked with has() stay valid until expiry.
type tokenStore struct {
	ttl    time.Duration
	tokens map[string]time.Time
}

func newTokenStore(ttl time.Duration) *tokenStore {
	return &tokenStore{ttl: ttl, tokens: make(map[string]time.Time)}
}

// issue mints a token. Empty return means the random source failed.
func (s *tokenStore) issue() string {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		return ""
	}
	token := hex.EncodeToString(b)
	s.tokens[token] = time.Now().Add(s.ttl)
	return token
}

func (s *tokenStore) has(token string) bool {
	expires, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// take removes the token and reports whether it was still valid.
func (s *tokenStore) take(token string) bool {
	expires, ok := s.tokens[token]
	delete(s.tokens, token)
	return ok && time.Now().Before(expires)
}

func (s *tokenStore) sweep(now time.Time) {
	maps.DeleteFunc(s.tokens, func(_ string, expires time.Time) bool {
		return now.After(expires)
	})
}

// SessionManager manages login sessions and CSRF tokens for the web
// interface. It is safe for concurrent use.
type SessionManager struct {
	mu   sync.Mutex
	auth *tokenStore
	csrf *tokenStore
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		auth: newTokenStore(sessionDuration),
		csrf: newTokenStore(csrfTokenDuration),
	}
}

// Validate reports whether a session token is valid.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.auth.has(token)
}

// AuthMiddleware returns middleware that requires a valid session cookie.
// Unauthenticated requests are redirected to /login.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(sessionCookieName); err == nil && sm.Validate(cookie.Value) {
				next(w, r)
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
		}
	}
}

// setSessionCookie sets or clears the session cookie.
func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Login checks the credentials in constant time and, on success, issues a
// session cookie. Reports whether login succeeded.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, configUser, configPass string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(configUser)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(configPass)) == 1
	if !userMatch || !passMatch {
		return false
	}

	sm.mu.Lock()
	token := sm.auth.issue()
	sm.mu.Unlock()
	if token == "" {
		return false
	}

	setSessionCookie(w, r, token, int(sessionDuration.Seconds()))
	return true
}

// Logout clears the session cookie and invalidates the session.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.mu.Lock()
		sm.auth.take(cookie.Value)
		sm.mu.Unlock()
	}
	setSessionCookie(w, r, "", -1)
}

// CreateCSRFToken generates a single-use CSRF token for the login form.
func (sm *SessionManager) CreateCSRFToken() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Occasional sweep keeps abandoned tokens from accumulating.
	if rand.IntN(10) == 0 {
		sm.csrf.sweep(time.Now())
	}
	return sm.csrf.issue()
}

// ValidateCSRFToken consumes a CSRF token and reports whether it was valid.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.csrf.take(token)
}
