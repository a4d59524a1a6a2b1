// handler.go -- AuthHandler dependencies and the session-facing endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/discord-auth/internal/oauth"
	"github.com/MGallo-Code/discord-auth/internal/store"
)

// SessionStore defines session operations needed by auth handlers.
// Satisfied by *store.RedisStore and *store.MemoryStore -- defined here (at consumer) per Go convention.
type SessionStore interface {
	// GetSession retrieves a session by token hash. Returns store.ErrCacheMiss if absent.
	GetSession(ctx context.Context, tokenHash string) (*store.Session, error)

	// SetSession stores a session with the given TTL in seconds.
	SetSession(ctx context.Context, tokenHash string, sess store.Session, ttl int) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, tokenHash string) error

	// CheckHealth reports whether the backing store is reachable.
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for the login, callback, logout and info handlers.
type AuthHandler struct {
	// Strategies maps the {provider} URL param to its strategy.
	Strategies map[string]oauth.Strategy
	// DefaultProvider is where GET / sends anonymous visitors.
	DefaultProvider string

	Sessions   SessionStore
	SessionTTL time.Duration

	// FailureRedirect, when set, is where the callback sends the browser after a denied
	// consent, a rejected code or a rejected identity. Empty answers with a JSON 401.
	FailureRedirect string

	// Prompt and Permissions are sent on every authorization request; empty values are dropped.
	Prompt      string
	Permissions string
}

// authParams returns a fresh candidate map per request so no request can
// leak parameters into another.
func (h *AuthHandler) authParams() map[string]string {
	return map[string]string{
		"prompt":      h.Prompt,
		"permissions": h.Permissions,
	}
}

// Index handles GET / -- sends logged-in users to /info, everyone else to the default provider's login.
func (h *AuthHandler) Index(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.sessionFromRequest(r); err == nil {
		http.Redirect(w, r, "/info", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/oauth/"+h.DefaultProvider, http.StatusFound)
}

// Info handles GET /info -- returns the session profile verbatim. Must run behind RequireAuth.
func (h *AuthHandler) Info(w http.ResponseWriter, r *http.Request) {
	profile, ok := ProfileFromContext(r.Context())
	if !ok {
		Unauthorized(w, r, notLoggedIn)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(profile)
}

// Logout handles GET /logout -- deletes the session if any, clears the cookie, redirects to /.
// Idempotent: a missing or unknown session still redirects.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if key, err := sessionKeyFromRequest(r); err == nil {
		if err := h.Sessions.DeleteSession(r.Context(), key); err != nil {
			logWarn(r, "logout: failed to delete session", "error", err)
		} else {
			logInfo(r, "user logged out")
		}
	}
	ClearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// CheckHealth handles GET /health -- pings the session store.
// Returns 200 when healthy, 503 otherwise.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.Sessions.CheckHealth(r.Context()); err != nil {
		logError(r, "session store health check failed", "error", err)
		status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(struct {
		Status   string `json:"status"`
		Sessions string `json:"sessions"`
	}{status, status})
}

// sessionFromRequest resolves the session cookie to a live session.
// Returns the store key alongside so callers can delete or replace it.
func (h *AuthHandler) sessionFromRequest(r *http.Request) (*store.Session, string, error) {
	key, err := sessionKeyFromRequest(r)
	if err != nil {
		return nil, "", err
	}
	sess, err := h.Sessions.GetSession(r.Context(), key)
	if err != nil {
		return nil, key, err
	}
	if sess.Expired(time.Now()) {
		return nil, key, errSessionExpired
	}
	return sess, key, nil
}

var errSessionExpired = errors.New("session expired")
