// middleware.go

// Session authentication middleware.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/discord-auth/internal/oauth"
	"github.com/MGallo-Code/discord-auth/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const profileKey contextKey = "profile"
const sessionKey contextKey = "session"

// notLoggedIn is the body RequireAuth answers with.
const notLoggedIn = "not logged in :("

// ProfileFromContext retrieves the logged-in user's profile from context.
// Returns nil and false if RequireAuth hasn't run.
func ProfileFromContext(ctx context.Context) (oauth.Profile, bool) {
	p, ok := ctx.Value(profileKey).(oauth.Profile)
	return p, ok
}

// SessionFromContext retrieves the current session from context.
// Returns nil and false if RequireAuth hasn't run.
func SessionFromContext(ctx context.Context) (*store.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*store.Session)
	return s, ok
}

// RequireAuth validates the session cookie against the session store.
// Injects the profile and session into context on success; returns 401 on failure.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _, err := h.sessionFromRequest(r)
		if err != nil {
			switch {
			case errors.Is(err, errNoSessionCookie):
				logDebug(r, "require auth failed", "reason", "missing_session_cookie")
			case errors.Is(err, errBadSessionCookie):
				logWarn(r, "require auth failed", "reason", "invalid_session_cookie")
			case errors.Is(err, store.ErrCacheMiss), errors.Is(err, errSessionExpired):
				logWarn(r, "require auth failed", "reason", "session_not_found")
			default:
				logError(r, "require auth failed fetching session", "error", err)
			}
			Unauthorized(w, r, notLoggedIn)
			return
		}

		ctx := context.WithValue(r.Context(), profileKey, oauth.Profile(sess.Profile))
		ctx = context.WithValue(ctx, sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
