// oauth.go -- Generic OAuth2 redirect and callback handlers.
// Provider-specific logic lives in internal/oauth/*.go.
// Adding a provider: implement oauth.Strategy, register it in Strategies in main.go.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/discord-auth/internal/oauth"
	"github.com/MGallo-Code/discord-auth/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/oauth2"
)

const oauthStateCookieName = "__Host-oauth-state"

// oauthStateCookie is the payload stored in __Host-oauth-state during the OAuth round-trip.
type oauthStateCookie struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// OAuthRedirect handles GET /oauth/{provider} -- generates state + PKCE verifier, stores them in a
// short-lived HttpOnly cookie, and redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	strategy, ok := h.strategy(r, w)
	if !ok {
		return
	}

	var stateBytes [32]byte
	if _, err := rand.Read(stateBytes[:]); err != nil {
		InternalServerError(w, r, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes[:])
	verifier := oauth2.GenerateVerifier()

	setOAuthStateCookie(w, state, verifier)
	http.Redirect(w, r, strategy.AuthCodeURL(state, verifier, h.authParams()), http.StatusFound)
}

// OAuthCallback handles GET /oauth/{provider}/callback -- verifies state, lets the strategy
// exchange the code and fetch the profile, then issues a session and redirects to /info.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	strategy, ok := h.strategy(r, w)
	if !ok {
		return
	}
	q := r.URL.Query()

	// Read and immediately clear the state cookie to prevent replay.
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		logWarn(r, "oauth callback: missing state cookie")
		BadRequest(w, r, "missing oauth state")
		return
	}
	clearOAuthStateCookie(w)

	rawJSON, err := base64.RawURLEncoding.DecodeString(stateCookie.Value)
	if err != nil {
		logWarn(r, "oauth callback: bad state cookie encoding", "error", err)
		BadRequest(w, r, "invalid oauth state")
		return
	}
	var sc oauthStateCookie
	if err := json.Unmarshal(rawJSON, &sc); err != nil {
		logWarn(r, "oauth callback: bad state cookie json", "error", err)
		BadRequest(w, r, "invalid oauth state")
		return
	}

	// Constant-time comparison prevents timing oracle on state value.
	if sc.State == "" || subtle.ConstantTimeCompare([]byte(sc.State), []byte(q.Get("state"))) != 1 {
		logWarn(r, "oauth callback: state mismatch")
		Unauthorized(w, r, "invalid oauth state")
		return
	}

	// User clicked "cancel" on the consent page, or the provider refused the request.
	if e := q.Get("error"); e != "" {
		logInfo(r, "oauth callback: provider returned error", "provider", strategy.Name(), "error", e, "description", q.Get("error_description"))
		h.loginDenied(w, r, "oauth authorization denied")
		return
	}

	res, err := strategy.Authenticate(r.Context(), q.Get("code"), sc.Verifier)
	if err != nil {
		h.authenticateFailed(w, r, strategy.Name(), err)
		return
	}

	// Drop any session the browser already had so a login always gets a fresh token.
	if _, oldKey, err := h.sessionFromRequest(r); err == nil {
		if err := h.Sessions.DeleteSession(r.Context(), oldKey); err != nil {
			logWarn(r, "oauth callback: failed to delete previous session", "error", err)
		}
	}

	sessionToken, tokenHash, err := GenerateToken()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	now := time.Now()
	expiresAt := now.Add(h.SessionTTL)
	if err := h.Sessions.SetSession(r.Context(), storeKey(*tokenHash), store.Session{
		ID:        sessionID,
		Profile:   res.User,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, int(h.SessionTTL.Seconds())); err != nil {
		logError(r, "oauth callback: failed to store session", "error", err)
		InternalServerError(w, r, err)
		return
	}

	SetSessionCookie(w, *sessionToken, expiresAt)
	logInfo(r, "oauth user logged in", "user_id", res.User.ID(), "provider", strategy.Name(), "session_id", sessionID)
	http.Redirect(w, r, "/info", http.StatusFound)
}

// authenticateFailed maps strategy error kinds to responses.
func (h *AuthHandler) authenticateFailed(w http.ResponseWriter, r *http.Request, provider string, err error) {
	switch {
	case errors.Is(err, oauth.ErrRateLimited):
		logWarn(r, "oauth callback: provider rate limited", "provider", provider, "error", err)
		TooManyRequests(w, "provider rate limit reached, try again later")
	case errors.Is(err, oauth.ErrTokenExchangeFailed):
		logWarn(r, "oauth callback: exchange failed", "provider", provider, "error", err)
		h.loginDenied(w, r, "oauth authentication failed")
	case errors.Is(err, oauth.ErrProfileFetchFailed), errors.Is(err, oauth.ErrProfileParseFailed):
		logError(r, "oauth callback: profile fetch failed", "provider", provider, "error", err)
		BadGateway(w, "failed to fetch user profile")
	case errors.Is(err, oauth.ErrVerifyRejected):
		logInfo(r, "oauth callback: login rejected", "provider", provider)
		h.loginDenied(w, r, "login rejected")
	default:
		InternalServerError(w, r, err)
	}
}

// loginDenied sends the browser to FailureRedirect when set, otherwise answers 401 with message.
func (h *AuthHandler) loginDenied(w http.ResponseWriter, r *http.Request, message string) {
	if h.FailureRedirect != "" {
		http.Redirect(w, r, h.FailureRedirect, http.StatusFound)
		return
	}
	Unauthorized(w, r, message)
}

// DefaultCallback handles GET /callback -- OAuthCallback for DefaultProvider, so a CALLBACK of
// http://host/callback works without naming the provider.
func (h *AuthHandler) DefaultCallback(w http.ResponseWriter, r *http.Request) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add("provider", h.DefaultProvider)
	h.OAuthCallback(w, r)
}

// strategy reads the {provider} URL param and looks it up in Strategies.
// Writes 404 and returns (nil, false) when the provider is not configured.
func (h *AuthHandler) strategy(r *http.Request, w http.ResponseWriter) (oauth.Strategy, bool) {
	name := chi.URLParam(r, "provider")
	s, ok := h.Strategies[name]
	if !ok {
		NotFound(w)
		return nil, false
	}
	return s, true
}

// setOAuthStateCookie stores state + PKCE verifier in a short-lived HttpOnly cookie.
func setOAuthStateCookie(w http.ResponseWriter, state, verifier string) {
	payload, _ := json.Marshal(oauthStateCookie{State: state, Verifier: verifier})
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

// clearOAuthStateCookie expires the OAuth state cookie immediately.
func clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
