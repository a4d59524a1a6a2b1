// provider.go -- OAuth strategy interface and shared types.
package oauth

import (
	"context"

	"golang.org/x/oauth2"
)

// Profile holds the user attributes returned by a provider's user-info endpoint.
// Keys are whatever the provider sends; no schema is enforced beyond "provider" and
// "accessToken", which the strategy adds after parsing.
//
// Numbers in a freshly fetched profile are json.Number (e.g. "flags", "public_flags",
// "accent_color"). A profile read back from a session store has passed through
// encoding/json, so the same fields come back as float64. Verify callbacks should
// not type-assert float64 on a fresh profile.
type Profile map[string]any

// ID returns the provider user ID, or "" if absent or not a string.
func (p Profile) ID() string { return p.str("id") }

// Username returns the provider username, or "" if absent or not a string.
func (p Profile) Username() string { return p.str("username") }

// Provider returns the name of the strategy that fetched this profile.
func (p Profile) Provider() string { return p.str("provider") }

// AccessToken returns the token used to fetch this profile.
// Kept so callers can make further provider API calls on behalf of the user.
func (p Profile) AccessToken() string { return p.str("accessToken") }

func (p Profile) str(key string) string {
	s, _ := p[key].(string)
	return s
}

// VerifyFunc decides whether a fetched identity is a valid login.
// Return the user to store in the session, or (nil, nil) to reject the identity.
type VerifyFunc func(ctx context.Context, accessToken, refreshToken string, profile Profile) (Profile, error)

// Result is the outcome of a successful Authenticate call.
type Result struct {
	// User is what the VerifyFunc returned.
	User  Profile
	Token *oauth2.Token
}

// Strategy is an OAuth2 authorization-code strategy for one provider.
// Implementations compose an *oauth2.Config for the protocol work and add the
// provider-specific endpoints, profile fetch, and parameter handling.
type Strategy interface {
	// Name returns the provider identifier used as the URL param.
	Name() string

	// AuthorizationParams returns candidates with every unset entry removed.
	AuthorizationParams(candidates map[string]string) map[string]string

	// AuthCodeURL returns the provider consent URL with state, scope, the filtered params,
	// and (when enabled) a PKCE S256 challenge derived from verifier.
	AuthCodeURL(state, verifier string, params map[string]string) string

	// UserProfile fetches the authenticated user's profile with the given access token.
	UserProfile(ctx context.Context, accessToken string) (Profile, error)

	// Authenticate exchanges the authorization code, fetches the profile, and runs the
	// verify callback.
	Authenticate(ctx context.Context, code, verifier string) (*Result, error)
}
