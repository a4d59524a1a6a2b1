// strategy.go
//
// Scriptable oauth.Strategy for handler tests.
package testutil

import (
	"context"
	"net/url"
	"sync"

	"github.com/MGallo-Code/discord-auth/internal/oauth"
	"golang.org/x/oauth2"
)

// MockStrategy implements oauth.Strategy without any network calls.
// AuthCodeURL returns AuthURL with the state, verifier and non-empty params appended.
// Authenticate returns User (or AuthErr) and records the code and verifier it was given.
type MockStrategy struct {
	StrategyName string
	AuthURL      string
	User         oauth.Profile
	AuthErr      error
	ProfileErr   error

	mu           sync.Mutex
	LastCode     string
	LastVerifier string
	Calls        int
}

func (m *MockStrategy) Name() string { return m.StrategyName }

func (m *MockStrategy) AuthorizationParams(candidates map[string]string) map[string]string {
	out := make(map[string]string, len(candidates))
	for k, v := range candidates {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (m *MockStrategy) AuthCodeURL(state, verifier string, params map[string]string) string {
	v := url.Values{"state": {state}, "verifier": {verifier}}
	for k, p := range m.AuthorizationParams(params) {
		v.Set(k, p)
	}
	return m.AuthURL + "?" + v.Encode()
}

func (m *MockStrategy) UserProfile(_ context.Context, accessToken string) (oauth.Profile, error) {
	if m.ProfileErr != nil {
		return nil, m.ProfileErr
	}
	p := oauth.Profile{"provider": m.StrategyName, "accessToken": accessToken}
	for k, v := range m.User {
		p[k] = v
	}
	return p, nil
}

func (m *MockStrategy) Authenticate(ctx context.Context, code, verifier string) (*oauth.Result, error) {
	m.mu.Lock()
	m.LastCode, m.LastVerifier = code, verifier
	m.Calls++
	m.mu.Unlock()
	if m.AuthErr != nil {
		return nil, m.AuthErr
	}
	p, err := m.UserProfile(ctx, "access-"+code)
	if err != nil {
		return nil, err
	}
	return &oauth.Result{User: p, Token: &oauth2.Token{AccessToken: "access-" + code}}, nil
}
