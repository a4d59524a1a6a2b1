// discord.go -- Discord OAuth2 strategy.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitly/go-simplejson"
	"golang.org/x/oauth2"
)

// Default Discord endpoints. AuthorizationURL and TokenURL can be overridden through Options.
const (
	AuthorizationURL = "https://discord.com/api/oauth2/authorize"
	TokenURL         = "https://discord.com/api/oauth2/token"
	UserURL          = "https://discord.com/api/users/@me"
)

// DiscordName is the strategy name, also stamped on every profile as "provider".
const DiscordName = "discord"

// maxProfileBytes caps how much of the /users/@me body is read.
const maxProfileBytes = 1 << 20

// Options configures a DiscordStrategy.
// ClientID, ClientSecret and CallbackURL are required; everything else has a default.
type Options struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// Scope is the ordered list of scopes to request, e.g. "identify", "email".
	Scope []string

	AuthorizationURL string // defaults to AuthorizationURL
	TokenURL         string // defaults to TokenURL
	ScopeSeparator   string // defaults to " "

	// PKCE adds an S256 code_challenge to the auth URL and the verifier to the exchange.
	PKCE bool

	// HTTPClient is used for the token exchange and profile fetch.
	// Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// DiscordStrategy implements Strategy for Discord on top of an *oauth2.Config.
// Immutable after construction; safe for concurrent use.
type DiscordStrategy struct {
	config     *oauth2.Config
	scope      string
	pkce       bool
	verify     VerifyFunc
	httpClient *http.Client
	userURL    string
}

// NewDiscordStrategy validates opts, applies defaults and returns a ready strategy.
// Returns an error wrapping ErrConfiguration when a required option or verify is missing.
func NewDiscordStrategy(opts Options, verify VerifyFunc) (*DiscordStrategy, error) {
	var missing []string
	if opts.ClientID == "" {
		missing = append(missing, "client id")
	}
	if opts.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if opts.CallbackURL == "" {
		missing = append(missing, "callback url")
	}
	if verify == nil {
		missing = append(missing, "verify callback")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	authURL := opts.AuthorizationURL
	if authURL == "" {
		authURL = AuthorizationURL
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	sep := opts.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &DiscordStrategy{
		// Scopes stay off the config: oauth2 always joins them with a space,
		// so the scope param is set by AuthCodeURL using sep instead.
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.CallbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scope:      strings.Join(opts.Scope, sep),
		pkce:       opts.PKCE,
		verify:     verify,
		httpClient: client,
		userURL:    UserURL,
	}, nil
}

// Name returns "discord".
func (s *DiscordStrategy) Name() string { return DiscordName }

// AuthorizationParams returns a copy of candidates without unset (empty) values.
// Discord rejects empty parameters such as "permissions=".
// The input map is never modified, so callers may reuse it across requests.
func (s *DiscordStrategy) AuthorizationParams(candidates map[string]string) map[string]string {
	out := make(map[string]string, len(candidates))
	for k, v := range candidates {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// AuthCodeURL builds the Discord consent page URL.
func (s *DiscordStrategy) AuthCodeURL(state, verifier string, params map[string]string) string {
	filtered := s.AuthorizationParams(params)
	opts := make([]oauth2.AuthCodeOption, 0, len(filtered)+2)
	if s.scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", s.scope))
	}
	for k, v := range filtered {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if s.pkce && verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return s.config.AuthCodeURL(state, opts...)
}

// UserProfile fetches /users/@me with the token in the Authorization header.
// Performs exactly one request and never retries. A 429 is reported as ErrRateLimited,
// every other failure as ErrProfileFetchFailed, and a non-object body as ErrProfileParseFailed.
func (s *DiscordStrategy) UserProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrProfileFetchFailed, err)
	}
	// Discord rejects access_token as a query param on this endpoint.
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrProfileFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: body}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, httpErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, httpErr)
	}

	// simplejson stops after the first value; trailing data must still fail.
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrProfileParseFailed)
	}
	js, err := simplejson.NewJson(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileParseFailed, err)
	}
	fields, err := js.Map()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileParseFailed, err)
	}

	profile := Profile(fields)
	profile["provider"] = DiscordName
	profile["accessToken"] = accessToken
	return profile, nil
}

// Authenticate trades code for a token, fetches the profile and hands it to the verify callback.
// verifier is only sent when PKCE is enabled.
func (s *DiscordStrategy) Authenticate(ctx context.Context, code, verifier string) (*Result, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrTokenExchangeFailed)
	}

	// oauth2 picks its HTTP client up from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	var opts []oauth2.AuthCodeOption
	if s.pkce && verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := s.config.Exchange(ctx, code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	profile, err := s.UserProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.verify(ctx, token.AccessToken, token.RefreshToken, profile)
	if err != nil {
		return nil, fmt.Errorf("verifying profile: %w", err)
	}
	if user == nil {
		return nil, ErrVerifyRejected
	}
	return &Result{User: user, Token: token}, nil
}
