// discord_test.go -- unit tests for DiscordStrategy.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// --- Helpers ---

func validOptions() Options {
	return Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://app.test/oauth/discord/callback",
		Scope:        []string{"identify", "email"},
	}
}

// acceptAll is a VerifyFunc that logs in every profile as-is.
func acceptAll(_ context.Context, _, _ string, p Profile) (Profile, error) {
	return p, nil
}

// newTestStrategy returns a strategy whose profile endpoint points at srv.
func newTestStrategy(t *testing.T, srv *httptest.Server, opts Options) *DiscordStrategy {
	t.Helper()
	if srv != nil {
		opts.TokenURL = srv.URL + "/api/oauth2/token"
		opts.HTTPClient = srv.Client()
	}
	s, err := NewDiscordStrategy(opts, acceptAll)
	if err != nil {
		t.Fatalf("NewDiscordStrategy failed: %v", err)
	}
	if srv != nil {
		s.userURL = srv.URL + "/api/users/@me"
	}
	return s
}

// userHandler serves /users/@me with the given status and body.
func userHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

// --- NewDiscordStrategy ---

func TestNewDiscordStrategy(t *testing.T) {
	t.Run("applies default endpoints and separator", func(t *testing.T) {
		s, err := NewDiscordStrategy(validOptions(), acceptAll)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.config.Endpoint.AuthURL != AuthorizationURL {
			t.Errorf("AuthURL: expected %q, got %q", AuthorizationURL, s.config.Endpoint.AuthURL)
		}
		if s.config.Endpoint.TokenURL != TokenURL {
			t.Errorf("TokenURL: expected %q, got %q", TokenURL, s.config.Endpoint.TokenURL)
		}
		if s.scope != "identify email" {
			t.Errorf("scope: expected %q, got %q", "identify email", s.scope)
		}
		if s.userURL != UserURL {
			t.Errorf("userURL: expected %q, got %q", UserURL, s.userURL)
		}
		if s.httpClient == nil {
			t.Error("httpClient: expected default client, got nil")
		}
	})

	t.Run("keeps overridden endpoints", func(t *testing.T) {
		opts := validOptions()
		opts.AuthorizationURL = "https://auth.test/authorize"
		opts.TokenURL = "https://auth.test/token"
		opts.ScopeSeparator = ","
		s, err := NewDiscordStrategy(opts, acceptAll)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.config.Endpoint.AuthURL != opts.AuthorizationURL {
			t.Errorf("AuthURL: expected %q, got %q", opts.AuthorizationURL, s.config.Endpoint.AuthURL)
		}
		if s.config.Endpoint.TokenURL != opts.TokenURL {
			t.Errorf("TokenURL: expected %q, got %q", opts.TokenURL, s.config.Endpoint.TokenURL)
		}
		if s.scope != "identify,email" {
			t.Errorf("scope: expected %q, got %q", "identify,email", s.scope)
		}
	})

	cases := []struct {
		name   string
		mutate func(*Options)
		verify VerifyFunc
	}{
		{"missing client id", func(o *Options) { o.ClientID = "" }, acceptAll},
		{"missing client secret", func(o *Options) { o.ClientSecret = "" }, acceptAll},
		{"missing callback url", func(o *Options) { o.CallbackURL = "" }, acceptAll},
		{"missing verify callback", func(o *Options) {}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := validOptions()
			tc.mutate(&opts)
			s, err := NewDiscordStrategy(opts, tc.verify)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if s != nil {
				t.Error("expected nil strategy on configuration error")
			}
		})
	}

	t.Run("names every missing field", func(t *testing.T) {
		_, err := NewDiscordStrategy(Options{}, acceptAll)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		for _, want := range []string{"client id", "client secret", "callback url"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q: expected to mention %q", err.Error(), want)
			}
		}
	})
}

func TestName(t *testing.T) {
	s := newTestStrategy(t, nil, validOptions())
	if s.Name() != "discord" {
		t.Errorf("Name: expected %q, got %q", "discord", s.Name())
	}
}

// --- AuthorizationParams ---

func TestAuthorizationParams(t *testing.T) {
	s := newTestStrategy(t, nil, validOptions())

	t.Run("drops unset values", func(t *testing.T) {
		got := s.AuthorizationParams(map[string]string{"permissions": "", "prompt": "consent"})
		if len(got) != 1 || got["prompt"] != "consent" {
			t.Errorf("expected only prompt=consent, got %v", got)
		}
		if _, ok := got["permissions"]; ok {
			t.Error("permissions: expected key to be removed")
		}
	})

	t.Run("fully populated map is unchanged", func(t *testing.T) {
		in := map[string]string{"permissions": "8", "prompt": "none"}
		got := s.AuthorizationParams(in)
		if len(got) != len(in) {
			t.Fatalf("expected %d entries, got %v", len(in), got)
		}
		for k, v := range in {
			if got[k] != v {
				t.Errorf("%s: expected %q, got %q", k, v, got[k])
			}
		}
		again := s.AuthorizationParams(got)
		if len(again) != len(got) {
			t.Errorf("expected idempotent result, got %v", again)
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		in := map[string]string{"permissions": "", "prompt": "consent"}
		s.AuthorizationParams(in)
		if _, ok := in["permissions"]; !ok {
			t.Error("input map was modified")
		}
	})

	t.Run("nil input returns empty map", func(t *testing.T) {
		got := s.AuthorizationParams(nil)
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty map, got %v", got)
		}
	})
}

// --- AuthCodeURL ---

func TestAuthCodeURL(t *testing.T) {
	t.Run("includes client, scope, state and filtered params", func(t *testing.T) {
		s := newTestStrategy(t, nil, validOptions())
		raw := s.AuthCodeURL("state-123", "verifier", map[string]string{"prompt": "consent", "permissions": ""})

		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parsing url: %v", err)
		}
		if got := u.Scheme + "://" + u.Host + u.Path; got != AuthorizationURL {
			t.Errorf("base: expected %q, got %q", AuthorizationURL, got)
		}
		q := u.Query()
		want := map[string]string{
			"client_id":     "client-id",
			"redirect_uri":  "https://app.test/oauth/discord/callback",
			"response_type": "code",
			"scope":         "identify email",
			"state":         "state-123",
			"prompt":        "consent",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("%s: expected %q, got %q", k, v, q.Get(k))
			}
		}
		if q.Has("permissions") {
			t.Error("permissions: expected to be dropped")
		}
		if q.Has("code_challenge") {
			t.Error("code_challenge: expected none with PKCE disabled")
		}
		if q.Has("access_token") || q.Has("client_secret") {
			t.Error("auth url must not carry secrets")
		}
	})

	t.Run("uses custom scope separator", func(t *testing.T) {
		opts := validOptions()
		opts.ScopeSeparator = ","
		s := newTestStrategy(t, nil, opts)
		u, _ := url.Parse(s.AuthCodeURL("s", "", nil))
		if got := u.Query().Get("scope"); got != "identify,email" {
			t.Errorf("scope: expected %q, got %q", "identify,email", got)
		}
	})

	t.Run("adds S256 challenge when PKCE enabled", func(t *testing.T) {
		opts := validOptions()
		opts.PKCE = true
		s := newTestStrategy(t, nil, opts)
		u, _ := url.Parse(s.AuthCodeURL("s", "some-verifier", nil))
		q := u.Query()
		if q.Get("code_challenge") == "" {
			t.Error("code_challenge: expected non-empty")
		}
		if q.Get("code_challenge_method") != "S256" {
			t.Errorf("code_challenge_method: expected S256, got %q", q.Get("code_challenge_method"))
		}
	})

	t.Run("omits scope when none requested", func(t *testing.T) {
		opts := validOptions()
		opts.Scope = nil
		s := newTestStrategy(t, nil, opts)
		u, _ := url.Parse(s.AuthCodeURL("s", "", nil))
		if u.Query().Has("scope") {
			t.Errorf("scope: expected absent, got %q", u.Query().Get("scope"))
		}
	})
}

// --- UserProfile ---

func TestUserProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("success returns annotated profile", func(t *testing.T) {
		var gotAuth, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotQuery = r.URL.RawQuery
			userHandler(http.StatusOK, `{"id":"123","username":"alice"}`)(w, r)
		}))
		defer srv.Close()

		s := newTestStrategy(t, srv, validOptions())
		p, err := s.UserProfile(ctx, "tok-abc")
		if err != nil {
			t.Fatalf("UserProfile failed: %v", err)
		}
		if p.ID() != "123" {
			t.Errorf("id: expected %q, got %q", "123", p.ID())
		}
		if p.Username() != "alice" {
			t.Errorf("username: expected %q, got %q", "alice", p.Username())
		}
		if p.Provider() != "discord" {
			t.Errorf("provider: expected %q, got %q", "discord", p.Provider())
		}
		if p.AccessToken() != "tok-abc" {
			t.Errorf("accessToken: expected %q, got %q", "tok-abc", p.AccessToken())
		}
		if gotAuth != "Bearer tok-abc" {
			t.Errorf("Authorization header: expected %q, got %q", "Bearer tok-abc", gotAuth)
		}
		if gotQuery != "" {
			t.Errorf("query: expected none, got %q", gotQuery)
		}
	})

	t.Run("keeps unknown provider fields", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusOK, `{"id":"1","guilds":[{"id":"g"}],"verified":true}`))
		defer srv.Close()

		p, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if err != nil {
			t.Fatalf("UserProfile failed: %v", err)
		}
		if _, ok := p["guilds"]; !ok {
			t.Error("guilds: expected to be kept")
		}
		if p["verified"] != true {
			t.Errorf("verified: expected true, got %v", p["verified"])
		}
	})

	t.Run("429 returns ErrRateLimited", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusTooManyRequests, `{"message":"You are being rate limited.","retry_after":1.5}`))
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if errors.Is(err, ErrProfileFetchFailed) {
			t.Error("429 must not also match ErrProfileFetchFailed")
		}
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatal("expected wrapped *HTTPError")
		}
		if httpErr.StatusCode != http.StatusTooManyRequests {
			t.Errorf("StatusCode: expected 429, got %d", httpErr.StatusCode)
		}
	})

	t.Run("500 returns ErrProfileFetchFailed", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusInternalServerError, `oops`))
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if !errors.Is(err, ErrProfileFetchFailed) {
			t.Fatalf("expected ErrProfileFetchFailed, got %v", err)
		}
		if errors.Is(err, ErrRateLimited) {
			t.Error("500 must not match ErrRateLimited")
		}
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected *HTTPError with 500, got %v", err)
		}
	})

	t.Run("401 returns ErrProfileFetchFailed", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusUnauthorized, `{"message":"401: Unauthorized"}`))
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if !errors.Is(err, ErrProfileFetchFailed) {
			t.Fatalf("expected ErrProfileFetchFailed, got %v", err)
		}
	})

	t.Run("non-json body returns ErrProfileParseFailed", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusOK, `not-json`))
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if !errors.Is(err, ErrProfileParseFailed) {
			t.Fatalf("expected ErrProfileParseFailed, got %v", err)
		}
		if errors.Is(err, ErrProfileFetchFailed) || errors.Is(err, ErrRateLimited) {
			t.Error("parse failure must not match transport error kinds")
		}
	})

	t.Run("json non-object body returns ErrProfileParseFailed", func(t *testing.T) {
		for _, body := range []string{`null`, `[1,2]`, `"str"`} {
			srv := httptest.NewServer(userHandler(http.StatusOK, body))
			_, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
			srv.Close()
			if !errors.Is(err, ErrProfileParseFailed) {
				t.Errorf("body %s: expected ErrProfileParseFailed, got %v", body, err)
			}
		}
	})

	t.Run("trailing data after object returns ErrProfileParseFailed", func(t *testing.T) {
		for _, body := range []string{`{"id":"123"}not-json`, `{"id":"1"}{"id":"2"}`, ``} {
			srv := httptest.NewServer(userHandler(http.StatusOK, body))
			p, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
			srv.Close()
			if !errors.Is(err, ErrProfileParseFailed) {
				t.Errorf("body %q: expected ErrProfileParseFailed, got profile=%v err=%v", body, p, err)
			}
		}
	})

	t.Run("numbers decode as json.Number", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusOK, `{"id":"1","public_flags":64}`))
		defer srv.Close()

		p, err := newTestStrategy(t, srv, validOptions()).UserProfile(ctx, "tok")
		if err != nil {
			t.Fatalf("UserProfile failed: %v", err)
		}
		n, ok := p["public_flags"].(json.Number)
		if !ok || n.String() != "64" {
			t.Errorf("public_flags: expected json.Number 64, got %T %v", p["public_flags"], p["public_flags"])
		}
	})

	t.Run("network error returns ErrProfileFetchFailed", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusOK, `{}`))
		s := newTestStrategy(t, srv, validOptions())
		srv.Close() // closed before request is sent

		_, err := s.UserProfile(ctx, "tok")
		if !errors.Is(err, ErrProfileFetchFailed) {
			t.Fatalf("expected ErrProfileFetchFailed, got %v", err)
		}
	})

	t.Run("cancelled context returns error", func(t *testing.T) {
		srv := httptest.NewServer(userHandler(http.StatusOK, `{}`))
		defer srv.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newTestStrategy(t, srv, validOptions()).UserProfile(cctx, "tok")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent calls return their own token", func(t *testing.T) {
		// Echoes the bearer token back as the profile id.
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			json.NewEncoder(w).Encode(map[string]string{"id": tok})
		}))
		defer srv.Close()

		s := newTestStrategy(t, srv, validOptions())
		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(tok string) {
				defer wg.Done()
				p, err := s.UserProfile(ctx, tok)
				if err != nil {
					errs <- err
					return
				}
				if p.ID() != tok || p.AccessToken() != tok {
					errs <- fmt.Errorf("token %q: got id %q accessToken %q", tok, p.ID(), p.AccessToken())
				}
			}(fmt.Sprintf("tok-%d", i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}

// --- Authenticate ---

// fakeDiscord serves the token and user endpoints.
// tokenStatus controls the token endpoint response; the user endpoint always succeeds.
type fakeDiscord struct {
	tokenStatus int
	lastForm    url.Values
	mu          sync.Mutex
}

func (f *fakeDiscord) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/oauth2/token":
		r.ParseForm()
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"access-` + r.PostForm.Get("code") + `","token_type":"Bearer","refresh_token":"refresh-1","expires_in":604800,"scope":"identify email"}`))
	case "/api/users/@me":
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "42", "username": "alice", "seen_token": tok})
	default:
		http.NotFound(w, r)
	}
}

// form returns the last token request body.
func (f *fakeDiscord) form() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges code and runs verify", func(t *testing.T) {
		fake := &fakeDiscord{}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		var gotAccess, gotRefresh string
		opts := validOptions()
		opts.TokenURL = srv.URL + "/api/oauth2/token"
		opts.HTTPClient = srv.Client()
		s, err := NewDiscordStrategy(opts, func(_ context.Context, access, refresh string, p Profile) (Profile, error) {
			gotAccess, gotRefresh = access, refresh
			return p, nil
		})
		if err != nil {
			t.Fatalf("NewDiscordStrategy failed: %v", err)
		}
		s.userURL = srv.URL + "/api/users/@me"

		res, err := s.Authenticate(ctx, "code-1", "")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if gotAccess != "access-code-1" || gotRefresh != "refresh-1" {
			t.Errorf("verify got access=%q refresh=%q", gotAccess, gotRefresh)
		}
		if res.User.ID() != "42" {
			t.Errorf("user id: expected %q, got %q", "42", res.User.ID())
		}
		if res.User["seen_token"] != "access-code-1" {
			t.Errorf("profile fetched with %v, expected access-code-1", res.User["seen_token"])
		}
		if res.Token.AccessToken != "access-code-1" {
			t.Errorf("token: expected %q, got %q", "access-code-1", res.Token.AccessToken)
		}

		form := fake.form()
		if form.Get("client_id") != "client-id" || form.Get("client_secret") != "client-secret" {
			t.Errorf("client credentials: expected in body, got %v", form)
		}
		if form.Get("redirect_uri") != opts.CallbackURL {
			t.Errorf("redirect_uri: expected %q, got %q", opts.CallbackURL, form.Get("redirect_uri"))
		}
		if form.Has("code_verifier") {
			t.Error("code_verifier: expected none with PKCE disabled")
		}
	})

	t.Run("sends verifier when PKCE enabled", func(t *testing.T) {
		fake := &fakeDiscord{}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		opts := validOptions()
		opts.PKCE = true
		s := newTestStrategy(t, srv, opts)
		if _, err := s.Authenticate(ctx, "code-2", "the-verifier"); err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if got := fake.form().Get("code_verifier"); got != "the-verifier" {
			t.Errorf("code_verifier: expected %q, got %q", "the-verifier", got)
		}
	})

	t.Run("missing code fails before exchange", func(t *testing.T) {
		s := newTestStrategy(t, nil, validOptions())
		_, err := s.Authenticate(ctx, "", "")
		if !errors.Is(err, ErrTokenExchangeFailed) {
			t.Errorf("expected ErrTokenExchangeFailed, got %v", err)
		}
	})

	t.Run("token endpoint rejection returns ErrTokenExchangeFailed", func(t *testing.T) {
		srv := httptest.NewServer(&fakeDiscord{tokenStatus: http.StatusBadRequest})
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).Authenticate(ctx, "bad", "")
		if !errors.Is(err, ErrTokenExchangeFailed) {
			t.Errorf("expected ErrTokenExchangeFailed, got %v", err)
		}
	})

	t.Run("token endpoint 429 returns ErrRateLimited", func(t *testing.T) {
		srv := httptest.NewServer(&fakeDiscord{tokenStatus: http.StatusTooManyRequests})
		defer srv.Close()

		_, err := newTestStrategy(t, srv, validOptions()).Authenticate(ctx, "code", "")
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("verify returning nil rejects", func(t *testing.T) {
		srv := httptest.NewServer(&fakeDiscord{})
		defer srv.Close()

		opts := validOptions()
		opts.TokenURL = srv.URL + "/api/oauth2/token"
		s, _ := NewDiscordStrategy(opts, func(context.Context, string, string, Profile) (Profile, error) {
			return nil, nil
		})
		s.userURL = srv.URL + "/api/users/@me"

		_, err := s.Authenticate(ctx, "code", "")
		if !errors.Is(err, ErrVerifyRejected) {
			t.Errorf("expected ErrVerifyRejected, got %v", err)
		}
	})

	t.Run("verify error is wrapped", func(t *testing.T) {
		srv := httptest.NewServer(&fakeDiscord{})
		defer srv.Close()

		errBanned := errors.New("banned")
		opts := validOptions()
		opts.TokenURL = srv.URL + "/api/oauth2/token"
		s, _ := NewDiscordStrategy(opts, func(context.Context, string, string, Profile) (Profile, error) {
			return nil, errBanned
		})
		s.userURL = srv.URL + "/api/users/@me"

		_, err := s.Authenticate(ctx, "code", "")
		if !errors.Is(err, errBanned) {
			t.Errorf("expected wrapped errBanned, got %v", err)
		}
	})
}
