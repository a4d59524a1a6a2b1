package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/discord-auth/internal/auth"
	"github.com/MGallo-Code/discord-auth/internal/config"
	"github.com/MGallo-Code/discord-auth/internal/oauth"
	"github.com/MGallo-Code/discord-auth/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// .env is optional; real env vars win over the file.
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	discord, err := newStrategy(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to set up discord strategy: %w", err)
	}

	var sessions auth.SessionStore
	var memStore *store.MemoryStore
	if cfg.RedisURL != "" {
		// Shared Redis client; closed when run() returns.
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		sessions = store.NewRedisStore(rdb)
	} else {
		slog.Warn("REDIS_URL not set, sessions are kept in memory and lost on restart")
		memStore = store.NewMemoryStore()
		sessions = memStore
	}

	h := &auth.AuthHandler{
		Strategies:      map[string]oauth.Strategy{discord.Name(): discord},
		DefaultProvider: discord.Name(),
		Sessions:        sessions,
		SessionTTL:      cfg.SessionTTL,
		FailureRedirect: "/",
		Prompt:          cfg.Prompt,
		Permissions:     cfg.Permissions,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h), ReadHeaderTimeout: 10 * time.Second}

	// Memory store sweep goroutine; Redis expires keys itself.
	// Cancelled via sweepCtx when run() returns.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	if memStore != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := memStore.Sweep(); n > 0 {
						slog.Info("session sweep complete", "deleted", n)
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("discord login listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns, waits for in-flight requests, errors if the 30s timeout hits first.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newStrategy builds the Discord strategy from cfg.
// client is used for provider calls; nil selects the strategy default.
func newStrategy(cfg *config.Config, client *http.Client) (*oauth.DiscordStrategy, error) {
	return oauth.NewDiscordStrategy(oauth.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scope:        cfg.Scopes,
		PKCE:         cfg.PKCE,
		HTTPClient:   client,
	}, acceptProfile)
}

// acceptProfile logs in every Discord user and stores the profile as the session user.
func acceptProfile(_ context.Context, _, _ string, profile oauth.Profile) (oauth.Profile, error) {
	return profile, nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)
	r.Get("/", h.Index)
	r.Get("/oauth/{provider}", h.OAuthRedirect)
	r.Get("/oauth/{provider}/callback", h.OAuthCallback)
	r.Get("/callback", h.DefaultCallback)
	r.Get("/logout", h.Logout)

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/info", h.Info)
	})

	return r
}
