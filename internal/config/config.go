// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultScopes mirrors what the example login asks Discord for.
var DefaultScopes = []string{"identify", "email", "connections", "guilds", "guilds.join"}

// Config holds all env configuration vars for the login service.
type Config struct {
	// Discord application credentials. All three required.
	// CallbackURL (CALLBACK) must match a redirect registered with Discord and point at
	// /oauth/discord/callback or /callback on this service.
	ClientID     string
	ClientSecret string
	CallbackURL  string

	Port     string
	RedisURL string // empty selects the in-memory session store
	LogLevel slog.Level

	// Scopes requested on every login, in order. Defaults to DefaultScopes.
	Scopes []string
	// Prompt and Permissions go on the authorization URL; empty values are dropped.
	Prompt      string
	Permissions string
	// PKCE enables S256 code challenges on the authorization request.
	PKCE bool

	// SessionTTL defaults to 24h.
	SessionTTL time.Duration
}

// LoadDotEnv loads variables from path into the environment without overriding
// anything already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if CLIENT_ID, CLIENT_SECRET or CALLBACK are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.ClientID = os.Getenv("CLIENT_ID")
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("CLIENT_ID is required")
	}
	cfg.ClientSecret = os.Getenv("CLIENT_SECRET")
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("CLIENT_SECRET is required")
	}
	cfg.CallbackURL = os.Getenv("CALLBACK")
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("CALLBACK is required")
	}

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.Scopes = envList("SCOPES", DefaultScopes)

	// PROMPT unset means "consent"; PROMPT set to empty string drops it.
	if v, ok := os.LookupEnv("PROMPT"); ok {
		cfg.Prompt = v
	} else {
		cfg.Prompt = "consent"
	}
	cfg.Permissions = os.Getenv("PERMISSIONS")
	cfg.PKCE = envBool("PKCE", false)

	cfg.SessionTTL = envDuration("SESSION_TTL", 24*time.Hour)

	return cfg, nil
}

// envList reads a comma-separated env var, trimming blanks. Returns a copy of def if empty.
func envList(key string, def []string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
// Sub-second values are rejected: session TTLs are stored in whole seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < time.Second {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
