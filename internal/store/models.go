// models.go -- Shared types for the store package.
// Used by both the Redis store and the in-memory store.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by GetSession when no live session exists for the key.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// Session is what the login flow stores per authenticated browser.
// Profile is the verified user exactly as the verify callback returned it;
// the store serialises it verbatim and hands it back unchanged.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	Profile   map[string]any `json:"profile"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
