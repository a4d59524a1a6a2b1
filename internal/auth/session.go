// session.go

// Session token generation and cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// sessionCookieName holds the raw session token; only its hash is stored.
const sessionCookieName = "__Host-session"

var (
	errNoSessionCookie  = errors.New("missing session cookie")
	errBadSessionCookie = errors.New("invalid session cookie")
)

// GenerateToken returns 256-bit random session token and its SHA-256 hash.
// Token goes in the cookie; hash goes in storage.
func GenerateToken() (*[32]byte, *[32]byte, error) {
	var token [32]byte
	_, err := rand.Read(token[:])
	if err != nil {
		return nil, nil, fmt.Errorf("generating token with rand: %w", err)
	}
	hash := sha256.Sum256(token[:])
	return &token, &hash, nil
}

// storeKey encodes a token hash as the session store key.
func storeKey(tokenHash [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(tokenHash[:])
}

// sessionKeyFromRequest reads __Host-session and returns the store key for it.
func sessionKeyFromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", errNoSessionCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil || len(raw) != 32 {
		return "", errBadSessionCookie
	}
	return storeKey(sha256.Sum256(raw)), nil
}

// SetSessionCookie writes __Host-session cookie with HttpOnly, Secure, SameSite=Lax.
func SetSessionCookie(w http.ResponseWriter, rawToken [32]byte, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(rawToken[:]),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

// ClearSessionCookie overwrites __Host-session with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
