// errors.go -- Error kinds returned by strategies.
package oauth

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned by constructors when a required option is missing.
var ErrConfiguration = errors.New("oauth: invalid configuration")

// ErrRateLimited is returned when the provider answers HTTP 429.
// The wrapped error carries the response; retry policy is left to the caller.
var ErrRateLimited = errors.New("provider rate limit reached")

// ErrProfileFetchFailed is returned by UserProfile for every other transport or HTTP failure.
var ErrProfileFetchFailed = errors.New("failed to fetch the user profile")

// ErrProfileParseFailed is returned by UserProfile when the body is not a JSON object.
var ErrProfileParseFailed = errors.New("failed to parse the user profile")

// ErrTokenExchangeFailed is returned by Authenticate when the token endpoint rejects the code.
var ErrTokenExchangeFailed = errors.New("failed to obtain access token")

// ErrVerifyRejected is returned by Authenticate when the VerifyFunc returns no user.
var ErrVerifyRejected = errors.New("identity rejected by verify callback")

// HTTPError describes a non-2xx response from a provider endpoint.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
