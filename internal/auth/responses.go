// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. All messages are plain ASCII constants - no
// user-controlled input is interpolated, so string concat is safe here.
package auth

import (
	"net/http"
)

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response with the given message.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// BadGateway returns a 502 JSON response; the provider failed, not the client.
func BadGateway(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusBadGateway, message)
}

// TooManyRequests returns a 429 JSON response.
func TooManyRequests(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusTooManyRequests, message)
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeMessage(w, http.StatusNotFound, "not found")
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}
