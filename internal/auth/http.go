// ABOUTME: Credential extraction and HTTP middleware for authenticated requests
// ABOUTME: Accepts bearer header, auth_token cookie, or token query parameter

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CookieName is the session cookie carrying the credential on browser
// websocket handshakes, where custom headers are unavailable.
const CookieName = "auth_token"

// ErrNoCredential is returned when a request carries no recognizable credential
var ErrNoCredential = errors.New("no credential")

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest extracts the credential from a request, checking the
// Authorization header, then the auth_token cookie, then the token query
// parameter. Returns ErrNoCredential if none is present.
func TokenFromRequest(r *http.Request) (string, error) {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token, nil
	}

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrNoCredential
}

// Authenticate verifies the credential on a request and returns a fresh
// Identity for the connection. Used on the websocket handshake: any failure
// refuses the connection before an upgrade happens, so no partial state is
// ever observable by the client.
func Authenticate(r *http.Request, verifier TokenVerifier) (*Identity, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	return &Identity{
		UserID:       userID,
		ConnectionID: uuid.New().String(),
	}, nil
}

// HTTPMiddleware creates an HTTP middleware that verifies the request
// credential and attaches the Identity to the request context using the
// same WithIdentity/FromContext pattern as the websocket handshake.
func HTTPMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Authenticate(r, verifier)
			if err != nil {
				http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
