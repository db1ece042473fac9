package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

const keyPrefixLen = 8 // "agk_" plus the first four hex chars

// TenantContext holds the authenticated tenant's identity.
type TenantContext struct {
	TenantID string
	Name     string
}

// Authenticator validates an API key and returns the owning tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*TenantContext, error)
}

// BearerToken extracts the API key from an Authorization header.
// Accepts "Bearer agk_..." (scheme case-insensitive per RFC 6750) or the
// bare key.
func BearerToken(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, "agk_") || len(token) < keyPrefixLen {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}
