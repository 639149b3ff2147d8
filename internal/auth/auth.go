// Package auth implements the shared-secret check guarding the trigger API.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingKey means no credential was presented.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidKey means the presented credential does not match.
	ErrInvalidKey = errors.New("invalid API key")
)

// ExtractKey returns the credential presented on r. The configured header
// (X-API-Key by default) is checked first, then an Authorization: Bearer
// header so CLI and TUI clients can share the same transport. The key is
// returned byte for byte; a blank value counts as missing.
func ExtractKey(r *http.Request, header string) (string, error) {
	if header != "" {
		if key := r.Header.Get(header); strings.TrimSpace(key) != "" {
			return key, nil
		}
	}

	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		if token := strings.TrimPrefix(authz, prefix); strings.TrimSpace(token) != "" {
			return token, nil
		}
	}
	return "", ErrMissingKey
}

// ValidateKey compares presented against configured in constant time.
// An empty configured key never authenticates anything.
func ValidateKey(presented, configured string) error {
	if presented == "" {
		return ErrMissingKey
	}
	if !constantTimeEqual(presented, configured) {
		return ErrInvalidKey
	}
	return nil
}

// Authenticate extracts and validates the credential on r.
func Authenticate(r *http.Request, header, configured string) error {
	key, err := ExtractKey(r, header)
	if err != nil {
		return err
	}
	return ValidateKey(key, configured)
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
