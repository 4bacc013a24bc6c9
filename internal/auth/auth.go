// Package auth holds the credential checks shared by the HTTP boundary and
// the dispatcher's principal authorization.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrNoCredentials = errors.New("missing Authorization header")
	ErrWrongScheme   = errors.New("authorization scheme must be Bearer")
	ErrEmptyToken    = errors.New("bearer token is empty")
)

// ExtractBearerToken returns the credential of an "Authorization: Bearer"
// header. The scheme name is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", ErrWrongScheme
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Equal reports whether two secrets match without leaking their length or
// the position of the first difference. An empty value never matches.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	da, db := sha256.Sum256([]byte(a)), sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
