// Package auth verifies RSA-signed bearer tokens and extracts the caller's
// identity. Every management and file operation resolves its subject here
// before doing anything else.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// TokenHeader carries the compact JWS serialization on every request.
const TokenHeader = "x-tapis-token"

// Token failure modes. All four surface to the client as the same error
// class; the distinction matters for logs and tests.
var (
	ErrMissingToken     = errors.New("no token found in " + TokenHeader + " header")
	ErrInvalidSignature = errors.New("token signature verification failed")
	ErrInvalidClaims    = errors.New("token claims could not be parsed")
	ErrNoSubject        = errors.New("token claims did not have a subject")
)

// Verifier checks tokens against a single preloaded RSA public key. No
// network fetch happens per request; key refresh is outside this component.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier creates a verifier for the given public key.
func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// SubjectOf extracts and returns the verified subject of the request's
// bearer token. Verification enforces RS256 and, when the token carries an
// exp claim, expiration.
func (v *Verifier) SubjectOf(r *http.Request) (string, error) {
	tokenStr := r.Header.Get(TokenHeader)
	if tokenStr == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return "", fmt.Errorf("%w: %w", ErrInvalidClaims, err)
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return "", ErrInvalidSignature
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
