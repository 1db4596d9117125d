package jwtx

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// parser is shared and safe for concurrent use. Validation is skipped on
// purpose: signature and audience checks are the backend's job, the client
// only reads the payload to derive session state.
var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode splits the token, base64url-decodes the payload segment and parses
// it into Claims. It performs no signature verification. Any malformed
// input yields ErrMalformed; Decode never panics.
func Decode(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return claims, nil
}

// IsExpired reports whether the token is expired right now. It fails
// closed: an undecodable token or one without an exp claim is expired.
func IsExpired(token string) bool {
	return IsExpiredAt(token, time.Now())
}

// IsExpiredAt is IsExpired with an injectable clock for tests and for the
// refresh scheduler.
func IsExpiredAt(token string, now time.Time) bool {
	claims, err := Decode(token)
	if err != nil {
		return true
	}
	return claims.Expired(now)
}
