package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed reports a token that could not be decoded at all: wrong
// segment count, bad base64url payload, or a payload that is not JSON.
var ErrMalformed = errors.New("jwtx: malformed token")

// Claims are the access-token claims this library reads. The token is issued
// and signed by the backend; the client only decodes the payload, so only
// the fields consumed here are modelled. Unknown fields are ignored.
type Claims struct {
	jwt.RegisteredClaims

	// Email of the authenticated user, when the backend embeds it.
	Email string `json:"email,omitempty"`

	// Roles granted to the user, e.g. ["admin", "user"].
	Roles []string `json:"roles,omitempty"`

	// Permissions are fine-grained grants, e.g. ["users:write"].
	Permissions []string `json:"permissions,omitempty"`

	// Modules lists the product modules the user may access.
	Modules []string `json:"modules,omitempty"`

	// TenantID identifies the tenant the token was issued for.
	TenantID string `json:"tenantId,omitempty"`
}

// Expired reports whether the token is expired at the given instant.
// A missing exp claim counts as expired: if we cannot determine the
// lifetime of a token we must not treat it as live.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(c.ExpiresAt.Time)
}

// ExpiresIn returns the remaining lifetime of the token at the given
// instant. Zero or negative means the token is already expired or has no
// exp claim.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// Subject returns the sub claim, empty when absent.
func (c *Claims) Subject() string {
	return c.RegisteredClaims.Subject
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the claims carry the given permission.
func (c *Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
