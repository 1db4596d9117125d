package authkit

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/jwtx"
)

// ============================================================================
// Request Types
// ============================================================================

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FullName is the split name shape the register endpoint expects.
type FullName struct {
	First string `json:"fname"`
	Last  string `json:"lname"`
}

// Registration is the register request body.
type Registration struct {
	FullName FullName `json:"fullname"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Phone    string   `json:"phone,omitempty"`
	TenantID string   `json:"tenantId,omitempty"`
}

// ============================================================================
// Response Types
// ============================================================================

// TokenPair is returned by the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MessageResponse is the generic acknowledgement shape used by the
// verification and password endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterResponse acknowledges a registration. The user payload, when
// present, is kept raw: registration does not log the user in, so nothing
// here feeds session state.
type RegisterResponse struct {
	Message string          `json:"message"`
	RawUser json.RawMessage `json:"user,omitempty"`
}

// ============================================================================
// User Profile
// ============================================================================

// User is the profile carried in session state, reconciled from the profile
// endpoint (preferred) or token claims (fallback).
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Modules     []string `json:"modules,omitempty"`
	TenantID    string   `json:"tenantId,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user carries the given permission.
func (u *User) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ErrBadProfile reports a profile payload the parser could not accept.
var ErrBadProfile = errors.New("authkit: unusable profile payload")

// profilePayload is the superset of profile shapes the backend emits.
// Parsing happens here, in one place, instead of optimistic field access
// scattered through the actions.
type profilePayload struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	Email    string `json:"email"`

	DisplayName string    `json:"displayName"`
	FullName    *FullName `json:"fullname"`

	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Modules     []string `json:"modules"`
	TenantID    string   `json:"tenantId"`
}

// parseUser validates a raw profile document into a User or fails. A
// profile without any identifier is unusable.
func parseUser(raw []byte) (*User, error) {
	var p profilePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Join(ErrBadProfile, err)
	}

	id := p.ID
	if id == "" {
		id = p.LegacyID
	}
	if id == "" {
		return nil, ErrBadProfile
	}

	display := p.DisplayName
	if display == "" && p.FullName != nil {
		display = strings.TrimSpace(p.FullName.First + " " + p.FullName.Last)
	}

	return &User{
		ID:          id,
		Email:       p.Email,
		DisplayName: display,
		Roles:       p.Roles,
		Permissions: p.Permissions,
		Modules:     p.Modules,
		TenantID:    p.TenantID,
	}, nil
}

// userFromClaims derives the minimal profile available without the profile
// endpoint.
func userFromClaims(claims *jwtx.Claims) *User {
	return &User{
		ID:          claims.Subject(),
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Modules:     claims.Modules,
		TenantID:    claims.TenantID,
	}
}
