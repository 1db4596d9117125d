package authkit

import (
	"time"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/jwtx"
)

// State is an immutable snapshot of the session. The Manager hands copies to
// OnChange observers and State() callers; the User pointer is shared and must
// be treated as read-only.
type State struct {
	// User is the current profile, nil when unauthenticated.
	User *User

	// AccessToken is the raw bearer token, empty when unauthenticated.
	AccessToken string

	// RefreshToken is the raw refresh token. Empty in cookie deployments,
	// where the browser-style cookie jar carries it instead.
	RefreshToken string

	// IsLoading is true while an operation is in flight.
	IsLoading bool

	// Err is the most recent operation failure, cleared when the next
	// operation starts or by ClearError.
	Err error
}

// IsAuthenticated is derived, never stored: an access token must be present
// and not expired at the moment of asking. A token the codec cannot read
// counts as expired.
func (s State) IsAuthenticated() bool {
	return s.AccessToken != "" && !jwtx.IsExpiredAt(s.AccessToken, time.Now())
}
