package authkit

import "errors"

var (
	// ErrSessionExpired is set on state (and returned) when a refresh
	// attempt fails and the session is torn down.
	ErrSessionExpired = errors.New("authkit: session expired")

	// ErrNoRefreshToken means a refresh was requested without a stored
	// refresh token (and the deployment is not cookie-based).
	ErrNoRefreshToken = errors.New("authkit: no refresh token")

	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("authkit: manager closed")
)
