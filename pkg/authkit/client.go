package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/httpx"
)

// Backend endpoint paths.
const (
	pathLogin              = "/api/auth/login"
	pathRegister           = "/api/auth/register"
	pathRefresh            = "/api/auth/refresh-token"
	pathVerifyEmail        = "/api/auth/verify-email"
	pathResendVerification = "/api/auth/resend-verification"
	pathForgotPassword     = "/api/auth/forgot-password"
	pathResetPassword      = "/api/auth/reset-password"
	pathMe                 = "/api/auth/me"
	pathLogout             = "/api/auth/logout"
)

// Client exposes the auth endpoints one method per operation. It is
// stateless; the Manager layers session state on top, but the client is
// usable on its own.
type Client struct {
	http *httpx.Client
}

// NewClient wraps an httpx transport.
func NewClient(transport *httpx.Client) *Client {
	return &Client{http: transport}
}

// authPost issues a POST that must never trigger the reactive refresh
// interceptor: a 401 from an auth verb is a verdict, not an expired session.
func (c *Client) authPost(ctx context.Context, path string, body, out any) error {
	return c.http.DoRequest(ctx, &httpx.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		SkipRefresh: true,
	}, out)
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (*TokenPair, error) {
	var pair TokenPair
	if err := c.authPost(ctx, pathLogin, creds, &pair); err != nil {
		return nil, err
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("authkit: login response carried no access token")
	}
	return &pair, nil
}

// Register creates an account. It never yields tokens; the caller logs in
// (or verifies email first) afterwards.
func (c *Client) Register(ctx context.Context, reg Registration) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.authPost(ctx, pathRegister, reg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// refreshRequest is the refresh-token request body.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a refresh token for a new pair. With an empty token the
// body is omitted entirely and the server is expected to read the httpOnly
// cookie instead.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var body any
	if refreshToken != "" {
		body = refreshRequest{RefreshToken: refreshToken}
	}

	var pair TokenPair
	if err := c.authPost(ctx, pathRefresh, body, &pair); err != nil {
		return nil, err
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("authkit: refresh response carried no access token")
	}
	return &pair, nil
}

// VerifyEmail redeems an email-verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*MessageResponse, error) {
	var resp MessageResponse
	body := struct {
		Token string `json:"token"`
	}{Token: token}
	if err := c.authPost(ctx, pathVerifyEmail, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResendVerification asks for a fresh verification email.
func (c *Client) ResendVerification(ctx context.Context, email string) (*MessageResponse, error) {
	var resp MessageResponse
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	if err := c.authPost(ctx, pathResendVerification, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword starts the password-reset flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	var resp MessageResponse
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	if err := c.authPost(ctx, pathForgotPassword, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetPassword redeems a reset token against a new password.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (*MessageResponse, error) {
	var resp MessageResponse
	body := struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}{Token: token, NewPassword: newPassword}
	if err := c.authPost(ctx, pathResetPassword, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me fetches the authoritative profile for the current token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var raw json.RawMessage
	if err := c.http.Do(ctx, http.MethodGet, pathMe, nil, &raw); err != nil {
		return nil, err
	}
	return parseUser(raw)
}

// Logout tells the server to revoke the session. Callers treat failures as
// advisory; local teardown proceeds regardless.
func (c *Client) Logout(ctx context.Context) error {
	return c.authPost(ctx, pathLogout, nil, nil)
}
