package jwtx_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims *jwtx.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestDecode(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	t.Run("full claims", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Email:       "admin@example.com",
			Roles:       []string{"admin"},
			Permissions: []string{"users:write"},
			Modules:     []string{"billing"},
			TenantID:    "tenant-1",
		})

		claims, err := jwtx.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject())
		require.Equal(t, "admin@example.com", claims.Email)
		require.Equal(t, []string{"admin"}, claims.Roles)
		require.Equal(t, []string{"users:write"}, claims.Permissions)
		require.Equal(t, []string{"billing"}, claims.Modules)
		require.Equal(t, "tenant-1", claims.TenantID)
	})

	t.Run("signature is not checked", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"},
		})
		// Corrupt the signature segment; decode must still succeed.
		tampered := raw[:len(raw)-4] + "AAAA"

		claims, err := jwtx.Decode(tampered)
		require.NoError(t, err)
		require.Equal(t, "user-2", claims.Subject())
	})

	t.Run("wrong segment count", func(t *testing.T) {
		_, err := jwtx.Decode("only.two")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("bad base64 payload", func(t *testing.T) {
		_, err := jwtx.Decode("aGVhZGVy.!!!notbase64!!!.c2ln")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("payload is not json", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`not-json`))
		_, err := jwtx.Decode(header + "." + payload + ".sig")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := jwtx.Decode("")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	t.Run("live token", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		require.False(t, jwtx.IsExpiredAt(raw, now))
	})

	t.Run("expired token", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			},
		})
		require.True(t, jwtx.IsExpiredAt(raw, now))
	})

	t.Run("exactly at exp", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now),
			},
		})
		require.True(t, jwtx.IsExpiredAt(raw, now.Truncate(time.Second)))
	})

	t.Run("missing exp fails closed", func(t *testing.T) {
		raw := signToken(t, &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		})
		require.True(t, jwtx.IsExpiredAt(raw, now))
	})

	t.Run("undecodable fails closed", func(t *testing.T) {
		require.True(t, jwtx.IsExpired("garbage"))
	})
}

func TestClaimsHelpers(t *testing.T) {
	t.Parallel()

	// Whole-second now: NewNumericDate drops sub-second precision, which
	// would otherwise skew ExpiresIn by the truncated fraction.
	now := time.Now().UTC().Truncate(time.Second)
	claims := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(65 * time.Second)),
		},
		Roles:       []string{"admin", "user"},
		Permissions: []string{"reports:read"},
	}

	require.True(t, claims.HasRole("admin"))
	require.False(t, claims.HasRole("auditor"))
	require.True(t, claims.HasPermission("reports:read"))
	require.False(t, claims.HasPermission("reports:write"))
	require.Equal(t, 65*time.Second, claims.ExpiresIn(now).Round(time.Second))

	var noExp jwtx.Claims
	require.True(t, noExp.Expired(now))
	require.Equal(t, time.Duration(0), noExp.ExpiresIn(now))
}
