package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseAPIKeys(t *testing.T) {
	t.Parallel()

	t.Run("single entry", func(t *testing.T) {
		t.Parallel()
		keys, err := ParseAPIKeys("secret-1:alice")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"secret-1": "alice"}, keys)
	})

	t.Run("multiple entries with whitespace", func(t *testing.T) {
		t.Parallel()
		keys, err := ParseAPIKeys(" k1:alice , k2:bob ")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"k1": "alice", "k2": "bob"}, keys)
	})

	t.Run("user id may contain colons", func(t *testing.T) {
		t.Parallel()
		keys, err := ParseAPIKeys("k1:tenant:alice")
		require.NoError(t, err)
		assert.Equal(t, "tenant:alice", keys["k1"])
	})

	t.Run("malformed entry", func(t *testing.T) {
		t.Parallel()
		_, err := ParseAPIKeys("k1:alice,nocolon")
		assert.Error(t, err)
	})

	t.Run("empty mapping", func(t *testing.T) {
		t.Parallel()
		_, err := ParseAPIKeys(" , ")
		assert.Error(t, err)
	})
}

func TestAPIKeyProvider(t *testing.T) {
	t.Parallel()

	provider := NewAPIKeyProvider(map[string]string{"secret-1": "alice"})

	t.Run("valid key", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "secret-1")

		require.True(t, provider.CanHandle(r))
		principal, err := provider.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.ID)
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "wrong")

		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("no header is not handled", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		assert.False(t, provider.CanHandle(r))
	})
}

func TestBearerProvider(t *testing.T) {
	t.Parallel()

	const secret = "test-secret-key"

	validClaims := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		}
	}

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret})
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, validClaims()))

		require.True(t, provider.CanHandle(r))
		principal, err := provider.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.ID)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret})
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, claims))

		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret})
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, "other-secret", validClaims()))

		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret})
		claims := validClaims()
		claims.Subject = ""
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, claims))

		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("audience enforced when configured", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret, Audience: "shuttle"})

		claims := validClaims()
		claims.Audience = jwt.ClaimStrings{"other-service"}
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, claims))
		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		claims.Audience = jwt.ClaimStrings{"shuttle"}
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, claims))
		principal, err := provider.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.ID)
	})

	t.Run("issuer enforced when configured", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret, Issuer: "shuttle-idp"})

		claims := validClaims()
		claims.Issuer = "rogue-idp"
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, claims))
		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("non-bearer authorization header", func(t *testing.T) {
		t.Parallel()
		provider := NewBearerProvider(JWTConfig{Secret: secret})
		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		require.True(t, provider.CanHandle(r))
		_, err := provider.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	const secret = "test-secret-key"

	t.Run("api_key mode", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{
			Mode:       ModeAPIKey,
			APIKeys:    "k1:alice",
			AdminUsers: "root",
		})
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "k1")
		principal, err := authn.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.ID)
		assert.Equal(t, "api_key", principal.Method)
		assert.False(t, principal.Admin)
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{Mode: ModeAPIKey, APIKeys: "k1:alice"})
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		_, err = authn.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("admin flag from user set", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{
			Mode:       ModeAPIKey,
			APIKeys:    "k1:alice,k2:root",
			AdminUsers: "root, ops",
		})
		require.NoError(t, err)

		r := httptest.NewRequest("POST", "/v1/maintenance/cleanup", nil)
		r.Header.Set(APIKeyHeader, "k2")
		principal, err := authn.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.True(t, principal.Admin)
	})

	t.Run("hybrid prefers bearer", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{
			Mode:    ModeHybrid,
			APIKeys: "k1:alice",
			JWT:     JWTConfig{Secret: secret},
		})
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "k1")
		r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}))

		principal, err := authn.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "bob", principal.ID)
		assert.Equal(t, "bearer", principal.Method)
	})

	t.Run("hybrid bad bearer does not fall back", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{
			Mode:    ModeHybrid,
			APIKeys: "k1:alice",
			JWT:     JWTConfig{Secret: secret},
		})
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "k1")
		r.Header.Set("Authorization", "Bearer not-a-token")

		_, err = authn.Authenticate(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("hybrid falls back to api key when no authorization header", func(t *testing.T) {
		t.Parallel()
		authn, err := NewAuthenticator(Config{
			Mode:    ModeHybrid,
			APIKeys: "k1:alice",
			JWT:     JWTConfig{Secret: secret},
		})
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/v1/uploads", nil)
		r.Header.Set(APIKeyHeader, "k1")
		principal, err := authn.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.ID)
		assert.Equal(t, "api_key", principal.Method)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("defaults produce a working api_key setup", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, ModeAPIKey, cfg.Mode)
		assert.Equal(t, "dev-key:dev-user", cfg.APIKeys)
	})

	t.Run("bearer mode requires a secret", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Mode: ModeBearer}
		assert.Error(t, cfg.Validate())
		cfg.JWT.Secret = "s"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("hybrid mode requires both", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Mode: ModeHybrid, JWT: JWTConfig{Secret: "s"}}
		assert.Error(t, cfg.Validate())
		cfg.APIKeys = "k:u"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Mode: "kerberos"}
		assert.Error(t, cfg.Validate())
	})
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	t.Run("caps requests within a window", func(t *testing.T) {
		t.Parallel()
		limiter := NewRateLimiter(2)
		assert.True(t, limiter.Allow("alice"))
		assert.True(t, limiter.Allow("alice"))
		assert.False(t, limiter.Allow("alice"))
	})

	t.Run("principals are counted independently", func(t *testing.T) {
		t.Parallel()
		limiter := NewRateLimiter(1)
		assert.True(t, limiter.Allow("alice"))
		assert.True(t, limiter.Allow("bob"))
		assert.False(t, limiter.Allow("alice"))
	})

	t.Run("window rollover resets the count", func(t *testing.T) {
		t.Parallel()
		limiter := NewRateLimiter(1)
		current := time.Unix(1000_000, 0)
		limiter.now = func() time.Time { return current }

		assert.True(t, limiter.Allow("alice"))
		assert.False(t, limiter.Allow("alice"))

		current = current.Add(rateWindow)
		assert.True(t, limiter.Allow("alice"))
	})

	t.Run("zero limit disables the limiter", func(t *testing.T) {
		t.Parallel()
		limiter := NewRateLimiter(0)
		require.Nil(t, limiter)
		for i := 0; i < 10; i++ {
			assert.True(t, limiter.Allow("alice"))
		}
	})

	t.Run("retry after matches the window", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, time.Minute, NewRateLimiter(5).RetryAfter())
	})
}
