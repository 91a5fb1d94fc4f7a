package oidc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken_Success(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	result := a.ValidateToken(context.Background(), idp.accessToken())
	require.True(t, result.Authenticated)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "user-123", result.UserID)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, "alice@example.com", result.Email)
	assert.Equal(t, []string{"devs"}, result.Groups)
	assert.Equal(t, []string{"openid", "profile"}, result.Scopes)
	assert.Empty(t, result.Error)
}

func TestValidateToken_Expired(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	token := idp.accessToken(func(b *jwt.Builder) {
		b.Expiration(time.Now().Add(-time.Minute))
	})
	result := a.ValidateToken(context.Background(), token)
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Token has expired", result.Error)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	token := idp.accessToken(func(b *jwt.Builder) {
		b.Audience([]string{"someone-else"})
	})
	result := a.ValidateToken(context.Background(), token)
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Invalid token audience", result.Error)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	token := idp.accessToken(func(b *jwt.Builder) {
		b.Issuer("https://evil.example.com")
	})
	result := a.ValidateToken(context.Background(), token)
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Invalid token issuer", result.Error)
}

func TestValidateToken_BadSignature(t *testing.T) {
	idp := newTestIdP(t)
	other := newTestIdP(t)
	a := idp.authenticator()

	// Signed by a different provider's key. The kid does not match
	// either, so key resolution falls back to the RSA key and
	// verification fails.
	result := a.ValidateToken(context.Background(), other.accessToken())
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Contains(t, result.Error, "Invalid token")
}

func TestValidateToken_KeyFallbackWithoutKid(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	// Same key material, but no kid header on the token. The validator
	// falls back to algorithm matching against the JWKS.
	noKid, err := jwk.FromRaw(idp.rawKey)
	require.NoError(t, err)

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(idp.server.URL).
		Audience([]string{testClientID}).
		Subject("user-123").
		IssuedAt(now.Add(-time.Minute)).
		Expiration(now.Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, noKid))
	require.NoError(t, err)

	result := a.ValidateToken(context.Background(), string(signed))
	assert.True(t, result.Authenticated)
	assert.Equal(t, "user-123", result.UserID)
}

func TestValidateToken_DisallowedAlgorithm(t *testing.T) {
	idp := newTestIdP(t)
	cfg := idp.config()
	cfg.AllowedAlgorithms = []string{"RS512"}
	a := idp.newAuthenticator(cfg)

	result := a.ValidateToken(context.Background(), idp.accessToken())
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, `Invalid token: algorithm "RS256" is not allowed`, result.Error)
}

func TestValidateToken_MissingScopes(t *testing.T) {
	idp := newTestIdP(t)
	cfg := idp.config()
	cfg.RequiredScopes = []string{"openid", "admin", "audit"}
	a := idp.newAuthenticator(cfg)

	result := a.ValidateToken(context.Background(), idp.accessToken())
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
	assert.Equal(t, "Missing required scopes: admin, audit", result.Error)
}

func TestValidateToken_RealmRolesFallback(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	token := idp.accessToken(func(b *jwt.Builder) {
		b.Claim("groups", []string{})
		b.Claim("realm_access", map[string]interface{}{
			"roles": []string{"platform-admin", "viewer"},
		})
	})
	result := a.ValidateToken(context.Background(), token)
	require.True(t, result.Authenticated)
	assert.Equal(t, []string{"platform-admin", "viewer"}, result.Groups)
}

func TestValidateToken_UsernameFallback(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	token := idp.accessToken(func(b *jwt.Builder) {
		b.Claim("preferred_username", "")
		b.Claim("username", "bob")
	})
	result := a.ValidateToken(context.Background(), token)
	require.True(t, result.Authenticated)
	assert.Equal(t, "bob", result.Username)
}

func TestValidateToken_ProviderDown(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()
	token := idp.accessToken()
	idp.server.Close()

	result := a.ValidateToken(context.Background(), token)
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.Equal(t, "Authentication service unavailable", result.Error)
}

func TestValidateToken_GarbageToken(t *testing.T) {
	idp := newTestIdP(t)
	a := idp.authenticator()

	result := a.ValidateToken(context.Background(), "not-a-token")
	assert.False(t, result.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Invalid token signature", result.Error)
}
