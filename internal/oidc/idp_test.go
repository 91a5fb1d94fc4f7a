package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "test-client"
	testKeyID    = "test-key"
)

// testIdP is a fake OIDC provider serving discovery, JWKS, and token
// endpoints, with per-endpoint request counters.
type testIdP struct {
	t       *testing.T
	server  *httptest.Server
	rawKey  *rsa.PrivateKey
	privKey jwk.Key
	pubSet  jwk.Set

	mu                sync.Mutex
	discoveryRequests int
	jwksRequests      int
	tokenRequests     int

	// exchangeHandler, when set, replaces the default token endpoint
	// behavior.
	exchangeHandler http.HandlerFunc
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	pubSet := jwk.NewSet()
	require.NoError(t, pubSet.AddKey(pub))

	idp := &testIdP{t: t, rawKey: raw, privKey: priv, pubSet: pubSet}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		idp.mu.Lock()
		idp.discoveryRequests++
		idp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":         idp.server.URL,
			"jwks_uri":       idp.server.URL + "/keys",
			"token_endpoint": idp.server.URL + "/token",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		idp.mu.Lock()
		idp.jwksRequests++
		idp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(idp.pubSet)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idp.mu.Lock()
		idp.tokenRequests++
		handler := idp.exchangeHandler
		idp.mu.Unlock()
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": idp.accessToken(),
			"expires_in":   3600,
		})
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *testIdP) counts() (discovery, jwks, token int) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.discoveryRequests, idp.jwksRequests, idp.tokenRequests
}

func (idp *testIdP) setExchangeHandler(h http.HandlerFunc) {
	idp.mu.Lock()
	idp.exchangeHandler = h
	idp.mu.Unlock()
}

// accessToken mints a signed access token with sensible defaults. Each
// mod can override or add claims before signing.
func (idp *testIdP) accessToken(mods ...func(*jwt.Builder)) string {
	idp.t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(idp.server.URL).
		Audience([]string{testClientID}).
		Subject("user-123").
		IssuedAt(now.Add(-time.Minute)).
		Expiration(now.Add(time.Hour)).
		Claim("typ", "Bearer").
		Claim("preferred_username", "alice").
		Claim("email", "alice@example.com").
		Claim("scope", "openid profile").
		Claim("groups", []string{"devs"})
	for _, mod := range mods {
		mod(b)
	}
	tok, err := b.Build()
	require.NoError(idp.t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, idp.privKey))
	require.NoError(idp.t, err)
	return string(signed)
}

// offlineToken mints a signed token marked as an offline token. A unique
// jti makes every mint distinct even within the one-second resolution of
// the timestamp claims.
func (idp *testIdP) offlineToken() string {
	return idp.accessToken(func(b *jwt.Builder) {
		b.Claim("typ", "Offline")
		b.JwtID(uuid.NewString())
	})
}

func (idp *testIdP) config() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.IssuerURL = idp.server.URL
	cfg.ClientID = testClientID
	return cfg
}

func (idp *testIdP) authenticator(opts ...Option) *Authenticator {
	return idp.newAuthenticator(idp.config(), opts...)
}

func (idp *testIdP) newAuthenticator(cfg Config, opts ...Option) *Authenticator {
	log, _ := logrustest.NewNullLogger()
	opts = append([]Option{WithLogger(log)}, opts...)
	return New(cfg, opts...)
}
