package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ValidateToken verifies an access token's signature and claims against
// the provider's JWKS and returns a fully populated Result. All failure
// branches map to a Result; the only 503 path is a failure to obtain the
// key material itself.
func (a *Authenticator) ValidateToken(ctx context.Context, token string) Result {
	set, err := a.keySet(ctx)
	if err != nil {
		// isProviderError is informational here: keySet only fails on
		// provider/configuration problems.
		if !isProviderError(err) {
			a.log.WithError(err).Error("unexpected error obtaining signing keys")
			return failure(http.StatusInternalServerError, "Internal authentication error")
		}
		return unavailable()
	}

	key, alg, err := a.signingKey(token, set)
	if err != nil {
		a.log.WithError(err).Warn("failed to resolve signing key")
		return failure(http.StatusUnauthorized, "Invalid token signature")
	}

	if !containsString(a.cfg.AllowedAlgorithms, alg) {
		a.log.WithField("alg", alg).Warn("token signed with disallowed algorithm")
		return failure(http.StatusUnauthorized, fmt.Sprintf("Invalid token: algorithm %q is not allowed", alg))
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.SignatureAlgorithm(alg), key),
		jwt.WithValidate(false),
	)
	if err != nil {
		a.log.WithError(err).Warn("token verification failed")
		return failure(http.StatusUnauthorized, "Invalid token: "+err.Error())
	}

	// Claims are checked one by one so each mismatch yields a distinct
	// caller-facing message.
	now := a.now()
	if exp := parsed.Expiration(); !exp.IsZero() && !now.Before(exp) {
		a.log.Warn("token has expired")
		return failure(http.StatusUnauthorized, "Token has expired")
	}
	if iat := parsed.IssuedAt(); !iat.IsZero() && iat.After(now) {
		a.log.Warn("token issued in the future")
		return failure(http.StatusUnauthorized, "Invalid token: issued in the future")
	}
	if !containsString(parsed.Audience(), a.cfg.ClientID) {
		a.log.Warn("invalid token audience")
		return failure(http.StatusUnauthorized, "Invalid token audience")
	}
	if parsed.Issuer() != a.cfg.IssuerURL {
		a.log.Warn("invalid token issuer")
		return failure(http.StatusUnauthorized, "Invalid token issuer")
	}

	username := stringClaim(parsed, "preferred_username")
	if username == "" {
		username = stringClaim(parsed, "username")
	}

	scopes := strings.Fields(stringClaim(parsed, "scope"))

	if len(a.cfg.RequiredScopes) > 0 {
		if missing := missingScopes(a.cfg.RequiredScopes, scopes); len(missing) > 0 {
			a.log.WithField("missing", missing).Warn("token missing required scopes")
			return failure(http.StatusForbidden, "Missing required scopes: "+strings.Join(missing, ", "))
		}
	}

	result := Result{
		Authenticated: true,
		StatusCode:    http.StatusOK,
		UserID:        parsed.Subject(),
		Username:      username,
		Email:         stringClaim(parsed, "email"),
		Groups:        groupClaims(parsed),
		Scopes:        scopes,
	}
	a.log.WithFields(logrusFields(result)).Info("authenticated user")
	return result
}

// signingKey selects the JWKS key to verify the token with. It prefers an
// exact kid match and falls back to the first key whose algorithm matches,
// or any RSA key for an RS*-family token.
func (a *Authenticator) signingKey(token string, set jwk.Set) (jwk.Key, string, error) {
	hdr, err := unverifiedHeader(token)
	if err != nil {
		return nil, "", err
	}

	kid := hdr.KeyID()
	alg := hdr.Algorithm().String()
	if alg == "" {
		alg = "RS256"
	}

	if kid != "" {
		if key, ok := set.LookupKeyID(kid); ok {
			return key, alg, nil
		}
	}

	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.Algorithm().String() == alg {
			return key, alg, nil
		}
		if key.KeyType() == jwa.RSA && strings.HasPrefix(alg, "RS") {
			return key, alg, nil
		}
	}

	return nil, "", fmt.Errorf("no matching key found for kid %q", kid)
}

// stringClaim returns a top-level string claim, or "" when absent or not a
// string.
func stringClaim(tok jwt.Token, name string) string {
	if v, ok := tok.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// groupClaims extracts the `groups` claim, falling back to
// `realm_access.roles` when groups is absent or empty. Keycloak publishes
// realm roles under realm_access rather than groups for some client
// configurations.
func groupClaims(tok jwt.Token) []string {
	if v, ok := tok.Get("groups"); ok {
		if groups := toStringSlice(v); len(groups) > 0 {
			return groups
		}
	}
	if v, ok := tok.Get("realm_access"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			return toStringSlice(m["roles"])
		}
	}
	return nil
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// missingScopes returns the required scopes not present in granted,
// preserving the configured order.
func missingScopes(required, granted []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
