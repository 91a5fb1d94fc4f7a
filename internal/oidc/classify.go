package oidc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type tokenKind int

const (
	kindAccessToken tokenKind = iota
	kindOfflineToken
)

// classifyToken decides whether a bearer token should be validated directly
// or exchanged first, without any signature verification. Keycloak puts the
// authoritative token type in the payload `typ` claim (Bearer / Offline /
// Refresh); the header `typ` is usually just "JWT", so the payload is
// checked first. This routing decision must never be used for
// authorization.
func (a *Authenticator) classifyToken(token string) tokenKind {
	if len(strings.Split(token, ".")) != 3 {
		// Not a JWT at all, treat as an opaque offline token.
		a.log.Debug("token is not a JWT, treating as offline token")
		return kindOfflineToken
	}

	if tok, err := jwt.ParseInsecure([]byte(token)); err == nil {
		if v, ok := tok.Get("typ"); ok {
			switch strings.ToUpper(fmt.Sprint(v)) {
			case "OFFLINE", "REFRESH":
				a.log.WithField("typ", v).Debug("payload typ indicates offline token")
				return kindOfflineToken
			case "BEARER":
				return kindAccessToken
			}
		}
	}

	// Payload was inconclusive; fall back to the unverified header.
	if hdr, err := unverifiedHeader(token); err == nil {
		typ := strings.ToUpper(hdr.Type())
		if strings.Contains(typ, "REFRESH") || typ == "RT" {
			a.log.WithField("typ", typ).Debug("header typ indicates offline token")
			return kindOfflineToken
		}
	}

	// Ambiguous tokens default to the exchange path when it is available.
	if a.cfg.OfflineTokenEnabled {
		a.log.Debug("unknown token type, offline tokens enabled, treating as offline token")
		return kindOfflineToken
	}
	return kindAccessToken
}

// unverifiedHeader returns the protected JWS header of a compact token
// without verifying its signature.
func unverifiedHeader(token string) (jws.Headers, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("parsing token header: %w", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, errors.New("token has no signatures")
	}
	return sigs[0].ProtectedHeaders(), nil
}
