package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxProviderResponseSize bounds provider response bodies. A JWKS or
// discovery document is typically well under 10KB.
const maxProviderResponseSize = 1 * 1024 * 1024

// providerError marks a failure to reach or understand the identity
// provider. The validator maps it to 503 instead of 401 so that an
// infrastructure outage is not reported as a bad credential.
type providerError struct {
	err error
}

func (e *providerError) Error() string { return e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }

func isProviderError(err error) bool {
	var pe *providerError
	return errors.As(err, &pe)
}

// discoveryDocument is the subset of the provider's
// /.well-known/openid-configuration that the authenticator consumes.
type discoveryDocument struct {
	Issuer        string `json:"issuer"`
	JWKSURI       string `json:"jwks_uri"`
	TokenEndpoint string `json:"token_endpoint"`
}

// getDiscoveryDocument returns the cached discovery document, fetching it
// from the well-known endpoint when the cache entry is older than the
// configured TTL. The provider's own HTTP cache headers are ignored; the
// TTL is purely time-of-fetch based.
func (a *Authenticator) getDiscoveryDocument(ctx context.Context) (*discoveryDocument, error) {
	a.discoveryMu.Lock()
	defer a.discoveryMu.Unlock()

	if a.discovery != nil && a.now().Sub(a.discoveryFetched) < a.cfg.JWKSCacheTTL {
		return a.discovery, nil
	}

	wellKnown := strings.TrimRight(a.cfg.IssuerURL, "/") + "/.well-known/openid-configuration"
	a.log.WithField("url", wellKnown).Debug("fetching OIDC configuration")

	body, err := a.getJSON(ctx, wellKnown)
	if err != nil {
		a.log.WithError(err).Error("failed to fetch OIDC configuration")
		return nil, &providerError{fmt.Errorf("fetching OIDC configuration: %w", err)}
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		a.log.WithError(err).Error("failed to decode OIDC configuration")
		return nil, &providerError{fmt.Errorf("decoding OIDC configuration: %w", err)}
	}

	a.discovery = &doc
	a.discoveryFetched = a.now()
	return a.discovery, nil
}

// keySet returns the provider's signing keys, served from cache while the
// entry is fresh. The mutex ensures at most one refresh is in flight when
// the cache expires under concurrent load; a failed refresh leaves the
// previous entry untouched.
func (a *Authenticator) keySet(ctx context.Context) (jwk.Set, error) {
	a.jwksMu.Lock()
	defer a.jwksMu.Unlock()

	if a.jwks != nil && a.now().Sub(a.jwksFetched) < a.cfg.JWKSCacheTTL {
		return a.jwks, nil
	}

	doc, err := a.getDiscoveryDocument(ctx)
	if err != nil {
		return nil, err
	}
	if doc.JWKSURI == "" {
		return nil, &providerError{errors.New("jwks_uri not found in OIDC configuration")}
	}

	a.log.WithField("url", doc.JWKSURI).Debug("fetching JWKS")
	body, err := a.getJSON(ctx, doc.JWKSURI)
	if err != nil {
		a.log.WithError(err).Error("failed to fetch JWKS")
		return nil, &providerError{fmt.Errorf("fetching JWKS: %w", err)}
	}

	set, err := jwk.Parse(body)
	if err != nil {
		a.log.WithError(err).Error("failed to parse JWKS")
		return nil, &providerError{fmt.Errorf("parsing JWKS: %w", err)}
	}

	a.jwks = set
	a.jwksFetched = a.now()
	a.log.WithField("keys", set.Len()).Info("fetched JWKS")
	return a.jwks, nil
}

// getJSON performs a GET against the provider and returns the response
// body on a 2xx status.
func (a *Authenticator) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
}
