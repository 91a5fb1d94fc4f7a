package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultExchangeExpiry is assumed when the token response carries no
// expires_in.
const defaultExchangeExpiry = 300 * time.Second

type cachedAccessToken struct {
	accessToken string
	expiresAt   time.Time
}

// hashToken returns the SHA-256 hex digest used as the access-token cache
// key. The raw offline token is never stored, so a leaked cache cannot
// reconstruct the credential.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// accessTokenForOffline returns a valid access token for the given offline
// token, exchanging it at the provider only when no usable cached token
// exists. The cache lock spans the read-exchange-write sequence so that
// concurrent requests presenting the same offline token trigger a single
// exchange.
func (a *Authenticator) accessTokenForOffline(ctx context.Context, offlineToken string) (string, error) {
	key := hashToken(offlineToken)

	a.tokenCacheMu.Lock()
	defer a.tokenCacheMu.Unlock()

	now := a.now()
	if entry, ok := a.tokenCache[key]; ok {
		if now.Before(entry.expiresAt.Add(-a.cfg.AccessTokenCacheBuffer)) {
			a.log.Debug("using cached access token")
			return entry.accessToken, nil
		}
	}

	accessToken, expiresIn, err := a.exchangeOfflineToken(ctx, offlineToken)
	if err != nil {
		return "", err
	}

	a.sweepExpiredLocked(now)
	a.tokenCache[key] = cachedAccessToken{
		accessToken: accessToken,
		expiresAt:   now.Add(expiresIn),
	}
	a.log.WithField("expires_in", expiresIn.Seconds()).Info("cached exchanged access token")
	return accessToken, nil
}

// sweepExpiredLocked drops entries whose tokens have already expired. The
// original behavior was to never evict, which grows the map with every
// distinct offline token seen; sweeping on store bounds it to live tokens.
// Callers must hold tokenCacheMu.
func (a *Authenticator) sweepExpiredLocked(now time.Time) {
	for k, entry := range a.tokenCache {
		if !now.Before(entry.expiresAt) {
			delete(a.tokenCache, k)
		}
	}
}

// exchangeOfflineToken posts a refresh_token grant to the provider's token
// endpoint and returns the fresh access token with its lifetime.
func (a *Authenticator) exchangeOfflineToken(ctx context.Context, offlineToken string) (string, time.Duration, error) {
	doc, err := a.getDiscoveryDocument(ctx)
	if err != nil {
		return "", 0, err
	}
	if doc.TokenEndpoint == "" {
		return "", 0, errors.New("token endpoint not found in OIDC configuration")
	}

	clientID := a.cfg.TokenExchangeClientID
	if clientID == "" {
		clientID = a.cfg.ClientID
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {offlineToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("building token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	a.log.WithField("endpoint", doc.TokenEndpoint).Debug("exchanging offline token")
	resp, err := a.client.Do(req)
	if err != nil {
		a.log.WithError(err).Error("token exchange request failed")
		return "", 0, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return "", 0, fmt.Errorf("reading token exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("token exchange rejected by provider")
		return "", 0, fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, fmt.Errorf("decoding token exchange response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, errors.New("no access_token in token response")
	}

	expiresIn := defaultExchangeExpiry
	if payload.ExpiresIn > 0 {
		expiresIn = time.Duration(payload.ExpiresIn * float64(time.Second))
	}
	return payload.AccessToken, expiresIn, nil
}
