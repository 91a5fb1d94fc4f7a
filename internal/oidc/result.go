package oidc

import "net/http"

// Result is the outcome of a single authentication attempt. It is
// constructed fresh per request and never persisted; every failure branch
// in the authenticator is expressed as a Result rather than an error so
// that nothing but a Result ever crosses into the HTTP layer.
type Result struct {
	Authenticated bool
	UserID        string
	Username      string
	Email         string
	Groups        []string
	Scopes        []string

	// Error holds a human-readable reason when Authenticated is false.
	Error string

	// StatusCode is the HTTP status the middleware should answer with:
	// 200 on success, otherwise 401, 403, 500 or 503.
	StatusCode int
}

func failure(status int, msg string) Result {
	return Result{StatusCode: status, Error: msg}
}

func unavailable() Result {
	return failure(http.StatusServiceUnavailable, "Authentication service unavailable")
}
