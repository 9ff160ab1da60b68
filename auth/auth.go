// Package auth defines the authentication seam between HTTP transports and
// token verifiers. Transports depend on the Authenticator interface; concrete
// verifiers live in internal/jwtauth.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized indicates the bearer token failed validation and the
// request must be treated as unauthenticated. The underlying rejection
// reason is wrapped for diagnostics but must never reach the client.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks a
// required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// Principal is the validated identity attached to a single in-flight
// request after authentication succeeds. It is never persisted beyond the
// handling of that request.
type Principal struct {
	// Subject is the stable identifier of the calling client.
	Subject string
	// Scopes holds the granted permission strings.
	Scopes []string
	// ExpiresAt is the absolute expiry instant of the presented credential.
	ExpiresAt time.Time
}

// HasScope reports whether the principal was granted the named scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates bearer tokens. Implementations return a Principal
// on success and an error wrapping ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, token string) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal attaches a validated principal to the request context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the auth gate, if
// any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
