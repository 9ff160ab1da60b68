// Package jwtauth validates JWT bearer tokens against a configured issuer
// and audience, resolving signing keys through a cached remote key set.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/harborlane/mcpserver/auth"
	"github.com/harborlane/mcpserver/internal/jwks"
)

// Reason classifies a token rejection for internal diagnostics. Reasons are
// logged by callers but never surfaced to clients; the HTTP layer collapses
// all of them into a uniform 401.
type Reason string

const (
	ReasonMalformed        Reason = "MALFORMED"
	ReasonUnknownKey       Reason = "UNKNOWN_KEY"
	ReasonBadSignature     Reason = "BAD_SIGNATURE"
	ReasonIssuerMismatch   Reason = "ISSUER_MISMATCH"
	ReasonAudienceMismatch Reason = "AUDIENCE_MISMATCH"
	ReasonExpired          Reason = "EXPIRED"
)

// RejectionError wraps the cause of a failed verification together with its
// classified reason. It matches auth.ErrUnauthorized under errors.Is.
type RejectionError struct {
	Reason Reason
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("jwtauth: token rejected (%s)", e.Reason)
	}
	return fmt.Sprintf("jwtauth: token rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() []error { return []error{auth.ErrUnauthorized, e.Err} }

func reject(reason Reason, err error) error {
	return &RejectionError{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason from an error chain, if present.
func ReasonOf(err error) (Reason, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// Config controls verification policy for access tokens.
type Config struct {
	// Issuer is the exact expected `iss` claim value.
	Issuer string
	// Audience is the audience identifier that must be present in `aud`.
	Audience string
	// JWKSURL points at the issuer's key set. When empty, it is resolved via
	// OIDC discovery against Issuer.
	JWKSURL string
	// AllowedAlgs pins the signature algorithm family. Tokens declaring any
	// other algorithm are rejected regardless of their key hint. Defaults to
	// RS256 only.
	AllowedAlgs []string
	// Leeway is the clock-skew grace applied to time-based claims. Zero means
	// strict expiry.
	Leeway time.Duration
	// Claims selects the claim-extraction strategy for the issuer family.
	// Defaults to Auth0Claims.
	Claims ClaimMapper
	// KeyTTL is the key cache freshness window. Defaults to one hour.
	KeyTTL time.Duration
	// HTTPClient is used for discovery and key-set fetches.
	HTTPClient *http.Client
	// Logger receives verification diagnostics. Discarded when nil.
	Logger *slog.Logger
}

// Verifier validates bearer tokens and produces principals. Safe for
// concurrent use.
type Verifier struct {
	issuer   string
	audience string
	algs     []string
	leeway   time.Duration
	mapper   ClaimMapper
	keys     *jwks.Cache
	log      *slog.Logger
}

var _ auth.Authenticator = (*Verifier)(nil)

// New constructs a Verifier. When cfg.JWKSURL is empty the issuer's key-set
// endpoint is located through OIDC discovery, which is the only network call
// made at construction time.
func New(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	algs := cfg.AllowedAlgs
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	mapper := cfg.Claims
	if mapper == nil {
		mapper = Auth0Claims{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.HTTPClient != nil {
			ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
		}
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery failed: %w", err)
		}
		var meta struct {
			JwksURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&meta); err != nil {
			return nil, fmt.Errorf("invalid discovery metadata: %w", err)
		}
		if meta.JwksURI == "" {
			return nil, errors.New("discovery metadata lacks jwks_uri")
		}
		jwksURL = meta.JwksURI
	}

	keyOpts := []jwks.Option{jwks.WithLogger(log)}
	if cfg.KeyTTL > 0 {
		keyOpts = append(keyOpts, jwks.WithTTL(cfg.KeyTTL))
	}
	if cfg.HTTPClient != nil {
		keyOpts = append(keyOpts, jwks.WithHTTPClient(cfg.HTTPClient))
	}

	return &Verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		algs:     algs,
		leeway:   cfg.Leeway,
		mapper:   mapper,
		keys:     jwks.New(jwksURL, keyOpts...),
		log:      log,
	}, nil
}

// CheckAuthentication verifies the raw bearer token and returns the
// principal it asserts. All failures wrap auth.ErrUnauthorized; the
// classified reason rides along for diagnostics.
func (v *Verifier) CheckAuthentication(ctx context.Context, tok string) (*auth.Principal, error) {
	if tok == "" || strings.Count(tok, ".") != 2 {
		return nil, reject(ReasonMalformed, errors.New("token is not a three-segment JWS"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, reject(ReasonMalformed, errors.New("token header lacks kid"))
		}
		return v.keys.Resolve(ctx, kid)
	}

	parsed, err := parser.Parse(tok, keyfunc)
	if err != nil {
		return nil, v.classifyParseError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, reject(ReasonMalformed, errors.New("unexpected claims type"))
	}

	if iss, _ := claims["iss"].(string); iss != v.issuer {
		return nil, reject(ReasonIssuerMismatch, fmt.Errorf("issuer %q", iss))
	}
	if !audContains(claims["aud"], v.audience) {
		return nil, reject(ReasonAudienceMismatch, errors.New("audience claim does not contain the configured audience"))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, reject(ReasonMalformed, errors.New("missing or invalid exp claim"))
	}

	subject := v.mapper.Subject(claims)
	if subject == "" {
		return nil, reject(ReasonMalformed, errors.New("no subject claim"))
	}

	return &auth.Principal{
		Subject:   subject,
		Scopes:    v.mapper.Scopes(claims),
		ExpiresAt: exp.Time,
	}, nil
}

// classifyParseError maps golang-jwt and key-cache failures onto the
// rejection taxonomy. A rejection produced inside the keyfunc passes through
// unchanged.
func (v *Verifier) classifyParseError(err error) error {
	var re *RejectionError
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return reject(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return reject(ReasonMalformed, err)
	case errors.Is(err, jwks.ErrKeyNotFound):
		return reject(ReasonUnknownKey, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return reject(ReasonBadSignature, err)
	}
	var fe *jwks.FetchError
	if errors.As(err, &fe) {
		// No usable key: indistinguishable from an invalid token for the
		// client, but the wrapped fetch error stays observable in logs.
		return reject(ReasonUnknownKey, err)
	}
	// Algorithm substitution attempts and other verification failures land
	// here: the signature was never verified under the pinned family.
	return reject(ReasonBadSignature, err)
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
