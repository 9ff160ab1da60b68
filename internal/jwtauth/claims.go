package jwtauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimMapper extracts the subject and granted scopes from a verified claim
// set. Issuers disagree on both the claim names and the scope encoding
// (space-delimited string vs. list), so the mapping is a configuration-time
// strategy rather than runtime inspection.
type ClaimMapper interface {
	Subject(claims jwt.MapClaims) string
	Scopes(claims jwt.MapClaims) []string
}

// Auth0Claims maps Auth0-issued access tokens: scopes ride in the `scope`
// claim as a space-delimited string, and `sub` identifies the caller (the
// client id for client-credentials grants).
type Auth0Claims struct{}

func (Auth0Claims) Subject(claims jwt.MapClaims) string {
	sub, _ := claims["sub"].(string)
	return sub
}

func (Auth0Claims) Scopes(claims jwt.MapClaims) []string {
	scope, _ := claims["scope"].(string)
	return strings.Fields(scope)
}

// OktaClaims maps Okta-issued access tokens: scopes ride in the `scp` claim
// as a list, and `cid` carries the OAuth client id, falling back to `sub`.
type OktaClaims struct{}

func (OktaClaims) Subject(claims jwt.MapClaims) string {
	if cid, _ := claims["cid"].(string); cid != "" {
		return cid
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func (OktaClaims) Scopes(claims jwt.MapClaims) []string {
	switch v := claims["scp"].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		// Some authorization servers flatten the list to a single string.
		return strings.Fields(v)
	}
	return nil
}
