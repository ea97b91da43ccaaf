package gatekeeper

import (
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the verified identity derived from a bearer token. It is
// reconstructed on every verification call and never persisted.
type Principal struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasScope reports whether the principal carries the given scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRequiredScopes reports whether every required scope is present. An empty
// required list is vacuously true.
func (p Principal) HasRequiredScopes(required []string) bool {
	for _, scope := range required {
		if !p.HasScope(scope) {
			return false
		}
	}
	return true
}

// principalClaims is the wire shape we accept from issuers. The scope claim
// may be a space-delimited string or a JSON array; both normalize to a set.
type principalClaims struct {
	jwt.RegisteredClaims
	Scope any `json:"scope,omitempty"`
}

func (c *principalClaims) principal() Principal {
	p := Principal{
		Subject: c.RegisteredClaims.Subject,
		Scopes:  normalizeScopes(c.Scope),
	}
	if c.RegisteredClaims.ExpiresAt != nil {
		p.ExpiresAt = c.RegisteredClaims.ExpiresAt.Time
	}
	if c.RegisteredClaims.IssuedAt != nil {
		p.IssuedAt = c.RegisteredClaims.IssuedAt.Time
	}
	return p
}

func normalizeScopes(raw any) []string {
	var scopes []string
	switch value := raw.(type) {
	case string:
		scopes = strings.Fields(value)
	case []string:
		scopes = value
	case []any:
		for _, item := range value {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
	}

	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
