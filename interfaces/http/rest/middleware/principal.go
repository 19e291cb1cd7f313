package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	scopesKey
)

// Principal lifts the caller identity headers into the request context.
// X-Principal names the caller and X-Ontology-Scopes carries a
// comma-separated allowlist of ontologies the caller may touch. Validating
// the headers themselves is the gateway's job; an absent scopes header
// means unrestricted access.
func Principal() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if p := strings.TrimSpace(r.Header.Get("X-Principal")); p != "" {
				ctx = context.WithValue(ctx, principalKey, p)
			}
			if raw := r.Header.Get("X-Ontology-Scopes"); raw != "" {
				scopes := splitScopes(raw)
				if len(scopes) > 0 {
					ctx = context.WithValue(ctx, scopesKey, scopes)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func splitScopes(raw string) []string {
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// PrincipalFrom returns the caller identity, or "" when none was sent.
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// ScopesFrom returns the caller's ontology allowlist. Nil means unrestricted.
func ScopesFrom(ctx context.Context) []string {
	s, _ := ctx.Value(scopesKey).([]string)
	return s
}

// OntologyAllowed reports whether the caller may touch the given ontology.
// An empty scope list and the "*" wildcard both allow everything.
func OntologyAllowed(ctx context.Context, ontology string) bool {
	scopes := ScopesFrom(ctx)
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if s == "*" || s == ontology {
			return true
		}
	}
	return false
}
