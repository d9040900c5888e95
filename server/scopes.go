package server

import "strings"

// Scope is a permission unit that can be granted to an access token.
type Scope int

// Catalog order. ParseScopes and FormatScopes always emit scopes in this order.
const (
	ScopeOpenID Scope = iota
	ScopeProfile
	ScopeEmail
	ScopeAddress
	ScopePhone
	ScopeOfflineAccess
)

var scopeNames = [...]string{
	ScopeOpenID:        "openid",
	ScopeProfile:       "profile",
	ScopeEmail:         "email",
	ScopeAddress:       "address",
	ScopePhone:         "phone",
	ScopeOfflineAccess: "offline_access",
}

// AllScopes lists the catalog in order.
func AllScopes() []Scope {
	out := make([]Scope, len(scopeNames))
	for i := range scopeNames {
		out[i] = Scope(i)
	}
	return out
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return ""
	}
	return scopeNames[s]
}

// LookupScope maps a single token to a catalog entry.
func LookupScope(name string) (Scope, bool) {
	for i, n := range scopeNames {
		if n == name {
			return Scope(i), true
		}
	}
	return 0, false
}

// ParseScopes splits a space-delimited scope parameter. Unknown tokens are
// dropped rather than rejected, so a request degrades to a narrower grant.
func ParseScopes(raw string) []Scope {
	var seen [len(scopeNames)]bool
	for _, field := range strings.Fields(raw) {
		if sc, ok := LookupScope(field); ok {
			seen[sc] = true
		}
	}
	out := make([]Scope, 0, len(scopeNames))
	for i, ok := range seen {
		if ok {
			out = append(out, Scope(i))
		}
	}
	return out
}

// FormatScopes joins scopes with spaces in catalog order.
func FormatScopes(scopes []Scope) string {
	var seen [len(scopeNames)]bool
	for _, sc := range scopes {
		if sc >= 0 && int(sc) < len(scopeNames) {
			seen[sc] = true
		}
	}
	names := make([]string, 0, len(scopes))
	for i, ok := range seen {
		if ok {
			names = append(names, scopeNames[i])
		}
	}
	return strings.Join(names, " ")
}

// HasScope reports whether sc is present in scopes.
func HasScope(scopes []Scope, sc Scope) bool {
	for _, s := range scopes {
		if s == sc {
			return true
		}
	}
	return false
}
