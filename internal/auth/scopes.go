package auth

import (
	"slices"

	"lexintake.org/internal/apperr"
)

// Scope is a permission string carried by an API key.
type Scope string

const (
	ScopeLeadsRead    Scope = "leads:read"
	ScopeLeadsWrite   Scope = "leads:write"
	ScopeLeadsCreate  Scope = "leads:create"
	ScopeClientsRead  Scope = "clients:read"
	ScopeClientsWrite Scope = "clients:write"
	ScopeMattersRead  Scope = "matters:read"
	ScopeMattersWrite Scope = "matters:write"
	ScopeAMLRead      Scope = "aml:read"
	ScopeAMLWrite     Scope = "aml:write"
	ScopeGDPRExport   Scope = "gdpr:export"
	ScopeGDPRDelete   Scope = "gdpr:delete"
	ScopeAdmin        Scope = "admin"
)

// DefaultScopes are granted to a firm's first key. admin is never granted
// implicitly.
var DefaultScopes = []Scope{
	ScopeLeadsRead, ScopeLeadsWrite, ScopeLeadsCreate,
	ScopeClientsRead, ScopeClientsWrite,
	ScopeMattersRead, ScopeMattersWrite,
	ScopeAMLRead, ScopeAMLWrite,
	ScopeGDPRExport, ScopeGDPRDelete,
}

var knownScopes = append(slices.Clone(DefaultScopes), ScopeAdmin)

// Valid reports whether s is part of the closed vocabulary.
func (s Scope) Valid() bool {
	return slices.Contains(knownScopes, s)
}

// Enforce returns nil when scopes satisfy required. admin satisfies
// everything.
func Enforce(scopes []string, required Scope) error {
	for _, s := range scopes {
		if Scope(s) == ScopeAdmin || Scope(s) == required {
			return nil
		}
	}
	return apperr.New(apperr.InsufficientScope, "Insufficient permissions")
}

// NormalizeScopes drops unknown and duplicate entries, keeping order.
func NormalizeScopes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !Scope(s).Valid() || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func scopeStrings(in []Scope) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
