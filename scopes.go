package graphauth

import (
	"strings"
)

// Resource API permission scopes that allow reading the signed-in user's
// profile. SignIn fetches the profile and photo opportunistically when any
// of these is configured.
const (
	ScopeUserRead         = "User.Read"
	ScopeUserReadBasicAll = "User.ReadBasic.All"
	ScopeUserReadAll      = "User.Read.All"
)

// ProfileReadScopes returns the scopes that permit reading the signed-in
// user's profile.
func ProfileReadScopes() []string {
	return []string{ScopeUserRead, ScopeUserReadBasicAll, ScopeUserReadAll}
}

// ParseScopes parses a space-separated scope string into a slice,
// dropping duplicates.
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	scopes := strings.Fields(scopeString)
	seen := make(map[string]bool)
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsScope checks if a scope is present in the list
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ContainsAnyScope checks if any of the wanted scopes is present in the list
func ContainsAnyScope(scopes, wanted []string) bool {
	for _, w := range wanted {
		if ContainsScope(scopes, w) {
			return true
		}
	}
	return false
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range required {
		if !grantedSet[s] {
			return false
		}
	}
	return true
}
