package graphauth

import (
	"github.com/golang-jwt/jwt/v5"
)

// rolesClaim is the identity token claim carrying authorization roles.
const rolesClaim = "roles"

// RolesFromIDToken extracts the roles claim from an identity token. The
// token is decoded without signature verification: validation is the
// provider SDK's job, and by the time a token reaches this package it has
// already been accepted by the provider. Returns nil when the token is
// absent, unparseable or carries no roles.
func RolesFromIDToken(idToken string) []string {
	if idToken == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil
	}

	raw, ok := claims[rolesClaim].([]any)
	if !ok {
		return nil
	}

	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	if len(roles) == 0 {
		return nil
	}
	return roles
}
