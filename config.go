package graphauth

import (
	"context"
	"fmt"
)

// SignInMethod selects how interactive login is performed. Fixed at
// configuration time, never chosen dynamically.
type SignInMethod string

const (
	MethodRedirect SignInMethod = "redirect"
	MethodPopup    SignInMethod = "popup"
)

// StorageMode selects the persistence scope of the session record.
type StorageMode string

const (
	// StorageSession keeps the session record for the lifetime of the
	// current browsing session only.
	StorageSession StorageMode = "session"

	// StorageDurable keeps the session record across restarts.
	StorageDurable StorageMode = "durable"
)

// SelectAccountFunc resolves multi-account ambiguity after login: given the
// candidate accounts the provider reports, it returns the one to adopt.
// It is invoked exactly when login ends with more than one account.
type SelectAccountFunc func(ctx context.Context, accounts []Account) (*Account, error)

// TokenKind selects which configured scope list a token request uses.
type TokenKind int

const (
	// TokenApplication requests the identity-provider application scopes.
	TokenApplication TokenKind = iota

	// TokenResource requests the downstream resource API scopes.
	TokenResource
)

// Defaults for the resource API location.
const (
	DefaultGraphBaseURL = "https://graph.microsoft.com"
	DefaultGraphVersion = "v1.0"
)

// Config carries the static configuration for a Session. Loading and type
// checking happen in the host application; Validate only enforces presence
// and enum membership.
type Config struct {
	// ClientID is the application's identifier at the identity provider.
	ClientID string

	// Authority is the identity provider's tenant/authority URL.
	Authority string

	// AppScopes are requested for identity-provider application tokens.
	AppScopes []string

	// ResourceScopes are requested for downstream resource API tokens.
	ResourceScopes []string

	// SignInMethod is redirect or popup.
	SignInMethod SignInMethod

	// Storage selects session-only or durable persistence. Informational
	// for the host wiring up a Store; the Session itself treats the
	// injected Store as opaque.
	Storage StorageMode

	// RedirectURI is passed to the provider on login.
	RedirectURI string

	// PostLogoutURI is passed to the provider on logout.
	PostLogoutURI string

	// GraphBaseURL and GraphVersion locate the resource API. Defaults are
	// applied when empty.
	GraphBaseURL string
	GraphVersion string

	// SelectAccount resolves multi-account ambiguity. Required: there is no
	// safe default, and silently picking the first account is wrong often
	// enough that its absence is a configuration error.
	SelectAccount SelectAccountFunc
}

// Validate checks that the configuration is complete enough to construct a
// Session.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("graphauth: ClientID is required")
	}
	if c.Authority == "" {
		return fmt.Errorf("graphauth: Authority is required")
	}
	switch c.SignInMethod {
	case MethodRedirect, MethodPopup:
	default:
		return fmt.Errorf("graphauth: unknown sign-in method %q", c.SignInMethod)
	}
	if c.SelectAccount == nil {
		return fmt.Errorf("graphauth: SelectAccount callback is required")
	}
	return nil
}

// withDefaults returns a copy with defaulted resource API location.
func (c Config) withDefaults() Config {
	if c.GraphBaseURL == "" {
		c.GraphBaseURL = DefaultGraphBaseURL
	}
	if c.GraphVersion == "" {
		c.GraphVersion = DefaultGraphVersion
	}
	if c.Storage == "" {
		c.Storage = StorageSession
	}
	return c
}

// scopesFor returns the configured scope list for the token kind.
func (c *Config) scopesFor(kind TokenKind) []string {
	if kind == TokenResource {
		return c.ResourceScopes
	}
	return c.AppScopes
}
