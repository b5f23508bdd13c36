package graphauth

import (
	"context"
	"errors"
	"time"
)

// Classification sentinels for provider-side token failures. Provider
// implementations wrap these so the session state machine can dispatch with
// errors.Is without knowing the SDK's own error types.
var (
	// ErrInteractionRequired marks a silent token request that cannot
	// succeed without the user re-authenticating (expired refresh state,
	// revoked consent, conditional access, ...).
	ErrInteractionRequired = errors.New("interaction required")

	// ErrMissingScope marks a token request for a scope the application was
	// never granted. Interactive login does not help here.
	ErrMissingScope = errors.New("missing permission scope")
)

// Account is one authenticated identity as tracked by the identity
// provider, named by an opaque identifier the provider assigns.
type Account struct {
	// HomeAccountID is the provider's unique identifier for this identity.
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username,omitempty"`
	Name          string `json:"name,omitempty"`
}

// AuthResult is the outcome of a successful token acquisition, silent or
// interactive.
type AuthResult struct {
	Account     *Account  `json:"account,omitempty"`
	AccessToken string    `json:"access_token"`
	IDToken     string    `json:"id_token,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	ExpiresOn   time.Time `json:"expires_on"`
}

// TokenRequest describes one token acquisition against the provider.
type TokenRequest struct {
	// Account to acquire for. Required for silent acquisition, ignored by
	// interactive login.
	Account     *Account
	Scopes      []string
	RedirectURI string
}

// IdentityProvider is the capability boundary to the identity provider SDK.
// GraphAuth consumes it, never implements the protocol itself.
//
// AcquireTokenSilent failures must be classified: wrap ErrInteractionRequired
// when the user has to re-authenticate and ErrMissingScope when a requested
// scope is not granted. Any other error is passed through to callers
// unchanged.
type IdentityProvider interface {
	// Accounts returns every account the provider currently knows about.
	Accounts(ctx context.Context) ([]Account, error)

	// AccountByID returns the account with the given home account id, or
	// nil when the provider no longer knows it.
	AccountByID(ctx context.Context, homeAccountID string) (*Account, error)

	// SetActiveAccount marks the account as the provider's active one.
	SetActiveAccount(ctx context.Context, account *Account) error

	// AcquireTokenSilent acquires a token without user interaction, from
	// provider-held cache or refresh state.
	AcquireTokenSilent(ctx context.Context, req TokenRequest) (*AuthResult, error)

	// LoginRedirect starts a redirect-based interactive login. In a browser
	// this navigates away and never yields a result in this page's
	// lifetime; the result is collected by HandleRedirectResult on the next
	// load.
	LoginRedirect(ctx context.Context, req TokenRequest) error

	// LoginPopup runs an interactive login in a popup and returns its
	// result.
	LoginPopup(ctx context.Context, req TokenRequest) (*AuthResult, error)

	// HandleRedirectResult returns the pending result of a redirect login
	// when the current page load is the return leg of one, or (nil, nil)
	// otherwise.
	HandleRedirectResult(ctx context.Context) (*AuthResult, error)

	// LogoutRedirect signs the account out via redirect navigation.
	LogoutRedirect(ctx context.Context, account *Account) error

	// LogoutPopup signs the account out via a popup.
	LogoutPopup(ctx context.Context, account *Account) error
}
