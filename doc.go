// Package graphauth manages the sign-in session and token lifecycle for
// applications that authenticate users against an identity provider and call
// a downstream resource API on their behalf.
//
// GraphAuth does not perform token acquisition itself. The identity provider
// SDK is consumed through the IdentityProvider interface, which covers
// account enumeration, silent token acquisition, interactive login (redirect
// or popup) and logout. GraphAuth owns everything around that boundary: it
// decides on every call whether the cached session is still usable, whether
// a silent refresh can be trusted, and when interactive re-authentication
// must be triggered, and it tracks those decisions durably across page loads
// and redirects through a pluggable Store.
//
// # Architecture
//
// Session: the state machine at the center of the package. It persists three
// facts (active account, roles, login-required flag) and exposes Login,
// GetToken and Logout built on top of them.
//
// ResourceClient: an HTTP client for the downstream API. Every call obtains
// a resource token from the Session first, attaches it as a bearer header,
// and maps API error codes onto the package error taxonomy. Requests can be
// batched, up to the API's fixed ceiling of 20 per batch.
//
// Client: the top-level façade combining both, with SignIn and SignOut entry
// points and an opportunistic profile/photo cache.
//
// # Basic Usage
//
// Configure and create a client:
//
//	cfg := graphauth.Config{
//	    ClientID:       "your-client-id",
//	    Authority:      "https://login.example.com/your-tenant",
//	    AppScopes:      []string{"openid", "profile"},
//	    ResourceScopes: []string{"User.Read"},
//	    SignInMethod:   graphauth.MethodPopup,
//	    RedirectURI:    "https://yourapp.com/auth/callback",
//	    SelectAccount: func(ctx context.Context, accounts []graphauth.Account) (*graphauth.Account, error) {
//	        return &accounts[0], nil
//	    },
//	}
//
//	client, err := graphauth.NewClient(cfg, provider, stores.NewMemory())
//
// Sign in and call the resource API:
//
//	result, err := client.SignIn(ctx)
//	if err != nil {
//	    // handle error
//	}
//	body, err := client.Resource.Get(ctx, "/me", false)
//
// For redirect-based sign-in, call CompleteRedirectLogin early in every page
// load; it is a no-op when the load is not the return leg of a redirect:
//
//	result, err := client.CompleteRedirectLogin(ctx)
//
// # Errors
//
// Every failure crossing the package boundary is an *Error carrying one of
// the Code constants, so callers can switch on the failure class instead of
// matching strings. The one exception is an unrecognized provider error
// during silent refresh, which is passed through unchanged.
package graphauth
