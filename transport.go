package graphauth

import (
	"net/http"
)

// AuthTransport is an http.RoundTripper that obtains a resource token from
// a Session for every request and attaches it as a bearer credential. It
// lets host programs use a plain *http.Client against the resource API when
// ResourceClient is too narrow.
type AuthTransport struct {
	Session *Session

	// Base is the transport performing the actual call. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// ForceLogin is passed through to GetToken on every request.
	ForceLogin bool
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.Session.GetToken(req.Context(), TokenResource, t.ForceLogin)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, newError(CodeAuthenticationRequired,
			"redirect login in progress, no token available yet")
	}

	// Clone the request to avoid mutating the original
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+res.AccessToken)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}
