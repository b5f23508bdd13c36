package graphauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
)

// Batch correlation ids for the opportunistic profile fetch.
const (
	profileRequestID = "profile"
	photoRequestID   = "photo"
)

// Client is the top-level façade: a Session plus a ResourceClient, with
// sign-in and sign-out entry points and an in-memory cache of the signed-in
// user's profile and photo.
type Client struct {
	*Session

	// Resource calls the downstream API with tokens from the Session.
	Resource *ResourceClient

	mu      sync.Mutex
	profile json.RawMessage
	photo   []byte
}

// NewClient creates a Client from a validated configuration, a provider
// adapter and a persistence backend.
func NewClient(cfg Config, provider IdentityProvider, store Store, opts ...SessionOption) (*Client, error) {
	session, err := NewSession(cfg, provider, store, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		Session:  session,
		Resource: NewResourceClient(session),
	}, nil
}

// SignIn logs the user in and, when the configured resource scopes permit
// reading the user's profile, fetches profile and photo in one batch call
// and caches them. A nil result with a nil error means redirect navigation
// was started (see Session.Login).
func (c *Client) SignIn(ctx context.Context) (*AuthResult, error) {
	res, err := c.Session.Login(ctx)
	if err != nil || res == nil {
		return res, err
	}

	if !ContainsAnyScope(c.Session.cfg.ResourceScopes, ProfileReadScopes()) {
		return res, nil
	}

	batch, err := c.Resource.Batch(ctx, []BatchRequest{
		{ID: profileRequestID, Method: "GET", URL: "/me"},
		{ID: photoRequestID, Method: "GET", URL: "/me/photo/$value"},
	}, false)
	if err != nil {
		return nil, err
	}
	c.cacheProfile(batch)

	return res, nil
}

// SignOut logs the user out, dropping the cached profile along with the
// persisted session. With no account present it resolves without a provider
// call.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.profile = nil
	c.photo = nil
	c.mu.Unlock()

	return c.Session.Logout(ctx)
}

// Profile returns the signed-in user's profile as cached by the last
// SignIn, or nil when none was fetched.
func (c *Client) Profile() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Photo returns the signed-in user's photo bytes as cached by the last
// SignIn, or nil when none was fetched.
func (c *Client) Photo() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

// cacheProfile stores whatever the opportunistic batch managed to fetch.
// Per-item failures are not sign-in failures; the corresponding cache entry
// just stays empty.
func (c *Client) cacheProfile(batch *BatchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item := batch.ByID(profileRequestID); item != nil && item.Status == 200 {
		c.profile = item.Body
	}
	if item := batch.ByID(photoRequestID); item != nil && item.Status == 200 {
		// Binary bodies come back base64-encoded in the batch envelope.
		var encoded string
		if err := json.Unmarshal(item.Body, &encoded); err == nil {
			if photo, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				c.photo = photo
			}
		}
	}
}
