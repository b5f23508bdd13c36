// Package oauth2idp implements graphauth.IdentityProvider against a
// standards-based OAuth2/OIDC authorization server using golang.org/x/oauth2.
//
// It targets host programs that are not browsers: CLIs, desktop shells and
// the demo host app. "Popup" login runs a loopback redirect listener on the
// configured redirect URI and hands the authorization URL to the host
// through the OpenURL callback; "redirect" login only opens the URL, and the
// host completes the return leg by calling CompleteRedirect from its
// callback handler, after which HandleRedirectResult yields the result once.
package oauth2idp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/arcadia-labs/graphauth"
)

// DefaultLoginTimeout bounds how long a popup login waits for the user to
// finish authenticating.
const DefaultLoginTimeout = 3 * time.Minute

// accountEntry is the provider-held state for one authenticated identity.
type accountEntry struct {
	account graphauth.Account
	token   *oauth2.Token
	idToken string
	scopes  []string
}

// Provider implements graphauth.IdentityProvider on an oauth2.Config.
type Provider struct {
	oauth        *oauth2.Config
	openURL      func(url string) error
	loginTimeout time.Duration

	mu       sync.Mutex
	accounts map[string]*accountEntry
	active   string
	pending  *graphauth.AuthResult
	states   map[string]bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithOpenURL sets how authorization URLs reach the user, typically by
// launching a browser. Required for any interactive login.
func WithOpenURL(open func(url string) error) Option {
	return func(p *Provider) { p.openURL = open }
}

// WithLoginTimeout bounds popup logins. Defaults to DefaultLoginTimeout.
func WithLoginTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.loginTimeout = d
		}
	}
}

// New creates a Provider for the given OAuth2 configuration.
func New(cfg *oauth2.Config, opts ...Option) *Provider {
	p := &Provider{
		oauth:        cfg,
		loginTimeout: DefaultLoginTimeout,
		accounts:     make(map[string]*accountEntry),
		states:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accounts returns every account this provider has authenticated.
func (p *Provider) Accounts(ctx context.Context) ([]graphauth.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]graphauth.Account, 0, len(p.accounts))
	for _, e := range p.accounts {
		out = append(out, e.account)
	}
	return out, nil
}

// AccountByID returns the account with the given id, or nil when unknown.
func (p *Provider) AccountByID(ctx context.Context, homeAccountID string) (*graphauth.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.accounts[homeAccountID]
	if !ok {
		return nil, nil
	}
	account := e.account
	return &account, nil
}

// SetActiveAccount marks the account as active.
func (p *Provider) SetActiveAccount(ctx context.Context, account *graphauth.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[account.HomeAccountID]; !ok {
		return fmt.Errorf("oauth2idp: unknown account %q", account.HomeAccountID)
	}
	p.active = account.HomeAccountID
	return nil
}

// AcquireTokenSilent refreshes the account's token without interaction,
// through the config's TokenSource. Failures are classified with the
// graphauth sentinels.
func (p *Provider) AcquireTokenSilent(ctx context.Context, req graphauth.TokenRequest) (*graphauth.AuthResult, error) {
	p.mu.Lock()
	var entry *accountEntry
	if req.Account != nil {
		entry = p.accounts[req.Account.HomeAccountID]
	}
	if entry == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("oauth2idp: no cached token for account: %w", graphauth.ErrInteractionRequired)
	}
	if !graphauth.ContainsAllScopes(entry.scopes, req.Scopes) {
		p.mu.Unlock()
		return nil, fmt.Errorf("oauth2idp: scopes %s not granted: %w",
			graphauth.JoinScopes(req.Scopes), graphauth.ErrMissingScope)
	}
	current := entry.token
	p.mu.Unlock()

	token, err := p.oauth.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	p.mu.Lock()
	entry.token = token
	if id, ok := token.Extra("id_token").(string); ok && id != "" {
		entry.idToken = id
	}
	result := entry.result()
	p.mu.Unlock()
	return result, nil
}

// LoginPopup runs the loopback interactive flow: listen on the redirect
// URI, open the authorization URL, wait for the code and exchange it.
func (p *Provider) LoginPopup(ctx context.Context, req graphauth.TokenRequest) (*graphauth.AuthResult, error) {
	if p.openURL == nil {
		return nil, fmt.Errorf("oauth2idp: interactive login needs an OpenURL callback")
	}
	cfg := p.configFor(req)

	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("oauth2idp: bad redirect URI %q: %w", cfg.RedirectURL, err)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("oauth2idp: listening on %s: %w", redirect.Host, err)
	}
	defer listener.Close()

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth2idp: state mismatch on redirect")
			return
		}
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, errCode, http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth2idp: authorization failed: %s", errCode)
			return
		}
		fmt.Fprintln(w, "Login complete. You may close this window.")
		codeCh <- q.Get("code")
	})}
	go server.Serve(listener)
	defer server.Close()

	if err := p.openURL(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)); err != nil {
		return nil, fmt.Errorf("oauth2idp: opening authorization URL: %w", err)
	}

	select {
	case code := <-codeCh:
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, classifyTokenError(err)
		}
		return p.adoptToken(cfg.Scopes, token), nil
	case err := <-errCh:
		return nil, err
	case <-time.After(p.loginTimeout):
		return nil, fmt.Errorf("oauth2idp: login timed out after %s", p.loginTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoginRedirect opens the authorization URL and returns. The host's
// callback handler completes the flow through CompleteRedirect.
func (p *Provider) LoginRedirect(ctx context.Context, req graphauth.TokenRequest) error {
	if p.openURL == nil {
		return fmt.Errorf("oauth2idp: interactive login needs an OpenURL callback")
	}
	state := uuid.NewString()

	p.mu.Lock()
	p.states[state] = true
	p.mu.Unlock()

	return p.openURL(p.configFor(req).AuthCodeURL(state, oauth2.AccessTypeOffline))
}

// CompleteRedirect exchanges the code delivered to the host's callback
// handler and stashes the result for HandleRedirectResult.
func (p *Provider) CompleteRedirect(ctx context.Context, code, state string) error {
	p.mu.Lock()
	known := p.states[state]
	delete(p.states, state)
	p.mu.Unlock()
	if !known {
		return fmt.Errorf("oauth2idp: unknown redirect state")
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return classifyTokenError(err)
	}

	result := p.adoptToken(p.oauth.Scopes, token)
	p.mu.Lock()
	p.pending = result
	p.mu.Unlock()
	return nil
}

// HandleRedirectResult yields the result of a completed redirect login
// exactly once, or (nil, nil) when there is none pending.
func (p *Provider) HandleRedirectResult(ctx context.Context) (*graphauth.AuthResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := p.pending
	p.pending = nil
	return result, nil
}

// LogoutRedirect drops the account's provider-held state.
func (p *Provider) LogoutRedirect(ctx context.Context, account *graphauth.Account) error {
	return p.logout(account)
}

// LogoutPopup drops the account's provider-held state.
func (p *Provider) LogoutPopup(ctx context.Context, account *graphauth.Account) error {
	return p.logout(account)
}

func (p *Provider) logout(account *graphauth.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, account.HomeAccountID)
	if p.active == account.HomeAccountID {
		p.active = ""
	}
	return nil
}

// configFor returns the base config narrowed to the request's scopes and
// redirect URI.
func (p *Provider) configFor(req graphauth.TokenRequest) *oauth2.Config {
	cfg := *p.oauth
	if len(req.Scopes) > 0 {
		cfg.Scopes = req.Scopes
	}
	if req.RedirectURI != "" {
		cfg.RedirectURL = req.RedirectURI
	}
	return &cfg
}

// adoptToken registers the token's identity as an account and returns the
// authentication result.
func (p *Provider) adoptToken(scopes []string, token *oauth2.Token) *graphauth.AuthResult {
	idToken, _ := token.Extra("id_token").(string)
	account := accountFromIDToken(idToken)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[account.HomeAccountID] = &accountEntry{
		account: account,
		token:   token,
		idToken: idToken,
		scopes:  scopes,
	}
	p.active = account.HomeAccountID
	return p.accounts[account.HomeAccountID].result()
}

func (e *accountEntry) result() *graphauth.AuthResult {
	account := e.account
	return &graphauth.AuthResult{
		Account:     &account,
		AccessToken: e.token.AccessToken,
		IDToken:     e.idToken,
		Scopes:      e.scopes,
		ExpiresOn:   e.token.Expiry,
	}
}

// accountFromIDToken derives the account identity from the identity token's
// claims. The token is decoded without verification; it came straight from
// the token endpoint over TLS.
func accountFromIDToken(idToken string) graphauth.Account {
	account := graphauth.Account{}
	if idToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
			if sub, ok := claims["sub"].(string); ok {
				account.HomeAccountID = sub
				if tid, ok := claims["tid"].(string); ok && tid != "" {
					account.HomeAccountID = sub + "." + tid
				}
			}
			if username, ok := claims["preferred_username"].(string); ok {
				account.Username = username
			}
			if name, ok := claims["name"].(string); ok {
				account.Name = name
			}
		}
	}
	if account.HomeAccountID == "" {
		account.HomeAccountID = uuid.NewString()
	}
	return account
}

// classifyTokenError maps x/oauth2 token endpoint failures onto the
// graphauth classification sentinels.
func classifyTokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if !errors.As(err, &retrieve) {
		return err
	}
	switch retrieve.ErrorCode {
	case "invalid_grant", "interaction_required", "login_required", "consent_required":
		return fmt.Errorf("oauth2idp: %s: %w", retrieve.ErrorCode, graphauth.ErrInteractionRequired)
	case "invalid_scope", "insufficient_scope":
		return fmt.Errorf("oauth2idp: %s: %w", retrieve.ErrorCode, graphauth.ErrMissingScope)
	default:
		return err
	}
}
