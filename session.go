package graphauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Session is the single authority on whether a usable sign-in session
// exists and what should happen next: trust a silent refresh, trigger
// interactive login, or reject. It persists three facts through the injected
// Store (the active account id, the roles from the last identity token, and
// the login-required flag) and consults the provider as the authoritative
// source of account truth.
//
// Session performs no cross-call locking. Two interleaved GetToken or Login
// flows each read and write the persisted facts independently; flag flips
// are always persisted before the triggering call returns, but there is no
// at-most-one-login-in-flight guarantee.
type Session struct {
	cfg      Config
	provider IdentityProvider
	state    *sessionState
	logger   *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a Session from a validated configuration, a provider
// adapter and a persistence backend.
func NewSession(cfg Config, provider IdentityProvider, store Store, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("graphauth: identity provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("graphauth: session store is required")
	}

	s := &Session{
		cfg:      cfg.withDefaults(),
		provider: provider,
		state:    &sessionState{store: store},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login performs interactive sign-in using the configured method.
//
// With MethodPopup the result is returned directly. With MethodRedirect a
// nil result with a nil error means redirect navigation was started and the
// flow continues on the next page load via CompleteRedirectLogin.
//
// Any unexpected failure is wrapped as CodeSignInUnknown; taxonomy errors
// pass through as they are.
func (s *Session) Login(ctx context.Context) (*AuthResult, error) {
	switch s.cfg.SignInMethod {
	case MethodRedirect:
		res, err := s.loginRedirect(ctx)
		return res, wrapSignIn(err)
	case MethodPopup:
		res, err := s.loginPopup(ctx)
		return res, wrapSignIn(err)
	default:
		return nil, newError(CodeSignInMethodUnknown, "unknown sign-in method %q", s.cfg.SignInMethod)
	}
}

// loginRedirect is the redirect leg of Login: finalize a pending redirect
// return if there is one, reuse a trusted account, or start navigation.
func (s *Session) loginRedirect(ctx context.Context) (*AuthResult, error) {
	res, err := s.CompleteRedirectLogin(ctx)
	if err != nil || res != nil {
		return res, err
	}

	account, err := s.trustedAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account != nil {
		// Already logged in and trusted: skip interactive login and force a
		// token fetch for the application scopes instead.
		return s.GetToken(ctx, TokenApplication, true)
	}

	return nil, s.BeginRedirectLogin(ctx)
}

// loginPopup is the popup leg of Login.
func (s *Session) loginPopup(ctx context.Context) (*AuthResult, error) {
	account, err := s.trustedAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return s.GetToken(ctx, TokenApplication, true)
	}

	// Fresh attempt: drop any stale session facts so a failure cannot carry
	// the previous login over. An absent flag reads as login-required.
	if err := s.state.clear(); err != nil {
		return nil, err
	}

	res, err := s.provider.LoginPopup(ctx, TokenRequest{
		Scopes:      s.cfg.AppScopes,
		RedirectURI: s.cfg.RedirectURI,
	})
	if err != nil {
		return nil, err
	}
	return s.processLoginResult(ctx, res)
}

// BeginRedirectLogin clears the session and starts redirect navigation to
// the provider. In a browser this ends the current page's flow; the login
// completes on the next load through CompleteRedirectLogin.
func (s *Session) BeginRedirectLogin(ctx context.Context) error {
	if err := s.state.clear(); err != nil {
		return err
	}
	err := s.provider.LoginRedirect(ctx, TokenRequest{
		Scopes:      s.cfg.AppScopes,
		RedirectURI: s.cfg.RedirectURI,
	})
	return wrapSignIn(err)
}

// CompleteRedirectLogin finalizes a redirect-based login. Call it early in
// every page load: when the load is not the return leg of a redirect it
// returns (nil, nil) and has no side effects.
func (s *Session) CompleteRedirectLogin(ctx context.Context) (*AuthResult, error) {
	res, err := s.provider.HandleRedirectResult(ctx)
	if err != nil {
		return nil, wrapSignIn(err)
	}
	if res == nil {
		return nil, nil
	}
	out, err := s.processLoginResult(ctx, res)
	return out, wrapSignIn(err)
}

// processLoginResult turns a provider authentication result into persisted
// session facts and the result handed back to the caller.
func (s *Session) processLoginResult(ctx context.Context, res *AuthResult) (*AuthResult, error) {
	// Pessimistic default: nothing is confirmed yet.
	if err := s.state.setLoginRequired(true); err != nil {
		return nil, err
	}

	// Common case: the result names the account directly.
	if res != nil && res.Account != nil {
		if err := s.registerAccount(res.Account, res.IDToken); err != nil {
			return nil, err
		}
		return res, nil
	}

	// The result did not carry an account; the provider's account list is
	// the authoritative fallback.
	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	switch len(accounts) {
	case 0:
		return nil, newError(CodeNoAccountsReturned, "provider returned no accounts after login")

	case 1:
		// Adopt the only account, then confirm usability with a silent
		// application-token fetch before trusting it.
		account := &accounts[0]
		if err := s.state.replace(sessionRecord{AccountID: account.HomeAccountID, LoginRequired: true}); err != nil {
			return nil, err
		}
		return s.confirmAccount(ctx, account)

	default:
		chosen, err := s.cfg.SelectAccount(ctx, accounts)
		if err != nil || chosen == nil {
			// A failing callback usually means missing application wiring,
			// not a transient condition; the raw error stays wrapped.
			return nil, wrapError(CodeMultipleAccountSelection, err,
				"account selection failed for %d accounts", len(accounts))
		}
		if err := s.registerAccount(chosen, ""); err != nil {
			return nil, err
		}
		if err := s.provider.SetActiveAccount(ctx, chosen); err != nil {
			return nil, err
		}
		return s.confirmAccount(ctx, chosen)
	}
}

// confirmAccount runs the confirming silent token fetch for a freshly
// adopted account and registers it on success.
func (s *Session) confirmAccount(ctx context.Context, account *Account) (*AuthResult, error) {
	res, err := s.acquireSilent(ctx, account, TokenApplication, false)
	if err != nil {
		return nil, err
	}
	if err := s.registerAccount(account, res.IDToken); err != nil {
		return nil, err
	}
	return res, nil
}

// GetToken returns a token of the given kind for the active account,
// refreshing silently when possible.
//
// When forceLogin is true a required login is performed up front, and a
// silent refresh that fails needing interaction falls back to interactive
// login instead of rejecting. When it is false such failures reject with
// CodeAuthenticationRequired and the caller decides whether to prompt.
//
// Provider errors of an unrecognized class are passed through unchanged;
// everything else crossing this boundary is a taxonomy *Error.
func (s *Session) GetToken(ctx context.Context, kind TokenKind, forceLogin bool) (*AuthResult, error) {
	rec, err := s.state.load()
	if err != nil {
		return nil, err
	}
	if forceLogin && rec.LoginRequired {
		return s.Login(ctx)
	}

	account, err := s.resolveAccount(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, newError(CodeNotLoggedIn, "no account is logged in")
	}

	return s.acquireSilent(ctx, account, kind, forceLogin)
}

// acquireSilent performs one silent acquisition and classifies its outcome.
// The flag flip is persisted before the result is returned, so a concurrent
// reader never observes a state this call is about to contradict.
func (s *Session) acquireSilent(ctx context.Context, account *Account, kind TokenKind, forceLogin bool) (*AuthResult, error) {
	scopes := s.cfg.scopesFor(kind)
	res, err := s.provider.AcquireTokenSilent(ctx, TokenRequest{
		Account:     account,
		Scopes:      scopes,
		RedirectURI: s.cfg.RedirectURI,
	})
	if err == nil {
		if serr := s.state.setLoginRequired(false); serr != nil {
			return nil, serr
		}
		return res, nil
	}

	switch {
	case errors.Is(err, ErrMissingScope):
		// Configuration defect. Interactive login cannot grant the scope,
		// so the login-required flag is left alone.
		return nil, wrapError(CodeMissingPermissionScope, err,
			"scope not granted: %s", JoinScopes(scopes))

	case errors.Is(err, ErrInteractionRequired):
		if serr := s.state.setLoginRequired(true); serr != nil {
			return nil, serr
		}
		if forceLogin {
			return s.Login(ctx)
		}
		return nil, wrapError(CodeAuthenticationRequired, err,
			"silent refresh failed, interactive login required")

	default:
		// Unrecognized provider class: the one documented pass-through.
		return nil, err
	}
}

// Logout clears the persisted session unconditionally and, when an account
// is present, signs it out with the provider using the configured method.
// With no account present it returns immediately without a provider call.
func (s *Session) Logout(ctx context.Context) error {
	account, lookupErr := s.activeAccount(ctx)

	// The persisted facts go first: whatever the provider call does, this
	// session is over.
	if err := s.state.clear(); err != nil {
		return err
	}
	if lookupErr != nil {
		return lookupErr
	}
	if account == nil {
		return nil
	}

	if s.cfg.SignInMethod == MethodPopup {
		return s.provider.LogoutPopup(ctx, account)
	}
	return s.provider.LogoutRedirect(ctx, account)
}

// IsLoggedIn reports whether an active account is present and still known
// to the provider.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	account, err := s.activeAccount(ctx)
	return err == nil && account != nil
}

// ActiveAccount returns the active account, or nil when none is logged in.
func (s *Session) ActiveAccount(ctx context.Context) (*Account, error) {
	return s.activeAccount(ctx)
}

// Roles returns the authorization roles captured at the last login. They
// are a snapshot: stale until the next login.
func (s *Session) Roles() ([]string, error) {
	rec, err := s.state.load()
	if err != nil {
		return nil, err
	}
	return rec.Roles, nil
}

// HasRole reports whether the last login carried the given role.
func (s *Session) HasRole(role string) bool {
	roles, err := s.Roles()
	if err != nil {
		return false
	}
	return ContainsScope(roles, role)
}

// trustedAccount returns the active account when the persisted record is
// trusted and the provider still knows the account. A dangling stored id
// yields nil, so login falls through to the interactive branch instead of
// short-circuiting into a dead silent fetch.
func (s *Session) trustedAccount(ctx context.Context) (*Account, error) {
	rec, err := s.state.load()
	if err != nil {
		return nil, err
	}
	if rec.AccountID == "" || rec.LoginRequired {
		return nil, nil
	}
	return s.resolveAccount(ctx, rec.AccountID)
}

// activeAccount resolves the stored account id against the provider.
func (s *Session) activeAccount(ctx context.Context) (*Account, error) {
	rec, err := s.state.load()
	if err != nil {
		return nil, err
	}
	return s.resolveAccount(ctx, rec.AccountID)
}

// resolveAccount verifies a stored id against the provider's account list.
// A dangling id means the session is logically logged out, however the
// stored facts read.
func (s *Session) resolveAccount(ctx context.Context, homeAccountID string) (*Account, error) {
	if homeAccountID == "" {
		return nil, nil
	}
	account, err := s.provider.AccountByID(ctx, homeAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		s.logger.Warn("stored account is unknown to the provider, treating as logged out",
			"homeAccountId", homeAccountID)
		return nil, nil
	}
	return account, nil
}

// registerAccount persists the account as the trusted active session.
func (s *Session) registerAccount(account *Account, idToken string) error {
	return s.state.replace(sessionRecord{
		AccountID:     account.HomeAccountID,
		Roles:         RolesFromIDToken(idToken),
		LoginRequired: false,
	})
}

// wrapSignIn wraps unexpected login failures as CodeSignInUnknown. Taxonomy
// errors already carry their class and pass through.
func wrapSignIn(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return wrapError(CodeSignInUnknown, err, "sign-in failed")
}
