// Command demo-hostapp runs the whole graphauth stack against in-process
// fakes: a miniature OAuth2/OIDC identity provider, a miniature resource
// API, and a scripted "browser" that fills in the login form. It signs in,
// reads the cached profile, calls the resource API directly, demonstrates
// the error taxonomy on a denied endpoint, and signs out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/arcadia-labs/graphauth"
	"github.com/arcadia-labs/graphauth/providers/oauth2idp"
	"github.com/arcadia-labs/graphauth/stores"
)

func main() {
	idpAddr := flag.String("idp-addr", "127.0.0.1:9521", "address for the demo identity provider")
	graphAddr := flag.String("graph-addr", "127.0.0.1:9522", "address for the demo resource API")
	callbackAddr := flag.String("callback-addr", "127.0.0.1:9523", "address for the login redirect callback")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*idpAddr, *graphAddr, *callbackAddr); err != nil {
		slog.Error("demo failed", "err", err)
		os.Exit(1)
	}
}

func run(idpAddr, graphAddr, callbackAddr string) error {
	const password = "demo-password"
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := demoUser{
		Subject:      "ada-001",
		Email:        "ada@example.com",
		Name:         "Ada Lovelace",
		PasswordHash: hash,
		Roles:        []string{"Task.Admin"},
	}

	registry := newTokenRegistry()
	idp := newDemoIDP(user, registry)
	idp.issuer = "http://" + idpAddr

	stopIDP, err := serve(idpAddr, idp.handler())
	if err != nil {
		return err
	}
	defer stopIDP()

	stopGraph, err := serve(graphAddr, newDemoGraph(user, registry).handler())
	if err != nil {
		return err
	}
	defer stopGraph()

	browser, err := newScriptedBrowser(user.Email, password)
	if err != nil {
		return err
	}

	// The resource scope rides along on the login request so the provider
	// grants it up front; silent resource-token requests check against the
	// granted set.
	loginScopes := []string{"openid", "profile", "offline_access", graphauth.ScopeUserRead}

	provider := oauth2idp.New(&oauth2.Config{
		ClientID:    "demo-hostapp",
		RedirectURL: "http://" + callbackAddr + "/callback",
		Scopes:      loginScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  idp.issuer + "/authorize",
			TokenURL: idp.issuer + "/token",
		},
	}, oauth2idp.WithOpenURL(browser.open))

	cfg := graphauth.Config{
		ClientID:       "demo-hostapp",
		Authority:      idp.issuer,
		AppScopes:      loginScopes,
		ResourceScopes: []string{graphauth.ScopeUserRead},
		SignInMethod:   graphauth.MethodPopup,
		Storage:        graphauth.StorageSession,
		RedirectURI:    "http://" + callbackAddr + "/callback",
		GraphBaseURL:   "http://" + graphAddr,
		SelectAccount: func(ctx context.Context, accounts []graphauth.Account) (*graphauth.Account, error) {
			slog.Warn("multiple accounts, picking the first", "count", len(accounts))
			return &accounts[0], nil
		},
	}

	client, err := graphauth.NewClient(cfg, provider, stores.NewMemory())
	if err != nil {
		return err
	}

	ctx := context.Background()

	res, err := client.SignIn(ctx)
	if err != nil {
		return fmt.Errorf("sign-in: %w", err)
	}
	roles, _ := client.Roles()
	slog.Info("signed in",
		"account", res.Account.HomeAccountID,
		"username", res.Account.Username,
		"roles", roles)
	slog.Info("cached profile", "profile", string(client.Profile()), "photoBytes", len(client.Photo()))

	me, err := client.Resource.Get(ctx, "me", false)
	if err != nil {
		return fmt.Errorf("GET me: %w", err)
	}
	slog.Info("resource call", "me", string(me))

	// Silent path: the provider satisfies this from its cached grant, no
	// browser involved.
	token, err := client.GetToken(ctx, graphauth.TokenResource, false)
	if err != nil {
		return fmt.Errorf("silent token: %w", err)
	}
	slog.Info("silent token acquired", "expiresOn", token.ExpiresOn)

	// The taxonomy in action: this endpoint always denies.
	if _, err := client.Resource.Get(ctx, "drive/root", false); err != nil {
		code, _ := graphauth.CodeOf(err)
		slog.Info("denied endpoint classified", "code", code)
	}

	if err := client.SignOut(ctx); err != nil {
		return fmt.Errorf("sign-out: %w", err)
	}
	slog.Info("signed out", "loggedIn", client.IsLoggedIn(ctx))
	return nil
}

// serve starts an HTTP server and returns its stopper.
func serve(addr string, handler http.Handler) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	server := &http.Server{Handler: handler}
	go server.Serve(listener)
	return func() { server.Close() }, nil
}

// scriptedBrowser plays the user: it follows the authorization URL, fills
// in the login form and lets the redirect chain run to the loopback
// callback.
type scriptedBrowser struct {
	client   *http.Client
	username string
	password string
}

func newScriptedBrowser(username, password string) (*scriptedBrowser, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &scriptedBrowser{
		client:   &http.Client{Jar: jar},
		username: username,
		password: password,
	}, nil
}

func (b *scriptedBrowser) open(authorizeURL string) error {
	resp, err := b.client.Get(authorizeURL)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		// Already signed in at the IdP; the redirect chain has finished.
		return nil
	}

	// The login form came back. Submit credentials, resuming the original
	// authorize request afterwards.
	target, err := url.Parse(authorizeURL)
	if err != nil {
		return err
	}
	form := url.Values{
		"username": {b.username},
		"password": {b.password},
		"resume":   {target.RawQuery},
	}
	loginURL := fmt.Sprintf("%s://%s/login", target.Scheme, target.Host)
	resp, err = b.client.PostForm(loginURL, form)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login flow ended with status %d", resp.StatusCode)
	}
	return nil
}
