package oauth2idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/arcadia-labs/graphauth"
)

func mintIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func TestAccountFromIDToken(t *testing.T) {
	t.Run("sub and tenant", func(t *testing.T) {
		token := mintIDToken(t, jwt.MapClaims{
			"sub":                "sub-1",
			"tid":                "tenant-1",
			"preferred_username": "ada@example.com",
			"name":               "Ada",
		})
		account := accountFromIDToken(token)
		if account.HomeAccountID != "sub-1.tenant-1" {
			t.Errorf("HomeAccountID = %q, want sub-1.tenant-1", account.HomeAccountID)
		}
		if account.Username != "ada@example.com" || account.Name != "Ada" {
			t.Errorf("account = %+v", account)
		}
	})

	t.Run("no token still yields an id", func(t *testing.T) {
		account := accountFromIDToken("")
		if account.HomeAccountID == "" {
			t.Error("HomeAccountID is empty")
		}
	})
}

func TestClassifyTokenError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"invalid_grant", graphauth.ErrInteractionRequired},
		{"interaction_required", graphauth.ErrInteractionRequired},
		{"consent_required", graphauth.ErrInteractionRequired},
		{"invalid_scope", graphauth.ErrMissingScope},
		{"insufficient_scope", graphauth.ErrMissingScope},
	}
	for _, tt := range tests {
		err := classifyTokenError(&oauth2.RetrieveError{ErrorCode: tt.code})
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyTokenError(%s) = %v, want %v", tt.code, err, tt.want)
		}
	}

	plain := errors.New("dns failure")
	if got := classifyTokenError(plain); got != plain {
		t.Errorf("unclassifiable error was rewritten: %v", got)
	}
	server := classifyTokenError(&oauth2.RetrieveError{ErrorCode: "server_error"})
	if errors.Is(server, graphauth.ErrInteractionRequired) || errors.Is(server, graphauth.ErrMissingScope) {
		t.Errorf("server_error was misclassified: %v", server)
	}
}

func TestAcquireTokenSilent_RefreshesViaTokenEndpoint(t *testing.T) {
	idToken := mintIDToken(t, jwt.MapClaims{"sub": "sub-1"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostFormValue("grant_type") != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"id_token":%q}`, idToken)
	}))
	defer server.Close()

	p := New(&oauth2.Config{
		ClientID: "client-1",
		Endpoint: oauth2.Endpoint{TokenURL: server.URL},
	})
	result := p.adoptToken([]string{"openid"}, (&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}).WithExtra(map[string]any{"id_token": idToken}))

	res, err := p.AcquireTokenSilent(context.Background(), graphauth.TokenRequest{
		Account: result.Account,
		Scopes:  []string{"openid"},
	})
	if err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if res.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want fresh", res.AccessToken)
	}
}

func TestAcquireTokenSilent_Classification(t *testing.T) {
	t.Run("unknown account needs interaction", func(t *testing.T) {
		p := New(&oauth2.Config{ClientID: "client-1"})
		_, err := p.AcquireTokenSilent(context.Background(), graphauth.TokenRequest{
			Account: &graphauth.Account{HomeAccountID: "ghost"},
		})
		if !errors.Is(err, graphauth.ErrInteractionRequired) {
			t.Fatalf("error = %v, want ErrInteractionRequired", err)
		}
	})

	t.Run("ungranted scope", func(t *testing.T) {
		p := New(&oauth2.Config{ClientID: "client-1"})
		result := p.adoptToken([]string{"openid"}, &oauth2.Token{
			AccessToken: "tok",
			Expiry:      time.Now().Add(time.Hour),
		})
		_, err := p.AcquireTokenSilent(context.Background(), graphauth.TokenRequest{
			Account: result.Account,
			Scopes:  []string{"Files.ReadWrite"},
		})
		if !errors.Is(err, graphauth.ErrMissingScope) {
			t.Fatalf("error = %v, want ErrMissingScope", err)
		}
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
		}))
		defer server.Close()

		p := New(&oauth2.Config{
			ClientID: "client-1",
			Endpoint: oauth2.Endpoint{TokenURL: server.URL},
		})
		result := p.adoptToken([]string{"openid"}, &oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "revoked",
			Expiry:       time.Now().Add(-time.Hour),
		})
		_, err := p.AcquireTokenSilent(context.Background(), graphauth.TokenRequest{
			Account: result.Account,
			Scopes:  []string{"openid"},
		})
		if !errors.Is(err, graphauth.ErrInteractionRequired) {
			t.Fatalf("error = %v, want ErrInteractionRequired", err)
		}
	})
}

func TestRedirectFlow_HandsResultOverOnce(t *testing.T) {
	idToken := mintIDToken(t, jwt.MapClaims{"sub": "sub-1"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600,"id_token":%q}`, idToken)
	}))
	defer server.Close()

	var openedURL string
	p := New(&oauth2.Config{
		ClientID:    "client-1",
		RedirectURL: "http://127.0.0.1:0/callback",
		Scopes:      []string{"openid"},
		Endpoint:    oauth2.Endpoint{AuthURL: server.URL + "/authorize", TokenURL: server.URL},
	}, WithOpenURL(func(u string) error {
		openedURL = u
		return nil
	}))

	ctx := context.Background()
	if err := p.LoginRedirect(ctx, graphauth.TokenRequest{Scopes: []string{"openid"}}); err != nil {
		t.Fatalf("LoginRedirect() error = %v", err)
	}
	if openedURL == "" {
		t.Fatal("authorization URL was never opened")
	}

	state := stateFromURL(t, openedURL)
	if err := p.CompleteRedirect(ctx, "code-1", state); err != nil {
		t.Fatalf("CompleteRedirect() error = %v", err)
	}

	res, err := p.HandleRedirectResult(ctx)
	if err != nil || res == nil {
		t.Fatalf("HandleRedirectResult() = (%v, %v), want a result", res, err)
	}
	if res.Account.HomeAccountID != "sub-1" {
		t.Errorf("HomeAccountID = %q, want sub-1", res.Account.HomeAccountID)
	}

	// The result is consumed; a second call has nothing pending.
	res, err = p.HandleRedirectResult(ctx)
	if err != nil || res != nil {
		t.Errorf("second HandleRedirectResult() = (%v, %v), want (nil, nil)", res, err)
	}

	if err := p.CompleteRedirect(ctx, "code-2", "bogus-state"); err == nil {
		t.Error("CompleteRedirect() accepted an unknown state")
	}
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := http.NewRequest(http.MethodGet, raw, nil)
	if err != nil {
		t.Fatalf("parsing opened URL: %v", err)
	}
	state := parsed.URL.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in opened URL %q", raw)
	}
	return state
}
