package main

import (
	"fmt"
	"html"
	"net/http"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// demoIDP is a miniature OAuth2/OIDC authorization server: a login form
// backed by a bcrypt-checked password, an scs cookie session between the
// authorize and login legs, and a token endpoint minting HS256 identity
// tokens. Just enough protocol to drive the library end to end.
type demoIDP struct {
	issuer     string
	sessions   *scs.SessionManager
	signingKey []byte
	user       demoUser
	registry   *tokenRegistry

	mu    sync.Mutex
	codes map[string]string // code -> subject
}

type demoUser struct {
	Subject      string
	Email        string
	Name         string
	PasswordHash []byte
	Roles        []string
}

// tokenRegistry is the shared truth between the IdP (which issues tokens)
// and the fake resource API (which validates them).
type tokenRegistry struct {
	mu      sync.Mutex
	access  map[string]string // access token -> subject
	refresh map[string]string // refresh token -> subject
}

func newTokenRegistry() *tokenRegistry {
	return &tokenRegistry{
		access:  make(map[string]string),
		refresh: make(map[string]string),
	}
}

func (r *tokenRegistry) issue(subject string) (access, refresh string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	access, refresh = uuid.NewString(), uuid.NewString()
	r.access[access] = subject
	r.refresh[refresh] = subject
	return access, refresh
}

func (r *tokenRegistry) subjectForAccess(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.access[token]
	return s, ok
}

func (r *tokenRegistry) subjectForRefresh(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.refresh[token]
	return s, ok
}

func newDemoIDP(user demoUser, registry *tokenRegistry) *demoIDP {
	sessions := scs.New()
	sessions.Lifetime = 10 * time.Minute
	return &demoIDP{
		sessions:   sessions,
		signingKey: []byte(uuid.NewString()),
		user:       user,
		registry:   registry,
		codes:      make(map[string]string),
	}
}

// handler builds the IdP's route surface, with the scs middleware wrapped
// around it.
func (idp *demoIDP) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/authorize", idp.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/login", idp.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/token", idp.handleToken).Methods(http.MethodPost)
	return idp.sessions.LoadAndSave(r)
}

func (idp *demoIDP) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if !idp.sessions.GetBool(r.Context(), "authed") {
		// Not signed in at the IdP yet: show the login form, carrying the
		// authorize query along so the login leg can come back here.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<form id="login" method="post" action="/login">
<input name="username"><input type="password" name="password">
<input type="hidden" name="resume" value="%s">
<button type="submit">Sign in</button></form>`, html.EscapeString(r.URL.RawQuery))
		return
	}

	code := uuid.NewString()
	idp.mu.Lock()
	idp.codes[code] = idp.sessions.GetString(r.Context(), "subject")
	idp.mu.Unlock()

	q := r.URL.Query()
	redirect := fmt.Sprintf("%s?code=%s&state=%s", q.Get("redirect_uri"), code, q.Get("state"))
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (idp *demoIDP) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username != idp.user.Email ||
		bcrypt.CompareHashAndPassword(idp.user.PasswordHash, []byte(password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	idp.sessions.Put(r.Context(), "authed", true)
	idp.sessions.Put(r.Context(), "subject", idp.user.Subject)
	http.Redirect(w, r, "/authorize?"+r.PostFormValue("resume"), http.StatusSeeOther)
}

func (idp *demoIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	var subject string
	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		code := r.PostFormValue("code")
		idp.mu.Lock()
		subject = idp.codes[code]
		delete(idp.codes, code)
		idp.mu.Unlock()
	case "refresh_token":
		subject, _ = idp.registry.subjectForRefresh(r.PostFormValue("refresh_token"))
	}
	if subject == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
		return
	}

	access, refresh := idp.registry.issue(subject)
	idToken, err := idp.mintIDToken(subject)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600,"refresh_token":%q,"id_token":%q}`,
		access, refresh, idToken)
}

// mintIDToken signs an HS256 identity token with the demo user's claims,
// roles included so the library's role extraction has something to chew on.
func (idp *demoIDP) mintIDToken(subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":                idp.issuer,
		"sub":                subject,
		"preferred_username": idp.user.Email,
		"name":               idp.user.Name,
		"roles":              idp.user.Roles,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
	return token.SignedString(idp.signingKey)
}
