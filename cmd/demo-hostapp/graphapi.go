package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// demoGraph is a miniature resource API: a /me document, a photo, a batch
// endpoint and one endpoint that always denies, to exercise the client's
// error classification.
type demoGraph struct {
	registry *tokenRegistry
	user     demoUser
	photo    []byte
}

func newDemoGraph(user demoUser, registry *tokenRegistry) *demoGraph {
	return &demoGraph{
		registry: registry,
		user:     user,
		// A 1x1 transparent PNG stands in for the profile photo.
		photo: mustDecodeBase64("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="),
	}
}

func mustDecodeBase64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (g *demoGraph) handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1.0").Subrouter()
	v1.Use(g.requireBearer)
	v1.HandleFunc("/me", g.handleMe).Methods(http.MethodGet)
	v1.HandleFunc("/$batch", g.handleBatch).Methods(http.MethodPost)
	v1.PathPrefix("/").HandlerFunc(g.handleDenied)
	return r
}

func (g *demoGraph) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, ok := g.registry.subjectForAccess(token); !ok {
			writeGraphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "bearer token missing or unknown")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *demoGraph) handleMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.profile())
}

func (g *demoGraph) handleDenied(w http.ResponseWriter, r *http.Request) {
	writeGraphError(w, http.StatusForbidden, "Authorization_RequestDenied", "insufficient privileges for this demo")
}

func (g *demoGraph) profile() map[string]any {
	return map[string]any{
		"id":                g.user.Subject,
		"displayName":       g.user.Name,
		"userPrincipalName": g.user.Email,
	}
}

// handleBatch answers the two sub-requests the library's SignIn issues,
// and 404s anything else.
func (g *demoGraph) handleBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Requests []struct {
			ID     string `json:"id"`
			Method string `json:"method"`
			URL    string `json:"url"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeGraphError(w, http.StatusBadRequest, "BadRequest", "undecodable batch payload")
		return
	}

	type item struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
		Body   any    `json:"body,omitempty"`
	}
	responses := make([]item, 0, len(payload.Requests))
	for _, req := range payload.Requests {
		switch req.URL {
		case "/me":
			responses = append(responses, item{ID: req.ID, Status: 200, Body: g.profile()})
		case "/me/photo/$value":
			responses = append(responses, item{ID: req.ID, Status: 200, Body: base64.StdEncoding.EncodeToString(g.photo)})
		default:
			responses = append(responses, item{ID: req.ID, Status: 404})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"responses": responses})
}

func writeGraphError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, code, message)
}
