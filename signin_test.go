package graphauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newSignInFixture builds a Client whose popup login succeeds and whose
// resource API is the given handler.
func newSignInFixture(t *testing.T, resourceScopes []string, handler http.HandlerFunc) (*Client, *httptest.Server, *fakeProvider) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	accountA := Account{HomeAccountID: "acct-a"}
	provider := &fakeProvider{
		accounts: []Account{accountA},
		popup: func(req TokenRequest) (*AuthResult, error) {
			return &AuthResult{Account: &accountA, AccessToken: "tok-123"}, nil
		},
		silent: func(req TokenRequest) (*AuthResult, error) {
			return &AuthResult{Account: req.Account, AccessToken: "tok-123"}, nil
		},
	}
	cfg := testConfig()
	cfg.ResourceScopes = resourceScopes
	cfg.GraphBaseURL = server.URL

	client, err := NewClient(cfg, provider, newMemStore())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server, provider
}

func TestSignIn_FetchesProfileAndPhoto(t *testing.T) {
	photo := []byte{0x89, 0x50, 0x4e, 0x47}
	batchCalls := 0
	client, _, _ := newSignInFixture(t, []string{ScopeUserRead},
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1.0/$batch" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}
			batchCalls++
			var payload struct {
				Requests []BatchRequest `json:"requests"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decoding batch: %v", err)
			}
			if len(payload.Requests) != 2 {
				t.Fatalf("batch size = %d, want 2", len(payload.Requests))
			}
			fmt.Fprintf(w, `{"responses":[
				{"id":%q,"status":200,"body":{"displayName":"Ada"}},
				{"id":%q,"status":200,"body":%q}
			]}`, payload.Requests[0].ID, payload.Requests[1].ID,
				base64.StdEncoding.EncodeToString(photo))
		})

	res, err := client.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if res == nil || res.Account.HomeAccountID != "acct-a" {
		t.Fatalf("SignIn() result = %v, want acct-a", res)
	}
	if batchCalls != 1 {
		t.Errorf("batchCalls = %d, want 1", batchCalls)
	}

	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(client.Profile(), &profile); err != nil || profile.DisplayName != "Ada" {
		t.Errorf("Profile() = %s (err %v), want displayName Ada", client.Profile(), err)
	}
	if string(client.Photo()) != string(photo) {
		t.Errorf("Photo() = %v, want %v", client.Photo(), photo)
	}
}

func TestSignIn_WithoutProfileScopeSkipsBatch(t *testing.T) {
	client, _, _ := newSignInFixture(t, []string{"Tasks.Read"},
		func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("resource API was called: %s %s", r.Method, r.URL.Path)
		})

	if _, err := client.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if client.Profile() != nil || client.Photo() != nil {
		t.Error("profile cache populated without a profile-read scope")
	}
}

func TestSignIn_BatchFailureRejects(t *testing.T) {
	client, _, _ := newSignInFixture(t, []string{ScopeUserRead},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "boom")
		})

	_, err := client.SignIn(context.Background())
	if !IsCode(err, CodeUnknownGraph) {
		t.Fatalf("SignIn() error = %v, want %s", err, CodeUnknownGraph)
	}
}

func TestSignIn_PartialBatchIsNotAFailure(t *testing.T) {
	client, _, _ := newSignInFixture(t, []string{ScopeUserRead},
		func(w http.ResponseWriter, r *http.Request) {
			var payload struct {
				Requests []BatchRequest `json:"requests"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			// Photo missing: a 404 sub-response, not a batch failure.
			fmt.Fprintf(w, `{"responses":[
				{"id":%q,"status":200,"body":{"displayName":"Ada"}},
				{"id":%q,"status":404}
			]}`, payload.Requests[0].ID, payload.Requests[1].ID)
		})

	if _, err := client.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if client.Profile() == nil {
		t.Error("profile missing despite a 200 sub-response")
	}
	if client.Photo() != nil {
		t.Error("photo cached from a 404 sub-response")
	}
}

func TestSignOut_ClearsCacheAndSession(t *testing.T) {
	client, _, provider := newSignInFixture(t, []string{ScopeUserRead},
		func(w http.ResponseWriter, r *http.Request) {
			var payload struct {
				Requests []BatchRequest `json:"requests"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			fmt.Fprintf(w, `{"responses":[{"id":%q,"status":200,"body":{}}]}`, payload.Requests[0].ID)
		})

	if _, err := client.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if client.Profile() != nil || client.Photo() != nil {
		t.Error("profile cache survived SignOut")
	}
	if client.IsLoggedIn(context.Background()) {
		t.Error("IsLoggedIn() = true after SignOut")
	}
	if provider.logoutCalls != 1 {
		t.Errorf("logoutCalls = %d, want 1", provider.logoutCalls)
	}
}

func TestSignOut_Idempotent(t *testing.T) {
	client, _, provider := newSignInFixture(t, nil,
		func(w http.ResponseWriter, r *http.Request) {})

	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if provider.logoutCalls != 0 {
		t.Errorf("logoutCalls = %d, want 0 with no account present", provider.logoutCalls)
	}
}
