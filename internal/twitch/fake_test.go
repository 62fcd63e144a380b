package twitch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/eventrelay/internal/oauth"
)

// fakeTwitch serves the validate, token and Helix endpoints from one server.
type fakeTwitch struct {
	*httptest.Server

	mu            sync.Mutex
	valid         map[string]bool
	refreshes     int
	validations   int
	refreshFails  bool
	users         []User
	subs          []Subscription
	nextID        int
	pageSize      int
	failCreate    string
	lastCreate    createSubscriptionRequest
	lastClientID  string
	tokenSequence int
}

func newFakeTwitch(t *testing.T) *fakeTwitch {
	t.Helper()

	f := &fakeTwitch{
		valid:    map[string]bool{"user-token": true, "app-token": true},
		users:    []User{{ID: "1234", Login: "streamer", DisplayName: "Streamer"}},
		pageSize: 2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/validate", f.handleValidate)
	mux.HandleFunc("/oauth2/token", f.handleToken)
	mux.HandleFunc("/helix/users", f.authed(f.handleUsers))
	mux.HandleFunc("/helix/eventsub/subscriptions", f.authed(f.handleSubscriptions))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTwitch) factory(appCred *oauth.Credential) *Factory {
	source := oauth.NewSource(oauth.SourceConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     f.URL + "/oauth2/token",
		HTTPClient:   f.Client(),
	})
	return NewFactory("client-id", source, appCred, Options{
		HTTPClient:  f.Client(),
		BaseURL:     f.URL + "/helix",
		ValidateURL: f.URL + "/oauth2/validate",
	})
}

func newCred(access, refresh string) *oauth.Credential {
	return oauth.NewCredential(&oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       time.Now().Add(time.Hour),
	})
}

func (f *fakeTwitch) invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, token)
}

func (f *fakeTwitch) handleValidate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
	if !f.valid[token] {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
		return
	}
	_, _ = w.Write([]byte(`{"client_id":"client-id","expires_in":3600}`))
}

func (f *fakeTwitch) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_ = r.ParseForm()
	grant := r.PostForm.Get("grant_type")
	if grant == "refresh_token" {
		f.refreshes++
	}
	if f.refreshFails {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
		return
	}

	f.tokenSequence++
	token := fmt.Sprintf("fresh-%d", f.tokenSequence)
	f.valid[token] = true

	resp := map[string]any{"access_token": token, "expires_in": 3600, "token_type": "bearer"}
	if grant == "refresh_token" {
		resp["refresh_token"] = "refresh-" + token
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeTwitch) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ok := f.valid[token]
		f.lastClientID = r.Header.Get("Client-Id")
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeTwitch) handleUsers(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(usersResponse{Data: f.users})
}

func (f *fakeTwitch) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		var matching []Subscription
		for _, s := range f.subs {
			if uid := r.URL.Query().Get("user_id"); uid != "" && s.Condition.BroadcasterUserID != uid {
				continue
			}
			if st := r.URL.Query().Get("status"); st != "" && s.Status != st {
				continue
			}
			matching = append(matching, s)
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("after"))
		end := offset + f.pageSize
		if end > len(matching) {
			end = len(matching)
		}
		resp := subscriptionsResponse{Total: len(matching)}
		if offset < len(matching) {
			resp.Data = matching[offset:end]
		}
		if end < len(matching) {
			resp.Pagination.Cursor = strconv.Itoa(end)
		}
		_ = json.NewEncoder(w).Encode(resp)

	case http.MethodPost:
		var req createSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastCreate = req
		if req.Type == f.failCreate {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
			return
		}
		f.nextID++
		sub := Subscription{
			ID:        fmt.Sprintf("sub-%d", f.nextID),
			Status:    StatusWebhookCallbackVerificationPending,
			Type:      req.Type,
			Version:   req.Version,
			Condition: req.Condition,
			Transport: Transport{Method: req.Transport.Method, Callback: req.Transport.Callback},
		}
		f.subs = append(f.subs, sub)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(subscriptionsResponse{Data: []Subscription{sub}, Total: len(f.subs)})

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		for i, s := range f.subs {
			if s.ID == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeTwitch) addSubscription(id, typ, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, Subscription{
		ID:        id,
		Status:    StatusEnabled,
		Type:      typ,
		Condition: Condition{BroadcasterUserID: userID},
	})
}

func (f *fakeTwitch) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// with runs fn under the fake's lock.
func (f *fakeTwitch) with(fn func(f *fakeTwitch)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTwitch) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}
