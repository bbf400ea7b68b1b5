package panel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
	"github.com/firasghr/xrayguard/internal/panel"
)

func newTestClient(t *testing.T) *panel.Client {
	t.Helper()
	log := logger.New(logger.LevelError)
	sink := notify.NewLoggingSink(log)
	return panel.NewClient(&http.Client{}, log, sink, metrics.New())
}

func TestEnsureToken_AlreadyPresent(t *testing.T) {
	c := newTestClient(t)
	session := &model.PanelSession{Token: "existing"}
	if err := c.EnsureToken(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Token != "existing" {
		t.Errorf("token should be unchanged, got %q", session.Token)
	}
}

func TestEnsureToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admins/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	}))
	defer srv.Close()

	c := newTestClient(t)
	session := &model.PanelSession{Username: "admin", Password: "pw", Domain: srv.Listener.Addr().String()}
	// The client tries https first and falls back to http; httptest serves
	// plain http, so the https attempt fails (the server answers the TLS
	// handshake in plain HTTP) and the client falls through to http.
	if err := c.EnsureToken(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Token != "tok-123" {
		t.Errorf("got token %q, want tok-123", session.Token)
	}
}

func TestListHealthyNodes_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/nodes":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "name": "node-a", "address": "10.0.0.1", "port": 62050, "status": "healthy"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	nodes, err := c.ListHealthyNodes(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "node-a" {
		t.Errorf("got %+v, want one node named node-a", nodes)
	}
}

func TestListHealthyNodes_ItemsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/nodes":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": 2, "name": "node-b", "address": "10.0.0.2", "port": 62051, "status": "healthy"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	nodes, err := c.ListHealthyNodes(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "node-b" {
		t.Errorf("got %+v, want one node named node-b", nodes)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	user, err := c.GetUser(context.Background(), session, "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestGetUser_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/users/alice":
			json.NewEncoder(w).Encode(map[string]any{"username": "alice", "service_ids": []int{1, 2}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	user, err := c.GetUser(context.Background(), session, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.Name != "alice" || len(user.ServiceIDs) != 2 {
		t.Errorf("got %+v, want alice with 2 service ids", user)
	}
}

func TestGetUser_401ClearsTokenAndRetries(t *testing.T) {
	var tokenCalls, userCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			tokenCalls++
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/users/bob":
			userCalls++
			if userCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"username": "bob", "service_ids": []int{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	log := logger.New(logger.LevelError)
	sink := notify.NewLoggingSink(log)
	m := metrics.New()
	c := panel.NewClient(&http.Client{}, log, sink, m)
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	start := time.Now()
	user, err := c.GetUser(context.Background(), session, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.Name != "bob" {
		t.Errorf("got %+v, want bob after retry", user)
	}
	if tokenCalls < 2 {
		t.Errorf("expected reauthentication after 401, got %d token calls", tokenCalls)
	}
	if time.Since(start) < time.Second {
		t.Errorf("expected at least the 1s inter-attempt sleep to elapse")
	}
	if _, _, _, _, authFailures, _ := m.Snapshot(); authFailures != 1 {
		t.Errorf("PanelAuthFailures = %d, want 1", authFailures)
	}
}
