package limit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/firasghr/xrayguard/internal/limit"
	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
	"github.com/firasghr/xrayguard/internal/panel"
)

func newLocalResolver(t *testing.T, defaultLimit int) *limit.LocalResolver {
	t.Helper()
	store, err := limit.NewSQLiteStore(filepath.Join(t.TempDir(), "limits.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return limit.NewLocalResolver(store, defaultLimit)
}

func TestLocalResolver_MissReturnsDefault(t *testing.T) {
	r := newLocalResolver(t, 7)
	got, err := r.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 7 || !got.Resolved {
		t.Errorf("got %+v, want limit 7 resolved", got)
	}
}

func TestLocalResolver_HitReturnsConfiguredEntry(t *testing.T) {
	store, err := limit.NewSQLiteStore(filepath.Join(t.TempDir(), "limits.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	if err := store.Set(context.Background(), "alice", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}

	r := limit.NewLocalResolver(store, 0)
	got, err := r.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 3 {
		t.Errorf("got limit %d, want 3", got.Limit)
	}
}

func newPanelTestClient(t *testing.T, handler http.HandlerFunc) (*panel.Client, *model.PanelSession) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logger.New(logger.LevelError)
	sink := notify.NewLoggingSink(log)
	client := panel.NewClient(&http.Client{}, log, sink, metrics.New())
	session := &model.PanelSession{Username: "a", Password: "b", Domain: srv.Listener.Addr().String()}
	return client, session
}

func TestPanelResolver_MissFetchesAndCaches(t *testing.T) {
	var userCalls int
	client, session := newPanelTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			w.Write([]byte(`{"access_token":"tok"}`))
		case "/api/users/alice":
			userCalls++
			w.Write([]byte(`{"username":"alice","service_ids":[5]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	services := map[int]int{5: 10}
	resolver := limit.NewPanelResolver(client, session, services, time.Minute)

	got, err := resolver.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 10 {
		t.Errorf("got limit %d, want 10", got.Limit)
	}

	got2, err := resolver.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got2.Limit != 10 {
		t.Errorf("cached lookup got limit %d, want 10", got2.Limit)
	}
	if userCalls != 1 {
		t.Errorf("expected exactly one panel user call (second lookup served from cache), got %d", userCalls)
	}
}

func TestPanelResolver_NoMatchingServiceYieldsZero(t *testing.T) {
	client, session := newPanelTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			w.Write([]byte(`{"access_token":"tok"}`))
		case "/api/users/bob":
			w.Write([]byte(`{"username":"bob","service_ids":[99]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	resolver := limit.NewPanelResolver(client, session, map[int]int{5: 10}, time.Minute)
	got, err := resolver.Get(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 0 {
		t.Errorf("got limit %d, want 0 for an unconfigured service", got.Limit)
	}
}

func TestPanelResolver_AbsentUserYieldsZero(t *testing.T) {
	client, session := newPanelTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admins/token":
			w.Write([]byte(`{"access_token":"tok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	resolver := limit.NewPanelResolver(client, session, map[int]int{5: 10}, time.Minute)
	got, err := resolver.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 0 {
		t.Errorf("got limit %d, want 0 for an absent user", got.Limit)
	}
}
