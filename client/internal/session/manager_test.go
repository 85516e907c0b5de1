package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"feedsync/client/internal/channel"
	"feedsync/client/internal/gate"
	"feedsync/client/internal/model"
	"feedsync/client/internal/remote"
	"feedsync/client/internal/router"
	"feedsync/client/internal/supervisor"
	"feedsync/client/internal/syncer"
)

// backend 记录每次时间线请求带的 Authorization 头
type backend struct {
	*httptest.Server
	mu    sync.Mutex
	auths []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	accounts := map[string]model.AuthResult{
		"a@example.com": {Token: "tok-a", User: model.UserSummary{ID: "A", Username: "alice"}},
		"b@example.com": {Token: "tok-b", User: model.UserSummary{ID: "B", Username: "bob"}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		res, ok := accounts[req.Email]
		if !ok || req.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("POST /auth/signup", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.AuthResult{Token: "tok-c", User: model.UserSummary{ID: "C", Username: "carol"}})
	})
	mux.HandleFunc("GET /posts/timeline", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		b.mu.Unlock()
		_, _ = w.Write([]byte("[]"))
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *backend) lastAuth() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.auths) == 0 {
		return ""
	}
	return b.auths[len(b.auths)-1]
}

type harness struct {
	backend *backend
	client  *remote.Client
	source  *channel.MemorySource
	gate    *gate.Gate
	manager *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{backend: newBackend(t), source: channel.NewMemorySource()}
	h.client = remote.New(h.backend.URL, "", time.Second)
	sup := supervisor.New(h.source, nil, nil)
	views := syncer.New(h.client, nil, nil)
	r := router.New(views, router.NewRecentLog(router.DefaultRecentCapacity), "", nil, nil)
	h.gate = gate.New(sup, views, r, nil)
	sup.OnNotification(h.gate.HandleNotification)
	h.manager = NewManager(h.client, h.gate, nil)
	t.Cleanup(h.gate.Close)
	return h
}

func TestLoginSwitchesTokenWithIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.manager.Login(ctx, "a@example.com", "pw")
	if err != nil {
		t.Fatalf("login A: %v", err)
	}
	if s.Identity != "A" || h.gate.Current() != "A" {
		t.Fatalf("expected session A, got %q / %q", s.Identity, h.gate.Current())
	}
	if got := h.backend.lastAuth(); got != "Bearer tok-a" {
		t.Fatalf("expected A's initial fetch with tok-a, got %q", got)
	}

	if _, err := h.manager.Login(ctx, "b@example.com", "pw"); err != nil {
		t.Fatalf("login B: %v", err)
	}
	if got := h.backend.lastAuth(); got != "Bearer tok-b" {
		t.Fatalf("expected B's initial fetch with tok-b, got %q", got)
	}
	if h.client.Token() != "tok-b" {
		t.Fatalf("expected client token tok-b, got %q", h.client.Token())
	}
	if got := strings.Join(h.source.Journal(), ","); got != "open:A,close:A,open:B" {
		t.Fatalf("unexpected journal %s", got)
	}
}

func TestFailedLoginKeepsCurrentSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.manager.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login A: %v", err)
	}

	_, err := h.manager.Login(ctx, "b@example.com", "wrong")
	var fe *model.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusUnauthorized {
		t.Fatalf("expected upstream 401, got %v", err)
	}
	if h.gate.Current() != "A" || h.client.Token() != "tok-a" {
		t.Fatalf("expected session A untouched, got %q / %q", h.gate.Current(), h.client.Token())
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Login(context.Background(), "", "pw")
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Field != "email" {
		t.Fatalf("expected email validation error, got %v", err)
	}
}

func TestSignupStartsSession(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Signup(context.Background(), "carol", "c@example.com", "pw")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if s.Identity != "C" || h.gate.Current() != "C" {
		t.Fatalf("expected session C, got %q / %q", s.Identity, h.gate.Current())
	}
	if got := h.backend.lastAuth(); got != "Bearer tok-c" {
		t.Fatalf("expected tok-c, got %q", got)
	}
}

func TestLogoutClearsToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.manager.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login A: %v", err)
	}

	h.manager.Logout(ctx)

	if h.gate.Current() != model.None {
		t.Fatalf("expected no session, got %q", h.gate.Current())
	}
	if h.client.Token() != "" {
		t.Fatalf("expected token cleared, got %q", h.client.Token())
	}
	if h.source.Live() != 0 {
		t.Fatalf("expected no live channel, got %d", h.source.Live())
	}
	if _, err := h.client.Timeline(ctx); !errors.Is(err, remote.ErrNoCredential) {
		t.Fatalf("expected requests rejected locally after logout, got %v", err)
	}
}
