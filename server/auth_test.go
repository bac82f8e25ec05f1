package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newAuthedServer(t *testing.T) (*Server, *MemoryAuthStore) {
	t.Helper()
	auth := NewMemoryAuthStore()
	srv := NewServer(ServerConfig{
		Invoker:     &fakeInvoker{},
		Credentials: NewMemoryCredentialStore(),
		Runs:        NewMemoryRunStore(),
		Schedules:   NewMemoryScheduleStore(),
		Auth:        auth,
	})
	return srv, auth
}

func doAuthedRequest(t *testing.T, srv *Server, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func registerTestUser(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doAuthedRequest(t, srv, "", http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "ops@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[SessionResponse](t, rec)
	if resp.Token == "" {
		t.Fatal("register returned an empty session token")
	}
	return resp.Token
}

func TestAuthRegisterAndLogin(t *testing.T) {
	srv, _ := newAuthedServer(t)
	registerTestUser(t, srv)

	dup := doAuthedRequest(t, srv, "", http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "OPS@example.com",
		"password": "another pass",
	})
	if dup.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", dup.Code)
	}

	wrong := doAuthedRequest(t, srv, "", http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "ops@example.com",
		"password": "wrong horse",
	})
	if wrong.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", wrong.Code)
	}

	login := doAuthedRequest(t, srv, "", http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "ops@example.com",
		"password": "correct horse",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", login.Code, login.Body.String())
	}
	resp := decodeBody[SessionResponse](t, login)
	if resp.Token == "" {
		t.Error("login returned an empty session token")
	}
	if resp.User.Email != "ops@example.com" {
		t.Errorf("login user email = %q", resp.User.Email)
	}
}

func TestAuthRegister_RejectsShortPassword(t *testing.T) {
	srv, _ := newAuthedServer(t)

	rec := doAuthedRequest(t, srv, "", http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "ops@example.com",
		"password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthMeAndLogout(t *testing.T) {
	srv, _ := newAuthedServer(t)
	token := registerTestUser(t, srv)

	me := doAuthedRequest(t, srv, token, http.MethodGet, "/api/auth/me", nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", me.Code, me.Body.String())
	}
	user := decodeBody[UserResponse](t, me)
	if user.Email != "ops@example.com" {
		t.Errorf("me email = %q", user.Email)
	}

	logout := doAuthedRequest(t, srv, token, http.MethodPost, "/api/auth/logout", nil)
	if logout.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", logout.Code)
	}

	after := doAuthedRequest(t, srv, token, http.MethodGet, "/api/auth/me", nil)
	if after.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", after.Code)
	}
}

func TestCredentialRoutesRequireSession(t *testing.T) {
	srv, _ := newAuthedServer(t)

	open := doAuthedRequest(t, srv, "", http.MethodPost, "/api/credentials", map[string]any{
		"provider": "spider",
		"name":     "prod key",
		"api_key":  "sk-secret",
	})
	if open.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create status = %d, want 401", open.Code)
	}
	if !strings.Contains(open.Body.String(), "UNAUTHORIZED") {
		t.Errorf("body = %s, want UNAUTHORIZED envelope", open.Body.String())
	}

	list := doAuthedRequest(t, srv, "", http.MethodGet, "/api/schedules", nil)
	if list.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated schedule list status = %d, want 401", list.Code)
	}

	token := registerTestUser(t, srv)
	created := doAuthedRequest(t, srv, token, http.MethodPost, "/api/credentials", map[string]any{
		"provider": "spider",
		"name":     "prod key",
		"api_key":  "sk-secret",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("authenticated create status = %d, body = %s", created.Code, created.Body.String())
	}

	// Discovery stays open; only credential-bearing routes are gated.
	providers := doAuthedRequest(t, srv, "", http.MethodGet, "/api/providers", nil)
	if providers.Code != http.StatusOK {
		t.Errorf("provider discovery status = %d, want 200", providers.Code)
	}
}

func TestRequireSession_ExpiredSession(t *testing.T) {
	srv, auth := newAuthedServer(t)

	if err := auth.CreateSession(context.Background(), SessionRecord{
		ID:        "sess-old",
		UserID:    "user-1",
		Token:     "stale-token",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	rec := doAuthedRequest(t, srv, "stale-token", http.MethodGet, "/api/credentials", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SESSION_EXPIRED") {
		t.Errorf("body = %s, want SESSION_EXPIRED", rec.Body.String())
	}
}
