package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/servihub/chatd/internal/bus"
	"github.com/servihub/chatd/internal/store"
	"github.com/servihub/chatd/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeCounterStore struct{}

func (fakeCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 1, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address: ":0",
			Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
			ConnectionLimit: config.ConnectionLimitConfig{
				MaxPerUser: 5,
				Mode:       "reject",
			},
		},
		Transport: config.TransportConfig{ReadTimeout: 5 * time.Second},
		RateLimit: config.RateLimitConfig{Window: 5 * time.Second, MaxEvents: 20},
	}
}

func newTestApp(t *testing.T) (*App, *httptest.Server, store.Store) {
	t.Helper()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), newTestLogger())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	app := NewApp(newTestLogger(), context.Background(), testConfig(), st, bus.NewMemoryHub().Attach(), fakeCounterStore{})
	srv := httptest.NewServer(app.http.Handler)
	t.Cleanup(srv.Close)
	return app, srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	_, srv, _ := newTestApp(t)

	resp := postJSON(t, srv.URL+"/register", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var registered struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	decodeJSON(t, resp, &registered)
	if registered.ID == "" || registered.Email != "ada@example.com" {
		t.Errorf("register response %+v", registered)
	}

	// Duplicate email is rejected.
	resp = postJSON(t, srv.URL+"/register", map[string]string{
		"name": "Ada2", "email": "ada@example.com", "password": "x",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/login", map[string]string{
		"email": "ada@example.com", "password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var login struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeJSON(t, resp, &login)
	if login.Token == "" || login.User.ID != registered.ID {
		t.Errorf("login response %+v", login)
	}

	resp = postJSON(t, srv.URL+"/login", map[string]string{
		"email": "ada@example.com", "password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", resp.StatusCode)
	}
}

func TestConversationRoutes(t *testing.T) {
	_, srv, _ := newTestApp(t)

	resp := postJSON(t, srv.URL+"/conversations", map[string]string{
		"customerId": "cust-1", "businessId": "biz-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation status = %d", resp.StatusCode)
	}
	var conv store.Conversation
	decodeJSON(t, resp, &conv)
	if conv.ID == "" || conv.BusinessID != "biz-1" {
		t.Errorf("conversation response %+v", conv)
	}

	// Same pair resolves to the same conversation.
	resp = postJSON(t, srv.URL+"/conversations", map[string]string{
		"customerId": "cust-1", "businessId": "biz-1",
	})
	var again store.Conversation
	decodeJSON(t, resp, &again)
	if again.ID != conv.ID {
		t.Errorf("expected the same conversation, got %s and %s", conv.ID, again.ID)
	}

	httpResp, err := http.Get(srv.URL + "/conversations?userId=cust-1")
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	var convs []store.Conversation
	decodeJSON(t, httpResp, &convs)
	if len(convs) != 1 {
		t.Errorf("listed %d conversations, want 1", len(convs))
	}

	httpResp, err = http.Get(srv.URL + "/conversations/" + conv.ID + "/messages")
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	var msgs []store.Message
	decodeJSON(t, httpResp, &msgs)
	if len(msgs) != 0 {
		t.Errorf("new conversation should have no messages, got %d", len(msgs))
	}
}
