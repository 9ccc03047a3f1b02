package adapthttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	adapthttp "chatservice/internal/adapter/http"
	"chatservice/internal/adapter/memory"
	"chatservice/internal/app"
	"chatservice/internal/auth"
	"chatservice/internal/cache"
	"chatservice/internal/ratelimit"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type testEnv struct {
	ts *httptest.Server
	db *memory.DB
}

type limits struct{ login, send int }

func newTestServer(t *testing.T, l limits, oidcCfg *adapthttp.OIDCConfig) *testEnv {
	t.Helper()
	if l.login == 0 {
		l.login = 5
	}
	if l.send == 0 {
		l.send = 30
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	kv := memory.NewKV()

	tokens, err := auth.NewTokens([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := app.NewAuthService(db, tokens, ratelimit.New(kv, "login", l.login), log)
	msgSvc := app.NewMessageService(db.NewMessageRepo(), db, cache.New(kv), ratelimit.New(kv, "send", l.send), log)

	srv := adapthttp.New(authSvc, msgSvc, log)
	if oidcCfg != nil {
		srv = srv.WithOIDC(*oidcCfg)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// register creates a user and returns its id and an access token.
func (e *testEnv) register(t *testing.T, username string) (int64, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/register", "", map[string]any{
		"username": username, "email": username + "@example.com", "password": "12345678",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d", username, resp.StatusCode)
	}
	id := int64(decodeBody(t, resp)["id"].(float64))

	resp = e.do(t, http.MethodPost, "/login", "", map[string]any{"username": username, "password": "12345678"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", username, resp.StatusCode)
	}
	return id, decodeBody(t, resp)["access_token"].(string)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusFound {
		return nil
	}
	return decodeBody(t, resp)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	body := expectStatus(t, env.do(t, http.MethodGet, "/health", "", nil), http.StatusOK)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
}

func TestRegister(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	body := expectStatus(t, env.do(t, http.MethodPost, "/register", "", map[string]any{
		"username": "alice", "email": "alice@example.com", "password": "12345678",
	}), http.StatusCreated)
	for _, k := range []string{"id", "username", "email", "created_at", "last_active"} {
		if _, ok := body[k]; !ok {
			t.Errorf("response missing %q", k)
		}
	}
	if _, ok := body["password_hash"]; ok {
		t.Error("response must not expose the password hash")
	}

	tests := []struct {
		name       string
		payload    map[string]any
		wantStatus int
		wantError  string
	}{
		{
			name:       "duplicate username",
			payload:    map[string]any{"username": "alice", "email": "other@example.com", "password": "12345678"},
			wantStatus: http.StatusConflict,
			wantError:  "username already exists",
		},
		{
			name:       "duplicate email",
			payload:    map[string]any{"username": "alice2", "email": "alice@example.com", "password": "12345678"},
			wantStatus: http.StatusConflict,
			wantError:  "email already exists",
		},
		{
			name:       "short username",
			payload:    map[string]any{"username": "al", "email": "al@example.com", "password": "12345678"},
			wantStatus: http.StatusBadRequest,
			wantError:  "username must be at least 3 characters",
		},
		{
			name:       "invalid email",
			payload:    map[string]any{"username": "bob", "email": "not-an-email", "password": "12345678"},
			wantStatus: http.StatusBadRequest,
			wantError:  "email must be a valid email address",
		},
		{
			name:       "short password",
			payload:    map[string]any{"username": "bob", "email": "bob@example.com", "password": "1234567"},
			wantStatus: http.StatusBadRequest,
			wantError:  "password must be at least 8 characters",
		},
		{
			name:       "long password",
			payload:    map[string]any{"username": "bob", "email": "bob@example.com", "password": strings.Repeat("x", 129)},
			wantStatus: http.StatusBadRequest,
			wantError:  "password must be at most 128 characters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := expectStatus(t, env.do(t, http.MethodPost, "/register", "", tt.payload), tt.wantStatus)
			if body["error"] != tt.wantError {
				t.Errorf("expected error %q, got %v", tt.wantError, body["error"])
			}
		})
	}
}

func TestRegister_MethodAndBody(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	expectStatus(t, env.do(t, http.MethodGet, "/register", "", nil), http.StatusMethodNotAllowed)

	resp, err := http.Post(env.ts.URL+"/register", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestLogin(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	env.register(t, "charlie") // uses one login attempt

	body := expectStatus(t, env.do(t, http.MethodPost, "/login", "", map[string]any{
		"username": "charlie", "password": "12345678",
	}), http.StatusOK)
	if body["token_type"] != "bearer" {
		t.Errorf("expected token_type bearer, got %v", body["token_type"])
	}
	if body["access_token"] == "" || body["expires_in"] != float64(3600) {
		t.Errorf("unexpected token response %v", body)
	}

	body = expectStatus(t, env.do(t, http.MethodPost, "/login", "", map[string]any{
		"username": "ghost", "password": "nope",
	}), http.StatusUnauthorized)
	if body["error"] != "invalid credentials" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestServer(t, limits{login: 5}, nil)

	for i := 0; i < 5; i++ {
		expectStatus(t, env.do(t, http.MethodPost, "/login", "", map[string]any{
			"username": "ghost", "password": "nope",
		}), http.StatusUnauthorized)
	}
	body := expectStatus(t, env.do(t, http.MethodPost, "/login", "", map[string]any{
		"username": "ghost", "password": "nope",
	}), http.StatusTooManyRequests)
	if body["error"] != "too many login attempts, try later" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestSend_RequiresAuth(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	body := expectStatus(t, env.do(t, http.MethodPost, "/send", "", map[string]any{
		"recipient_id": 1, "content": "hi",
	}), http.StatusUnauthorized)
	if body["error"] != "not authenticated" {
		t.Errorf("unexpected error %v", body["error"])
	}

	body = expectStatus(t, env.do(t, http.MethodPost, "/send", "garbage", map[string]any{
		"recipient_id": 1, "content": "hi",
	}), http.StatusUnauthorized)
	if body["error"] != "invalid token" {
		t.Errorf("unexpected error %v", body["error"])
	}

	expectStatus(t, env.do(t, http.MethodGet, "/messages?peer_id=1", "", nil), http.StatusUnauthorized)
}

func TestSend(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	aliceID, token := env.register(t, "alice")
	bobID, _ := env.register(t, "bobby")

	body := expectStatus(t, env.do(t, http.MethodPost, "/send", token, map[string]any{
		"recipient_id": bobID, "content": "hello",
	}), http.StatusOK)
	if body["content"] != "hello" || int64(body["sender_id"].(float64)) != aliceID || int64(body["recipient_id"].(float64)) != bobID {
		t.Errorf("unexpected message %v", body)
	}

	body = expectStatus(t, env.do(t, http.MethodPost, "/send", token, map[string]any{
		"recipient_id": 9999, "content": "hello",
	}), http.StatusNotFound)
	if body["error"] != "recipient not found" {
		t.Errorf("unexpected error %v", body["error"])
	}

	for _, content := range []string{"", strings.Repeat("x", 2001)} {
		expectStatus(t, env.do(t, http.MethodPost, "/send", token, map[string]any{
			"recipient_id": bobID, "content": content,
		}), http.StatusBadRequest)
	}
}

func TestSend_RecordsActivity(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	aliceID, token := env.register(t, "alice")
	bobID, _ := env.register(t, "bobby")

	before, _ := env.db.GetByID(context.Background(), aliceID)
	time.Sleep(5 * time.Millisecond)
	expectStatus(t, env.do(t, http.MethodPost, "/send", token, map[string]any{
		"recipient_id": bobID, "content": "hello",
	}), http.StatusOK)

	after, _ := env.db.GetByID(context.Background(), aliceID)
	if !after.LastActive.After(before.LastActive) {
		t.Errorf("expected last_active to advance, before=%v after=%v", before.LastActive, after.LastActive)
	}
}

func TestSend_RateLimited(t *testing.T) {
	env := newTestServer(t, limits{send: 2}, nil)
	_, token := env.register(t, "alice")
	bobID, _ := env.register(t, "bobby")

	send := func() *http.Response {
		return env.do(t, http.MethodPost, "/send", token, map[string]any{"recipient_id": bobID, "content": "x"})
	}
	expectStatus(t, send(), http.StatusOK)
	expectStatus(t, send(), http.StatusOK)
	body := expectStatus(t, send(), http.StatusTooManyRequests)
	if body["error"] != "rate limit exceeded" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestMessages_FetchAndCache(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	aliceID, tokenA := env.register(t, "frank")
	bobID, tokenB := env.register(t, "gina")

	for _, c := range []string{"m0", "m1", "m2"} {
		expectStatus(t, env.do(t, http.MethodPost, "/send", tokenA, map[string]any{
			"recipient_id": bobID, "content": c,
		}), http.StatusOK)
	}

	path := "/messages?peer_id=" + itoa(bobID) + "&limit=5&offset=0"
	first := expectStatus(t, env.do(t, http.MethodGet, path, tokenA, nil), http.StatusOK)
	msgs := first["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].(map[string]any)["content"] != "m2" {
		t.Errorf("expected newest first, got %v", msgs[0])
	}
	if first["limit"] != float64(5) || first["offset"] != float64(0) {
		t.Errorf("unexpected window %v/%v", first["limit"], first["offset"])
	}

	second := expectStatus(t, env.do(t, http.MethodGet, path, tokenA, nil), http.StatusOK)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("repeated fetch differs:\n%s\n%s", a, b)
	}

	// The peer sees the same conversation.
	peer := expectStatus(t, env.do(t, http.MethodGet, "/messages?peer_id="+itoa(aliceID), tokenB, nil), http.StatusOK)
	if len(peer["messages"].([]any)) != 3 {
		t.Errorf("expected 3 messages for the peer, got %v", peer["messages"])
	}

	// Later pages come from the store and carry a total.
	page := expectStatus(t, env.do(t, http.MethodGet, "/messages?peer_id="+itoa(bobID)+"&limit=2&offset=1", tokenA, nil), http.StatusOK)
	if page["total"] != float64(3) {
		t.Errorf("expected total 3, got %v", page["total"])
	}
	got := page["messages"].([]any)
	if len(got) != 2 || got[0].(map[string]any)["content"] != "m1" {
		t.Errorf("unexpected offset page %v", got)
	}
}

func TestMessages_EmptyConversationFromStore(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	_, token := env.register(t, "alice")
	bobID, _ := env.register(t, "bobby")

	body := expectStatus(t, env.do(t, http.MethodGet, "/messages?peer_id="+itoa(bobID), token, nil), http.StatusOK)
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) != 0 {
		t.Errorf("expected an empty list, got %v", body["messages"])
	}
	if body["total"] != float64(0) {
		t.Errorf("expected total 0 on a store read, got %v", body["total"])
	}
	if body["limit"] != float64(5) {
		t.Errorf("expected default limit 5, got %v", body["limit"])
	}
}

func TestMessages_Validation(t *testing.T) {
	env := newTestServer(t, limits{}, nil)
	_, token := env.register(t, "alice")

	for _, q := range []string{
		"",
		"?peer_id=abc",
		"?peer_id=2&limit=0",
		"?peer_id=2&limit=101",
		"?peer_id=2&limit=x",
		"?peer_id=2&offset=-1",
	} {
		t.Run(q, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodGet, "/messages"+q, token, nil), http.StatusBadRequest)
		})
	}
}

func TestRequestID(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}

	resp2 := env.do(t, http.MethodGet, "/health", "", nil)
	if _, err := uuid.Parse(resp2.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("expected a generated uuid, got %q", resp2.Header.Get("X-Request-ID"))
	}
}

func TestCORS(t *testing.T) {
	env := newTestServer(t, limits{}, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/send", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	expectStatus(t, resp, http.StatusNoContent)
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected allow-origin %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp.Header.Get("Access-Control-Allow-Headers") != "authorization,content-type" {
		t.Errorf("unexpected allow-headers %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}

	plain := env.do(t, http.MethodGet, "/health", "", nil)
	if plain.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected allow-origin on simple requests")
	}
}

func TestSSO(t *testing.T) {
	disabled := newTestServer(t, limits{}, nil)
	expectStatus(t, disabled.do(t, http.MethodGet, "/sso/login", "", nil), http.StatusNotFound)
	expectStatus(t, disabled.do(t, http.MethodGet, "/sso/callback", "", nil), http.StatusNotFound)

	env := newTestServer(t, limits{}, &adapthttp.OIDCConfig{
		Enabled: true,
		OAuth2Config: &oauth2.Config{
			ClientID:    "chat",
			RedirectURL: "http://localhost/sso/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: "https://idp.example.com/auth", TokenURL: "https://idp.example.com/token"},
		},
	})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(env.ts.URL + "/sso/login")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck
	expectStatus(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://idp.example.com/auth?") || !strings.Contains(loc, "state=") {
		t.Errorf("unexpected redirect %q", loc)
	}
	var state *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "oauth_state" {
			state = c
		}
	}
	if state == nil || state.Value == "" {
		t.Fatal("expected an oauth_state cookie")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/sso/callback?state=wrong&code=x", nil)
	req.AddCookie(state)
	resp2, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close() //nolint:errcheck
	body := expectStatus(t, resp2, http.StatusBadRequest)
	if body["error"] != "invalid state" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
