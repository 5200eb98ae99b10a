package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestCORSPreflight(t *testing.T) {
	h := corsMiddleware([]string{"https://play.example.org"}, okHandler)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/command", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://PLAY.example.org")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("allowed preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://PLAY.example.org" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Allow-Headers = %q", got)
	}

	rec = preflight("https://evil.example.com")
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign Allow-Origin = %q", got)
	}
	if got := errorBody(t, rec); got != "origin not allowed" {
		t.Errorf("error = %q", got)
	}

	// Simple requests from other origins reach the handler without CORS headers.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("simple foreign request = %d %v", rec.Code, rec.Header())
	}
}

func TestCORSAnyOrigin(t *testing.T) {
	h := corsMiddleware(nil, okHandler)
	req := httptest.NewRequest(http.MethodOptions, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.game, env.game.Conf.JWTSecret, env.game.Conf.JWTExpiry)
	bobID := env.bob.Player
	token, err := auth.Issue(bobID, "Bob")
	if err != nil {
		t.Fatal(err)
	}

	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	serve := func(required bool, header string) *httptest.ResponseRecorder {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		authMiddleware(auth, required, next).ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		header string
		want   string
	}{
		{"", "authorization required"},
		{"Basic Ym9iOmJvYnBhc3M=", "invalid authorization header"},
		{"Bearer", "invalid authorization header"},
		{"Bearer garbage", "invalid token"},
	}
	for _, tt := range tests {
		rec := serve(true, tt.header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status %d", tt.header, rec.Code)
			continue
		}
		if got := errorBody(t, rec); got != tt.want {
			t.Errorf("%q: error %q, want %q", tt.header, got, tt.want)
		}
	}

	if rec := serve(true, "bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d %s", rec.Code, rec.Body)
	}
	if seen == nil || seen.PlayerID != bobID || seen.PlayerName != "Bob" {
		t.Errorf("claims = %+v", seen)
	}

	if rec := serve(false, ""); rec.Code != http.StatusOK || seen != nil {
		t.Errorf("anonymous optional: %d claims=%v", rec.Code, seen)
	}
	if rec := serve(false, "Bearer garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token on optional route: %d", rec.Code)
	}

	if err := env.db.DeleteEntity(bobID); err != nil {
		t.Fatal(err)
	}
	if rec := serve(true, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Errorf("token for destroyed player: %d", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.allow("ip:10.0.0.1"); !ok {
			t.Fatalf("request %d refused", i+1)
		}
	}
	ok, retry := rl.allow("ip:10.0.0.1")
	if ok || retry != time.Minute {
		t.Errorf("third request = %v retry %s", ok, retry)
	}
	if ok, _ := rl.allow("ip:10.0.0.2"); !ok {
		t.Error("other client refused")
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.allow("ip:10.0.0.1"); !ok {
		t.Error("refused after window reset")
	}
	rl.cleanup()
	if _, ok := rl.buckets["ip:10.0.0.2"]; ok {
		t.Error("expired bucket kept")
	}

	var unlimited *rateLimiter
	if ok, _ := unlimited.allow("x"); !ok {
		t.Error("nil limiter refused")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.game, env.game.Conf.JWTSecret, env.game.Conf.JWTExpiry)
	token, err := auth.Issue(env.bob.Player, "Bob")
	if err != nil {
		t.Fatal(err)
	}
	rl := newRateLimiter(2)
	h := rateLimitMiddleware(rl, auth, okHandler)

	serve := func(path, remote, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	serve("/api/v1/entities/x", "10.0.0.1:4000", "")
	serve("/api/v1/entities/x", "10.0.0.1:4001", "")
	rec := serve("/api/v1/entities/x", "10.0.0.1:4002", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request from one IP = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("no Retry-After header")
	}
	if got := errorBody(t, rec); got != "rate limit exceeded" {
		t.Errorf("error = %q", got)
	}
	if rec := serve("/health", "10.0.0.1:4003", ""); rec.Code != http.StatusOK {
		t.Errorf("/health limited: %d", rec.Code)
	}
	if rec := serve("/api/v1/entities/x", "10.0.0.9:4000", ""); rec.Code != http.StatusOK {
		t.Errorf("other IP limited: %d", rec.Code)
	}

	// One player's budget follows the token across addresses.
	serve("/api/v1/entities/x", "10.0.1.1:4000", token)
	serve("/api/v1/entities/x", "10.0.1.2:4000", token)
	if rec := serve("/ws?token="+token, "10.0.1.3:4000", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("player over budget on /ws = %d", rec.Code)
	}
}

func TestRPCRateLimit(t *testing.T) {
	env := newTestEnv(t)
	c := newRPCClient(t, env)
	c.s.limit = newRateLimiter(1)
	c.login(t, "Bob", "bobpass")

	if resp := c.call(t, "command", map[string]any{"line": "eval 1"}); resp.Error != nil {
		t.Fatalf("first command: %+v", resp.Error)
	}
	wantCode(t, c.call(t, "command", map[string]any{"line": "eval 2"}), CodeRateLimited)
	wantCode(t, c.call(t, "invoke", map[string]any{"entity": "x", "verb": "y"}), CodeRateLimited)
}
