package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

type ctxKey int

const claimsKey ctxKey = iota

var errBadAuthHeader = errors.New("invalid authorization header")

// ClaimsFromContext returns the claims authMiddleware attached to ctx, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// writeJSONError writes {"error": msg} with status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// bearerToken returns the token of an "Authorization: Bearer" header. It
// returns "" with no error when the header is absent.
func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(h, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}

// playerClaims validates token and checks that it still names a player in
// the world. Tokens outlive @destroy, so the signature alone is not enough.
func playerClaims(auth *AuthService, token string) (*Claims, error) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	p, ok := auth.game.store.GetEntity(claims.PlayerID)
	if !ok || p.Kind != gamedb.KindPlayer {
		return nil, fmt.Errorf("auth: player %s no longer exists", claims.PlayerID)
	}
	return claims, nil
}

// authMiddleware attaches the caller's claims to the request context. With
// required set, requests without a valid token get 401; otherwise they pass
// through anonymously. A malformed or invalid token is always a 401.
func authMiddleware(auth *AuthService, required bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if token == "" {
			if required {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		claims, err := playerClaims(auth, token)
		if err != nil {
			debugf(debugAuth, "auth: %s %s: %v", r.Method, r.URL.Path, err)
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// corsMiddleware answers preflights and sets CORS headers for listed
// origins. An empty list allows any origin. Preflights from other origins
// are refused with 403.
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[strings.ToLower(o)] = true
	}
	allowed := func(origin string) bool {
		return len(originSet) == 0 || originSet[strings.ToLower(origin)]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Add("Vary", "Origin")
		}
		ok := origin != "" && allowed(origin)
		if ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !ok {
				writeJSONError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter counts requests per client in fixed windows. Clients are
// players when the request carries a valid token and remote IPs otherwise,
// so a player's HTTP requests and websocket invocations share one budget.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type rateBucket struct {
	count  int
	expiry time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*rateBucket),
		limit:   requestsPerMinute,
		window:  time.Minute,
		now:     time.Now,
	}
}

// allow counts one request for key. When the budget is spent it reports
// false and how long until the window resets.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	if rl == nil || rl.limit <= 0 {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.expiry) {
		rl.buckets[key] = &rateBucket{count: 1, expiry: now.Add(rl.window)}
		return true, 0
	}
	b.count++
	if b.count > rl.limit {
		return false, b.expiry.Sub(now)
	}
	return true, 0
}

// cleanup drops expired buckets.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if !now.Before(b.expiry) {
			delete(rl.buckets, key)
		}
	}
}

func playerKey(id string) string { return "player:" + id }

// clientKey names the rate-limit bucket for r: the token's player if the
// request carries a valid one, else the remote IP.
func clientKey(auth *AuthService, r *http.Request) string {
	token, _ := bearerToken(r)
	if token == "" && r.URL.Path == "/ws" {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		if claims, err := auth.ValidateToken(token); err == nil {
			return playerKey(claims.PlayerID)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// rateLimitMiddleware rejects requests over the client's budget with 429
// and a Retry-After header. /health and /metrics are never limited.
func rateLimitMiddleware(rl *rateLimiter, auth *AuthService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(auth, r)
		if ok, retry := rl.allow(key); !ok {
			secs := int(retry.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			debugf(debugAuth, "ratelimit: %s %s %s", key, r.Method, r.URL.Path)
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
