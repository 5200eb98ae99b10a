package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// WebServer provides the HTTP and WebSocket transport: JSON-RPC over /ws,
// a token endpoint, a small REST API, /health and /metrics.
type WebServer struct {
	game     *Game
	httpSrv  *http.Server
	mux      *http.ServeMux
	auth     *AuthService
	rl       *rateLimiter
	upgrader websocket.Upgrader
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWebServer creates a web server bound to the game.
func NewWebServer(game *Game) *WebServer {
	conf := game.Conf
	ws := &WebServer{
		game: game,
		mux:  http.NewServeMux(),
		auth: NewAuthService(game, conf.JWTSecret, conf.JWTExpiry),
		rl:   newRateLimiter(conf.RateLimit),
		stop: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(conf.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range conf.CORSOrigins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
	ws.registerRoutes()
	return ws
}

// Auth returns the auth service.
func (ws *WebServer) Auth() *AuthService {
	return ws.auth
}

// Handler returns the full middleware-wrapped handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.httpSrv.Handler
}

func (ws *WebServer) registerRoutes() {
	handler := http.Handler(ws.mux)
	if ws.game.Conf.RateLimit > 0 {
		handler = rateLimitMiddleware(ws.rl, ws.auth, handler)
	}
	handler = corsMiddleware(ws.game.Conf.CORSOrigins, handler)
	ws.httpSrv = &http.Server{Handler: handler}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)
	ws.RegisterRESTRoutes()
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", ws.game.Metrics.Handler())
}

// ListenAndServe serves on addr until Shutdown.
func (ws *WebServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ws.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (ws *WebServer) Serve(ln net.Listener) error {
	if ws.game.Conf.RateLimit > 0 {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ws.rl.cleanup()
				case <-ws.stop:
					return
				}
			}
		}()
	}
	log.Printf("Web server listening on %s", ln.Addr())
	err := ws.httpSrv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stop) })
	return ws.httpSrv.Shutdown(ctx)
}

// --- WebSocket ---

// wsConn serializes writes to one websocket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsConn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: encoding %T: %v", v, err)
		return
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	wc.conn.WriteMessage(websocket.TextMessage, data)
}

// wsNetConn lets Descriptor.Close close the websocket.
type wsNetConn struct {
	nullConn
	wc *wsConn
}

func (c wsNetConn) Close() error { return c.wc.conn.Close() }

// handleWebSocket upgrades to a JSON-RPC session. A valid ?token= (or
// bearer header) logs the session in immediately.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = bearerToken(r); err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}
	var claims *Claims
	if token != "" {
		var err error
		if claims, err = playerClaims(ws.auth, token); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	remoteAddr := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		remoteAddr = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		remoteAddr = strings.TrimSpace(xri)
	}

	wc := &wsConn{conn: conn}
	now := time.Now()
	d := &Descriptor{
		ID:        ws.game.Conns.NextID(),
		Conn:      wsNetConn{wc: wc},
		State:     ConnLogin,
		Addr:      remoteAddr,
		ConnTime:  now,
		LastCmd:   now,
		Retries:   3,
		Transport: TransportWebSocket,
	}
	s := newRPCSession(ws.game, ws.auth, d, wc.writeJSON)
	s.limit = ws.rl
	ws.game.Conns.Add(d)
	log.Printf("[ws:%d] WebSocket connection from %s", d.ID, d.Addr)

	if claims != nil {
		if p, ok := ws.game.store.GetEntity(claims.PlayerID); ok {
			s.notify("login", map[string]any{"player": p.ID, "name": p.Name})
			ws.game.Connect(d, p)
		}
	} else {
		s.notify("welcome", map[string]any{"text": "Connected. Call login to authenticate."})
	}

	go ws.readLoop(s, wc)
}

func (ws *WebServer) readLoop(s *rpcSession, wc *wsConn) {
	d := s.d
	defer func() {
		ws.game.Disconnect(d)
		log.Printf("[ws:%d] WebSocket closed from %s", d.ID, d.Addr)
	}()

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws:%d] read error: %v", d.ID, err)
			}
			return
		}
		d.LastCmd = time.Now()
		if resp := s.Handle(context.Background(), data); resp != nil {
			wc.writeJSON(resp)
		}
		if d.IsClosed() {
			return
		}
	}
}

// --- Auth HTTP Handlers ---

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := ws.auth.Login(req.Name, req.Password)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	old, err := bearerToken(r)
	if err != nil || old == "" {
		writeJSONError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	if _, err := playerClaims(ws.auth, old); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	token, err := ws.auth.RefreshToken(old)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": ws.game.Uptime().Seconds(),
		"entities":       len(ws.game.store.ListEntities()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
