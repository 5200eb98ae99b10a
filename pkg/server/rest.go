package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// RegisterRESTRoutes registers the REST API endpoints on the web server's mux.
func (ws *WebServer) RegisterRESTRoutes() {
	ws.mux.Handle("GET /api/v1/who",
		authMiddleware(ws.auth, false, http.HandlerFunc(ws.handleWho)))
	ws.mux.HandleFunc("GET /api/v1/opcodes", ws.handleOpcodes)
	ws.mux.Handle("POST /api/v1/command",
		authMiddleware(ws.auth, true, http.HandlerFunc(ws.handleCommand)))
	ws.mux.Handle("GET /api/v1/entities/{id}",
		authMiddleware(ws.auth, true, http.HandlerFunc(ws.handleGetEntity)))
}

func (ws *WebServer) handleWho(w http.ResponseWriter, r *http.Request) {
	type whoEntry struct {
		Name      string `json:"name"`
		ID        string `json:"id"`
		OnFor     string `json:"on_for"`
		Idle      string `json:"idle"`
		Transport string `json:"transport"`
	}
	now := time.Now()
	entries := []whoEntry{}
	for _, dd := range ws.game.Conns.AllDescriptors() {
		if dd.State != ConnConnected {
			continue
		}
		entries = append(entries, whoEntry{
			Name:      ws.game.Name(dd.Player),
			ID:        dd.Player,
			OnFor:     FormatConnTime(now.Sub(dd.ConnTime)),
			Idle:      FormatIdleTime(now.Sub(dd.LastCmd)),
			Transport: dd.Transport.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	writeJSON(w, map[string]any{"players": entries, "count": len(entries)})
}

func (ws *WebServer) handleOpcodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"opcodes": ws.game.Registry.Opcodes()})
}

// handleCommand runs one command line as the token's player and returns
// the lines the command replied with.
func (ws *WebServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		writeJSONError(w, http.StatusBadRequest, "command is required")
		return
	}
	if _, ok := ws.game.store.GetEntity(claims.PlayerID); !ok {
		writeJSONError(w, http.StatusUnauthorized, "player not found")
		return
	}

	output := []string{}
	d := &Descriptor{
		ID:        -1,
		Conn:      nullConn{},
		State:     ConnConnected,
		Player:    claims.PlayerID,
		Addr:      r.RemoteAddr,
		ConnTime:  time.Now(),
		LastCmd:   time.Now(),
		Transport: TransportWebSocket,
	}
	d.SendFunc = func(msg string) { output = append(output, msg) }

	DispatchCommand(ws.game, d, req.Command)
	writeJSON(w, map[string]any{"output": output})
}

func (ws *WebServer) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	view, ok := ws.game.EntityView(claims.PlayerID, r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, view)
}
