package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// JSON-RPC 2.0 error codes. The -320xx range is ours.
const (
	CodeScriptFault    = -32000
	CodeCompileError   = -32001
	CodeAuthRequired   = -32002
	CodeRateLimited    = -32003
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCRequest is an incoming JSON-RPC 2.0 call. A request without an id is
// a notification and gets no response.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse answers one request.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCNotification is a server push: game events and session output.
type RPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func rpcErr(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// rpcErrorFor maps a handler error to its wire form. Script faults keep
// their message; anything unclassified is logged and reported only by
// incident id.
func rpcErrorFor(method string, err error) *RPCError {
	var (
		re *RPCError
		se *compiler.SyntaxError
		ue *compiler.UnsupportedConstructError
		ie *eval.InternalError
		de *tree.DecodeError
	)
	switch {
	case errors.As(err, &re):
		return re
	case errors.As(err, &se):
		return &RPCError{Code: CodeCompileError, Message: se.Error(),
			Data: map[string]any{"line": se.Pos.Line, "col": se.Pos.Col}}
	case errors.As(err, &ue):
		return &RPCError{Code: CodeCompileError, Message: ue.Error(),
			Data: map[string]any{"line": ue.Pos.Line, "col": ue.Pos.Col, "construct": ue.Construct}}
	case errors.As(err, &de):
		return &RPCError{Code: CodeInvalidParams, Message: de.Error()}
	case errors.As(err, &ie):
		return &RPCError{Code: CodeInternalError, Message: "internal error",
			Data: map[string]any{"incident": ie.Incident}}
	case eval.IsScriptFault(err):
		return &RPCError{Code: CodeScriptFault, Message: err.Error()}
	}
	incident := uuid.NewString()
	log.Printf("rpc: %s: incident %s: %v", method, incident, err)
	return &RPCError{Code: CodeInternalError, Message: "internal error",
		Data: map[string]any{"incident": incident}}
}

// rpcHandler implements one method. params is the raw params member.
type rpcHandler func(ctx context.Context, s *rpcSession, params json.RawMessage) (any, error)

type rpcMethod struct {
	handler   rpcHandler
	needLogin bool
	metered   bool // counts against the player's rate limit
}

var rpcMethods = map[string]rpcMethod{
	"login":        {handler: rpcLogin},
	"compile":      {handler: rpcCompile},
	"decompile":    {handler: rpcDecompile},
	"opcodes.list": {handler: rpcOpcodes},
	"command":      {handler: rpcCommand, needLogin: true, metered: true},
	"invoke":       {handler: rpcInvoke, needLogin: true, metered: true},
	"entity.get":   {handler: rpcEntityGet, needLogin: true},
}

// rpcSession is one websocket client. Lines a command sends directly to the
// session are captured into its response; everything else, including bus
// events, is pushed as a notification.
type rpcSession struct {
	game *Game
	auth *AuthService
	d    *Descriptor
	push func(msg any)

	// limit is shared with the HTTP middleware; nil means unlimited.
	limit *rateLimiter

	mu      sync.Mutex
	capture *[]string
}

func newRPCSession(game *Game, auth *AuthService, d *Descriptor, push func(msg any)) *rpcSession {
	s := &rpcSession{game: game, auth: auth, d: d, push: push}
	d.SendFunc = s.sendText
	d.ReceiveFunc = s.receive
	return s
}

func (s *rpcSession) sendText(msg string) {
	s.mu.Lock()
	if s.capture != nil {
		*s.capture = append(*s.capture, msg)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify("text", map[string]any{"text": msg})
}

func (s *rpcSession) receive(ev events.Event) {
	s.notify(ev.Type.String(), ev)
}

func (s *rpcSession) notify(method string, params any) {
	s.push(RPCNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// Handle decodes and runs one message, returning the response to write or
// nil for notifications.
func (s *rpcSession) Handle(ctx context.Context, data []byte) *RPCResponse {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &RPCResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: rpcErr(CodeParseError, "parse error")}
	}
	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := &RPCResponse{JSONRPC: "2.0", ID: id}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = rpcErr(CodeInvalidRequest, "invalid request")
		return resp
	}

	result, err := s.call(ctx, req.Method, req.Params)
	if len(req.ID) == 0 {
		return nil
	}
	if err != nil {
		resp.Error = rpcErrorFor(req.Method, err)
		return resp
	}
	if result == nil {
		result = map[string]any{}
	}
	resp.Result = result
	return resp
}

func (s *rpcSession) call(ctx context.Context, method string, params json.RawMessage) (result any, err error) {
	m, ok := rpcMethods[method]
	if !ok {
		return nil, rpcErr(CodeMethodNotFound, "method not found: %s", method)
	}
	if m.needLogin && s.d.State != ConnConnected {
		return nil, rpcErr(CodeAuthRequired, "login required")
	}
	if m.metered {
		if ok, retry := s.limit.allow(playerKey(s.d.Player)); !ok {
			return nil, rpcErr(CodeRateLimited, "rate limit exceeded, retry in %s", retry.Round(time.Second))
		}
	}
	defer func() {
		if r := recover(); r != nil {
			incident := uuid.NewString()
			log.Printf("rpc: %s: incident %s: PANIC: %v", method, incident, r)
			result, err = nil, &eval.InternalError{Incident: incident}
		}
	}()
	debugf(debugRPC, "[ws:%d] rpc %s player=%s", s.d.ID, method, s.d.Player)
	return m.handler(ctx, s, params)
}

// decodeParams unmarshals params into v, reporting -32602 on failure.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return rpcErr(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func rpcLogin(_ context.Context, s *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Token    string `json:"token"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.d.State == ConnConnected {
		return nil, rpcErr(CodeInvalidRequest, "already logged in")
	}

	var token string
	var playerID string
	switch {
	case p.Token != "":
		claims, err := s.auth.ValidateToken(p.Token)
		if err != nil {
			return nil, rpcErr(CodeAuthRequired, "invalid token")
		}
		token, playerID = p.Token, claims.PlayerID
	case p.Name != "":
		player, ok := LookupPlayer(s.game.store, p.Name)
		if !ok || !CheckPassword(player, p.Password) {
			return nil, rpcErr(CodeAuthRequired, "%s", ErrInvalidCredentials)
		}
		t, err := s.auth.Issue(player.ID, player.Name)
		if err != nil {
			return nil, err
		}
		token, playerID = t, player.ID
	default:
		return nil, rpcErr(CodeInvalidParams, "name and password, or token, are required")
	}

	player, ok := s.game.store.GetEntity(playerID)
	if !ok {
		return nil, rpcErr(CodeAuthRequired, "player no longer exists")
	}
	s.game.Connect(s.d, player)
	return map[string]any{"player": player.ID, "name": player.Name, "token": token}, nil
}

func rpcCommand(_ context.Context, s *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		Line string `json:"line"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Line == "" {
		return nil, rpcErr(CodeInvalidParams, "line is required")
	}
	lines := []string{}
	s.mu.Lock()
	s.capture = &lines
	s.mu.Unlock()
	DispatchCommand(s.game, s.d, p.Line)
	s.mu.Lock()
	s.capture = nil
	out := lines
	s.mu.Unlock()
	return map[string]any{"output": out}, nil
}

func rpcCompile(_ context.Context, _ *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		Source string `json:"source"`
		Name   string `json:"name"`
		Expr   bool   `json:"expr"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	var (
		n   tree.Node
		err error
	)
	if p.Expr {
		n, err = compiler.CompileExpr(p.Source)
	} else {
		n, err = compiler.Compile(p.Name, p.Source)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"tree": tree.ToValue(n)}, nil
}

func rpcDecompile(_ context.Context, _ *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		Tree any `json:"tree"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	n, err := tree.FromValue(p.Tree)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": render.Decompile(n)}, nil
}

func rpcInvoke(ctx context.Context, s *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		Entity string `json:"entity"`
		Verb   string `json:"verb"`
		Args   []any  `json:"args"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Entity == "" || p.Verb == "" {
		return nil, rpcErr(CodeInvalidParams, "entity and verb are required")
	}
	args := make([]any, len(p.Args))
	for i, a := range p.Args {
		v, err := eval.Normalize(a)
		if err != nil {
			return nil, rpcErr(CodeInvalidParams, "args[%d]: %v", i, err)
		}
		args[i] = v
	}
	v, err := s.game.Invoke(ctx, p.Entity, p.Verb, s.d.Player, s.game.OutputTo(s.d.Player, p.Entity), args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": v}, nil
}

func rpcEntityGet(_ context.Context, s *rpcSession, params json.RawMessage) (any, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	view, ok := s.game.EntityView(s.d.Player, p.ID)
	if !ok {
		return nil, eval.Errorf("no such entity: %s", p.ID)
	}
	return view, nil
}

func rpcOpcodes(_ context.Context, s *rpcSession, _ json.RawMessage) (any, error) {
	return map[string]any{"opcodes": s.game.Registry.Opcodes()}, nil
}

// EntityView is the client-facing form of an entity. Props are resolved
// through the prototype chain; grants are listed only for viewers who
// control the entity.
func (g *Game) EntityView(viewer, id string) (map[string]any, bool) {
	e, ok := g.store.GetEntity(id)
	if !ok {
		return nil, false
	}
	props, err := g.store.ResolveProps(id)
	if err != nil {
		props = e.Props
	}
	verbs := make([]string, 0, len(e.Scripts))
	for v := range e.Scripts {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	view := map[string]any{
		"id":        e.ID,
		"name":      e.Name,
		"kind":      string(e.Kind),
		"prototype": e.Prototype,
		"location":  e.Location,
		"owner":     e.Owner,
		"props":     props,
		"verbs":     verbs,
	}
	if g.Controls(viewer, id) {
		var grants []string
		for _, c := range g.Caps.Granted(id) {
			grants = append(grants, c.Type())
		}
		sort.Strings(grants)
		view["grants"] = grants
	}
	return view, true
}
