package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/oob"
)

// Server runs the line-protocol listener, the web server, the world tick
// and the script directory watcher around one Game.
type Server struct {
	Game *Game

	listener net.Listener
	web      *WebServer
	watcher  *ScriptWatcher
	wg       sync.WaitGroup
}

// NewServer creates a server for game.
func NewServer(game *Game) *Server {
	return &Server{Game: game}
}

// Start opens the listeners and background workers, then blocks until ctx
// is done or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	conf := s.Game.Conf
	conf.logSummary()
	log.Printf("World: %d entities, %d opcodes, capability types %v",
		len(s.Game.store.ListEntities()), len(s.Game.Registry.Opcodes()), s.Game.Caps.Classes().Types())

	errCh := make(chan error, 2)

	if conf.ScriptDir != "" {
		n, err := s.Game.LoadScriptDir(conf.ScriptDir)
		if err != nil {
			return err
		}
		log.Printf("Loaded %d scripts from %s", n, conf.ScriptDir)
		w, err := s.Game.WatchScripts(conf.ScriptDir)
		if err != nil {
			return err
		}
		s.watcher = w
	}

	if conf.Port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", conf.WebHost, conf.Port))
		if err != nil {
			return fmt.Errorf("line listener: %w", err)
		}
		s.listener = ln
		log.Printf("Listening (line protocol) on %s", ln.Addr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ln)
		}()
	}

	if conf.WebPort > 0 {
		s.web = NewWebServer(s.Game)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.web.ListenAndServe(fmt.Sprintf("%s:%d", conf.WebHost, conf.WebPort)); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
	}

	tickCtx, stopTick := context.WithCancel(ctx)
	defer stopTick()
	if conf.TickInterval() > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Game.StartTicker(tickCtx, conf.TickInterval())
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	stopTick()
	s.Stop()
	s.wg.Wait()
	return err
}

// Stop closes listeners, the watcher and every session.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.web.Shutdown(ctx)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	for _, d := range s.Game.Conns.AllDescriptors() {
		d.Send("Server shutting down.")
		s.Game.Disconnect(d)
	}
}

// acceptLoop accepts connections on the given listener until it is closed.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection manages a single line-protocol connection.
func (s *Server) handleConnection(conn net.Conn) {
	g := s.Game
	d := NewDescriptor(g.Conns.NextID(), conn)
	g.Conns.Add(d)
	log.Printf("[%d] New connection from %s", d.ID, d.Addr)

	// Clients that do not answer within the timeout get plain text only.
	if g.Conf.GMCP {
		ok, rest := oob.Negotiate(conn, time.Second)
		d.GMCP.Store(ok)
		if len(rest) > 0 {
			d.Reader = bufio.NewReaderSize(io.MultiReader(bytes.NewReader(rest), conn), 4096)
		}
		if ok {
			log.Printf("[%d] GMCP negotiated", d.ID)
		}
	}

	defer func() {
		g.Disconnect(d)
		log.Printf("[%d] Connection closed from %s", d.ID, d.Addr)
	}()

	d.Send(WelcomeText)

	scanner := bufio.NewScanner(d.Reader)
	scanner.Buffer(make([]byte, 8192), 64*1024)
	for scanner.Scan() {
		if d.IsClosed() {
			return
		}
		line, gmcp := oob.Strip(scanner.Text())
		for _, msg := range gmcp {
			s.handleGMCP(d, msg)
		}
		if line == "" && len(gmcp) > 0 {
			continue
		}
		if d.State == ConnLogin {
			s.handleLoginCommand(d, line)
		} else {
			debugf(debugCmd, "[%d] CMD player=%s input=%q", d.ID, d.Player, line)
			DispatchCommand(g, d, line)
		}
		if d.IsClosed() {
			return
		}
	}
}

// handleLoginCommand processes pre-login commands.
func (s *Server) handleLoginCommand(d *Descriptor, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	switch strings.ToUpper(input) {
	case "QUIT":
		d.Send("Goodbye!")
		d.Close()
		return
	case "WHO":
		s.Game.ShowWho(d)
		return
	}

	command, user, password := ParseConnect(input)
	switch {
	case strings.HasPrefix(command, "co"):
		s.handleConnect(d, user, password)
	case strings.HasPrefix(command, "cr"):
		s.handleCreate(d, user, password)
	default:
		d.Send("Commands: connect, create, WHO, QUIT")
	}
}

func (s *Server) handleConnect(d *Descriptor, user, password string) {
	if user == "" {
		d.Send("Usage: connect <name> <password>")
		return
	}
	p, ok := LookupPlayer(s.Game.store, user)
	if !ok || !CheckPassword(p, password) {
		d.Send("Either that player does not exist, or has a different password.")
		d.Retries--
		if d.Retries <= 0 {
			d.Send("Too many failed attempts. Disconnecting.")
			d.Close()
		}
		return
	}
	d.Send(fmt.Sprintf("Welcome back, %s!", p.Name))
	s.Game.Connect(d, p)
}

func (s *Server) handleCreate(d *Descriptor, user, password string) {
	if user == "" || password == "" {
		d.Send("Usage: create <name> <password>")
		return
	}
	p, err := s.Game.CreatePlayer(user, password)
	if err != nil {
		d.Send(strings.ToUpper(err.Error()[:1]) + err.Error()[1:] + ".")
		return
	}
	log.Printf("[%d] New player %s(%s) created from %s", d.ID, p.Name, p.ID, d.Addr)
	d.Send(fmt.Sprintf("Welcome, %s! Your character has been created as %s.", p.Name, p.ID))
	s.Game.Connect(d, p)
}

// Connect logs a session in as player, announces it and shows the room.
func (g *Game) Connect(d *Descriptor, p *gamedb.Entity) {
	g.Conns.Login(d, p.ID)
	log.Printf("[%d] Player %s(%s) connected from %s", d.ID, p.Name, p.ID, d.Addr)
	g.Emit(events.Event{Type: events.EvConnect, Entity: p.ID, Source: p.ID,
		Data: map[string]any{"player": p.ID, "name": p.Name}})
	if p.Location != "" {
		g.EmitRoomExcept(p.Location, p.ID, events.Event{
			Type:   events.EvConnect,
			Source: p.ID,
			Text:   fmt.Sprintf("%s has connected.", p.Name),
		})
		cmdLook(g, d, "", nil)
	}
}

// handleGMCP answers the GMCP core messages a client may send.
func (s *Server) handleGMCP(d *Descriptor, msg []byte) {
	pkg, data := oob.ParseMessage(msg)
	debugf(debugGMCP, "[%d] GMCP %s %s", d.ID, pkg, data)
	switch pkg {
	case "Core.Ping":
		d.SendRaw(oob.Encode("Core.Ping", nil))
	case "Core.Hello":
		d.GMCP.Store(true)
	}
}
