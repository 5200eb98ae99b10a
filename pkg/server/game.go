package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/mushscript/pkg/boltstore"
	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/eval/functions"
	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/plugins"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Game is the process-lifetime state shared by every transport.
type Game struct {
	Conf     *GameConf
	Bolt     *boltstore.Store // nil when the world is in memory only
	Registry *eval.Registry
	Interp   *eval.Interpreter
	Caps     *capability.Manager
	Plugins  *plugins.Loaded
	Bus      *events.Bus
	Conns    *ConnManager
	Commands map[string]*Command
	Metrics  *Metrics
	Help     *HelpFile

	store     gamedb.Store
	startTime time.Time
}

var _ eval.Host = (*Game)(nil)

// NewGame wires the opcode registry, capability classes and grants around
// store. The registries are sealed before NewGame returns.
func NewGame(store gamedb.Store, conf *GameConf) (*Game, error) {
	if conf == nil {
		conf = DefaultGameConf()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	g := &Game{
		Conf:      conf,
		Registry:  eval.NewRegistry(),
		Bus:       events.NewBus(),
		Commands:  InitCommands(),
		store:     store,
		startTime: time.Now(),
	}
	g.Conns = NewConnManager(g.Bus)
	if bs, ok := store.(*boltstore.Store); ok {
		g.Bolt = bs
	}

	if err := functions.RegisterAll(g.Registry); err != nil {
		return nil, err
	}
	classes := capability.NewClasses()
	loaded, err := plugins.Load(classes, conf.Plugins, plugins.Deps{Store: store})
	if err != nil {
		loaded.Close()
		return nil, err
	}
	classes.Seal()
	g.Plugins = loaded
	g.Caps = capability.NewManager(classes, store)
	if err := g.Registry.RegisterLibrary(g.Caps.Opcodes()...); err != nil {
		loaded.Close()
		return nil, err
	}
	g.Registry.Seal()
	g.Help = BuildHelp(g.Registry, conf.HelpFile)

	g.Interp = eval.NewInterpreter(g.Registry)
	g.Interp.MaxDepth = conf.MaxDepth
	g.Interp.MaxSteps = conf.MaxSteps

	g.Metrics = NewMetrics(g)
	g.Interp.OnCall = g.Metrics.opcodeCall
	g.Caps.OnDenied = g.Metrics.capabilityDenied

	if n, err := g.Caps.Load(); err != nil {
		loaded.Close()
		return nil, err
	} else if n > 0 {
		log.Printf("Loaded %d stored capability grants", n)
	}
	if n, err := plugins.ApplyGrants(g.Caps, store, conf.Grants); err != nil {
		loaded.Close()
		return nil, err
	} else if n > 0 {
		log.Printf("Applied %d configured capability grants", n)
	}
	return g, nil
}

// Close releases plugin resources.
func (g *Game) Close() error {
	return g.Plugins.Close()
}

// --- eval.Host ---

func (g *Game) Store() gamedb.Store { return g.store }

func (g *Game) Capability(entity, typ string) (eval.Grant, bool) {
	return g.Caps.Capability(entity, typ)
}

func (g *Game) Notify(entity, msg string) {
	g.Bus.Emit(events.Event{Type: events.EvEmit, Entity: entity, Text: msg})
}

// --- Running scripts ---

// Run executes n as entity this on behalf of caller, under the configured
// timeout and slow-invocation watchdog. send receives the script's output
// and may be nil.
func (g *Game) Run(ctx context.Context, this, caller string, n tree.Node, send func(string), args ...any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Conf.InvocationTimeout())
	defer cancel()

	inv := eval.NewInvocation(this, caller, g, args...)
	inv.Send = send

	var watchdog *time.Timer
	if slow := g.Conf.SlowInvocation(); slow > 0 {
		watchdog = time.AfterFunc(slow, func() {
			log.Printf("SLOW invocation >%s (entity=%q caller=%q)", slow, this, caller)
		})
	}
	start := time.Now()
	v, err := g.Interp.Run(ctx, inv, n)
	if watchdog != nil {
		watchdog.Stop()
	}
	g.Metrics.invocation(err, time.Since(start))
	debugf(debugScript, "run entity=%q caller=%q steps=%d err=%v", this, caller, inv.Steps(), err)
	return v, err
}

// Invoke runs verb, looked up on entity and then its prototypes, as entity.
func (g *Game) Invoke(ctx context.Context, entity, verb, caller string, send func(string), args ...any) (any, error) {
	if _, ok := g.store.GetEntity(entity); !ok {
		return nil, eval.Errorf("no such entity: %s", entity)
	}
	n, ok := g.store.FindScript(entity, verb)
	if !ok {
		return nil, eval.Errorf("%s has no verb %q", entity, verb)
	}
	return g.Run(ctx, entity, caller, n, send, args...)
}

// OutputTo returns a send function that delivers script output to entity's
// sessions.
func (g *Game) OutputTo(entity, source string) func(string) {
	if entity == "" {
		return nil
	}
	return func(msg string) {
		g.Bus.Emit(events.Event{Type: events.EvOutput, Entity: entity, Source: source, Text: msg})
	}
}

// FaultText renders an invocation error for a player. Internal faults show
// only their incident id.
func FaultText(err error) string {
	var ie *eval.InternalError
	if errors.As(err, &ie) {
		return fmt.Sprintf("Internal error (incident %s).", ie.Incident)
	}
	return "Error: " + err.Error()
}

// outcome classifies an invocation result for metrics.
func outcome(err error) string {
	var (
		ce *eval.CancelledError
		ie *eval.InternalError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return "cancelled"
	case errors.As(err, &ie):
		return "internal"
	case eval.IsScriptFault(err):
		return "fault"
	}
	return "internal"
}

// --- World helpers ---

// Emit sends an event through the bus.
func (g *Game) Emit(ev events.Event) {
	g.Bus.Emit(ev)
}

// EmitRoom sends an event to everything in a room.
func (g *Game) EmitRoom(room string, ev events.Event) {
	g.Bus.EmitToRoom(g.store, room, ev)
}

// EmitRoomExcept sends an event to everything in a room except one entity.
func (g *Game) EmitRoomExcept(room, except string, ev events.Event) {
	g.Bus.EmitToRoomExcept(g.store, room, except, ev)
}

// Name returns an entity's name, or its id when it is gone.
func (g *Game) Name(id string) string {
	if e, ok := g.store.GetEntity(id); ok {
		return e.Name
	}
	return id
}

// Location returns an entity's location id.
func (g *Game) Location(id string) string {
	if e, ok := g.store.GetEntity(id); ok {
		return e.Location
	}
	return ""
}

// IsWizard reports whether the entity has the wizard bit.
func (g *Game) IsWizard(id string) bool {
	e, ok := g.store.GetEntity(id)
	return ok && e.Wizard
}

// Controls reports whether player may modify target: wizards control
// everything, others control themselves and what they own.
func (g *Game) Controls(player, target string) bool {
	if player == target || g.IsWizard(player) {
		return true
	}
	e, ok := g.store.GetEntity(target)
	return ok && e.Owner == player
}

// Match resolves a name typed by player: "me", "here", an entity id, or
// the name of something in the player's location or inventory.
func (g *Game) Match(player, name string) (*gamedb.Entity, bool) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "":
		return nil, false
	case "me":
		return g.store.GetEntity(player)
	case "here":
		return g.store.GetEntity(g.Location(player))
	}
	if e, ok := g.store.GetEntity(name); ok {
		return e, true
	}
	for _, where := range []string{g.Location(player), player} {
		if where == "" {
			continue
		}
		for _, e := range g.store.Contents(where) {
			if strings.EqualFold(e.Name, name) {
				return e, true
			}
		}
	}
	for _, kind := range []gamedb.Kind{gamedb.KindPrototype, gamedb.KindRoom, gamedb.KindPlayer} {
		if e, ok := g.store.FindByName(name, kind); ok {
			return e, true
		}
	}
	return nil, false
}

// Tickers returns the non-prototype entities that have a tick verb,
// sorted by id.
func (g *Game) Tickers() []string {
	var ids []string
	for _, e := range g.store.ListEntities() {
		if e.Kind == gamedb.KindPrototype {
			continue
		}
		if _, ok := g.store.FindScript(e.ID, "tick"); ok {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Uptime returns time since the game was created.
func (g *Game) Uptime() time.Duration { return time.Since(g.startTime) }
