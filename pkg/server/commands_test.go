package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// testEnv holds the shared test infrastructure.
type testEnv struct {
	game   *Game
	db     *gamedb.Database
	wizard *Descriptor
	bob    *Descriptor
	room   string
	out    map[*Descriptor]*[]string
	mu     sync.Mutex
}

// newTestEnv creates a bootstrapped world with two connected players:
//   - Limbo, the start room
//   - Wizard, wizard bit set, password "wizpass"
//   - Bob, an ordinary player, password "bobpass"
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := gamedb.NewDatabase()
	conf := DefaultGameConf()
	conf.Port = 0
	conf.WebPort = 0
	conf.WizardPassword = "wizpass"
	conf.JWTSecret = "test-secret"
	conf.Plugins = []string{"spawn"}
	g, err := NewGame(db, conf)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	if err := g.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	env := &testEnv{game: g, db: db, room: conf.StartRoom, out: make(map[*Descriptor]*[]string)}
	wiz, ok := LookupPlayer(db, "Wizard")
	if !ok {
		t.Fatal("wizard not created")
	}
	bob, err := g.CreatePlayer("Bob", "bobpass")
	if err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	env.wizard = env.connect(wiz)
	env.bob = env.connect(bob)
	env.drain(env.wizard)
	env.drain(env.bob)
	return env
}

// connect logs a capturing session in as p.
func (env *testEnv) connect(p *gamedb.Entity) *Descriptor {
	lines := []string{}
	d := &Descriptor{ID: env.game.Conns.NextID(), Conn: nullConn{}, State: ConnLogin}
	d.SendFunc = func(msg string) {
		env.mu.Lock()
		defer env.mu.Unlock()
		lines = append(lines, msg)
	}
	env.out[d] = &lines
	env.game.Conns.Add(d)
	env.game.Connect(d, p)
	return d
}

// drain returns and clears everything sent to d.
func (env *testEnv) drain(d *Descriptor) []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	p := env.out[d]
	out := *p
	*p = []string{}
	return out
}

// run dispatches a command as d and returns what d received.
func (env *testEnv) run(d *Descriptor, line string) []string {
	env.drain(d)
	DispatchCommand(env.game, d, line)
	return env.drain(d)
}

// mustCreate adds an entity directly to the store.
func (env *testEnv) mustCreate(t *testing.T, e *gamedb.Entity) string {
	t.Helper()
	id, err := env.db.CreateEntity(e)
	if err != nil {
		t.Fatalf("CreateEntity(%s): %v", e.Name, err)
	}
	return id
}

func last(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestSay(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(env.wizard, "say hello")
	if !contains(out, `You say "hello"`) {
		t.Errorf("speaker got %q", out)
	}
	if got := env.drain(env.bob); !contains(got, `Wizard says "hello"`) {
		t.Errorf("listener got %q", got)
	}

	out = env.run(env.bob, `"hi there`)
	if !contains(out, `You say "hi there"`) {
		t.Errorf("quote prefix: %q", out)
	}
}

func TestEvalCommand(t *testing.T) {
	env := newTestEnv(t)
	if got := last(env.run(env.wizard, "eval 1 + 2")); got != "=> 3" {
		t.Errorf("eval 1 + 2 = %q", got)
	}
	out := env.run(env.wizard, `;send("hi"); "done"`)
	if len(out) != 2 || out[0] != "hi" || out[1] != `=> "done"` {
		t.Errorf(";send = %q", out)
	}
	if got := last(env.run(env.wizard, "eval name()")); got != `=> "Wizard"` {
		t.Errorf("eval name() = %q", got)
	}
}

func TestEvalErrors(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(env.wizard, "eval let = ;")
	if len(out) != 1 || strings.HasPrefix(out[0], "=>") {
		t.Errorf("syntax error output = %q", out)
	}
	out = env.run(env.wizard, "eval nosuch(1)")
	if len(out) != 1 || !strings.HasPrefix(out[0], "Error: ") {
		t.Errorf("fault output = %q", out)
	}
}

func TestScriptRunAndDecompile(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(env.wizard, "@create Widget")
	if len(out) != 1 || !strings.HasPrefix(out[0], "Created thing Widget(") {
		t.Fatalf("@create = %q", out)
	}
	w, ok := env.db.FindByName("Widget", gamedb.KindThing)
	if !ok {
		t.Fatal("Widget not stored")
	}
	if w.Location != env.wizard.Player || w.Owner != env.wizard.Player {
		t.Errorf("Widget location=%q owner=%q", w.Location, w.Owner)
	}

	out = env.run(env.wizard, `@script Widget/greet=send("Hello, ", args[0]); return 42;`)
	if got := last(out); got != "Verb greet set on "+ref(w)+"." {
		t.Fatalf("@script = %q", out)
	}

	out = env.run(env.wizard, `run Widget/greet "Bob"`)
	if len(out) != 2 || out[0] != "Hello, Bob" || out[1] != "=> 42" {
		t.Errorf("run = %q", out)
	}

	out = env.run(env.wizard, "@decompile Widget/greet")
	if len(out) == 0 || !strings.Contains(strings.Join(out, "\n"), "send(") {
		t.Errorf("@decompile = %q", out)
	}
	if got := last(env.run(env.wizard, "@dec Widget")); got != "Verbs on "+ref(w)+": greet" {
		t.Errorf("@dec prefix = %q", got)
	}
	if got := last(env.run(env.wizard, "@decompile/tree Widget/greet")); !strings.HasPrefix(got, `["seq",`) {
		t.Errorf("@decompile/tree = %q", got)
	}

	if got := last(env.run(env.wizard, "@script Widget/greet=")); got != "Verb greet removed from "+ref(w)+"." {
		t.Errorf("remove = %q", got)
	}
	if got := last(env.run(env.wizard, "run Widget/greet")); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("run removed verb = %q", got)
	}
}

func TestScriptPermission(t *testing.T) {
	env := newTestEnv(t)
	if got := last(env.run(env.bob, `@script here/x=1`)); got != "Permission denied." {
		t.Errorf("bob scripting the room = %q", got)
	}
	if got := last(env.run(env.bob, `@script me/x=1`)); !strings.HasPrefix(got, "Verb x set on Bob(") {
		t.Errorf("bob scripting himself = %q", got)
	}
}

func TestLookDescribeAndSet(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(env.wizard, `@set here/description="A quiet place."`)
	if !strings.HasSuffix(last(out), `/description = "A quiet place."`) {
		t.Fatalf("@set = %q", out)
	}
	out = env.run(env.wizard, "look")
	if len(out) < 2 || out[0] != "Limbo" || out[1] != "A quiet place." {
		t.Errorf("look = %q", out)
	}
	if !contains(out, "  Bob") {
		t.Errorf("look contents = %q", out)
	}

	env.run(env.wizard, `@script here/describe=send("It is ", "dark.")`)
	out = env.run(env.wizard, "look here")
	if len(out) < 2 || out[1] != "It is dark." {
		t.Errorf("look with describe verb = %q", out)
	}

	if got := last(env.run(env.wizard, "@set here/description=")); !strings.HasSuffix(got, "/description cleared.") {
		t.Errorf("@set clear = %q", got)
	}
}

func TestHearVerb(t *testing.T) {
	env := newTestEnv(t)
	parrot := env.mustCreate(t, &gamedb.Entity{Name: "Parrot", Kind: gamedb.KindThing, Location: env.room, Owner: env.wizard.Player})
	env.run(env.wizard, "@script "+parrot+`/hear=emit(args[0], " said ", args[1])`)
	env.run(env.bob, "say crackers")
	if got := env.drain(env.wizard); !contains(got, "Bob said crackers") {
		t.Errorf("wizard heard %q", got)
	}
}

func TestGrantAndCan(t *testing.T) {
	env := newTestEnv(t)
	env.run(env.wizard, "@create Widget")
	env.run(env.wizard, `@script Widget/check=can("spawn")`)

	if got := last(env.run(env.wizard, "run Widget/check")); got != "=> false" {
		t.Errorf("before grant = %q", got)
	}
	if got := last(env.run(env.bob, "@grant me=spawn")); got != "Permission denied." {
		t.Errorf("bob @grant = %q", got)
	}
	if got := last(env.run(env.wizard, `@grant Widget=spawn {"maxProps": 4}`)); !strings.HasPrefix(got, "Granted spawn to Widget(") {
		t.Fatalf("@grant = %q", got)
	}
	if got := last(env.run(env.wizard, "run Widget/check")); got != "=> true" {
		t.Errorf("after grant = %q", got)
	}
	if out := env.run(env.wizard, "@grants Widget"); len(out) != 1 || !strings.Contains(out[0], "spawn") {
		t.Errorf("@grants = %q", out)
	}
	if got := last(env.run(env.wizard, "@grant Widget=nosuch")); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("@grant unknown class = %q", got)
	}
	if got := last(env.run(env.wizard, "@revoke Widget=spawn")); !strings.HasPrefix(got, "Revoked spawn from Widget(") {
		t.Errorf("@revoke = %q", got)
	}
	if got := last(env.run(env.wizard, "run Widget/check")); got != "=> false" {
		t.Errorf("after revoke = %q", got)
	}
}

func TestCreatePrototype(t *testing.T) {
	env := newTestEnv(t)
	env.run(env.wizard, "@create/proto Lamp")
	env.run(env.wizard, `@set Lamp/lit=true`)
	out := env.run(env.wizard, "@create Brass Lamp=Lamp")
	if !strings.HasPrefix(last(out), "Created thing Brass Lamp(") {
		t.Fatalf("@create with prototype = %q", out)
	}
	proto, _ := env.db.FindByName("Lamp", gamedb.KindPrototype)
	if proto.Location != "" {
		t.Errorf("prototype location = %q, want none", proto.Location)
	}
	if got := last(env.run(env.wizard, `eval prop("`+mustFind(t, env, "Brass Lamp")+`", "lit")`)); got != "=> true" {
		t.Errorf("inherited prop = %q", got)
	}
}

func mustFind(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	e, ok := env.db.FindByName(name, gamedb.KindThing)
	if !ok {
		t.Fatalf("%s not found", name)
	}
	return e.ID
}

func TestDestroyRevokesGrants(t *testing.T) {
	env := newTestEnv(t)
	env.run(env.wizard, "@create Widget")
	id := mustFind(t, env, "Widget")
	env.run(env.wizard, "@grant Widget=spawn")
	if got := last(env.run(env.wizard, "@destroy Widget")); !strings.HasPrefix(got, "Destroyed Widget(") {
		t.Fatalf("@destroy = %q", got)
	}
	if _, ok := env.db.GetEntity(id); ok {
		t.Error("Widget still stored")
	}
	if n := len(env.game.Caps.Granted(id)); n != 0 {
		t.Errorf("%d grants survive destroy", n)
	}
}

func TestDispatchUnknownAndWizardOnly(t *testing.T) {
	env := newTestEnv(t)
	if got := last(env.run(env.wizard, "xyzzy")); got != `Huh?  (Type "help" for help.)` {
		t.Errorf("unknown = %q", got)
	}
	if got := last(env.run(env.bob, "@dbck")); got != "Permission denied." {
		t.Errorf("bob @dbck = %q", got)
	}
	if got := last(env.run(env.wizard, "@dbck")); got != "No problems found." {
		t.Errorf("@dbck = %q", got)
	}
	if env.wizard.CmdCount != 2 {
		t.Errorf("CmdCount = %d, want 2", env.wizard.CmdCount)
	}
}

func TestHelp(t *testing.T) {
	env := newTestEnv(t)
	if out := env.run(env.bob, "help commands"); len(out) == 0 || !strings.HasPrefix(out[0], "Commands:") {
		t.Errorf("help commands = %q", out)
	}
	if out := env.run(env.bob, "help send"); len(out) == 0 || !strings.HasPrefix(out[0], "send(message)") {
		t.Errorf("help send = %q", out)
	}
	if got := last(env.run(env.bob, "help nosuchtopic")); got != "No entry for 'nosuchtopic'." {
		t.Errorf("help missing = %q", got)
	}
	if out := env.run(env.bob, "help scr*"); len(out) == 0 || !strings.Contains(out[0], "scripts") {
		t.Errorf("help wildcard = %q", out)
	}
}

func TestDebugToggle(t *testing.T) {
	env := newTestEnv(t)
	defer SetDebug(false)
	if got := last(env.run(env.wizard, "@debug on")); got != "Debug logging is on." {
		t.Errorf("@debug on = %q", got)
	}
	if !IsDebug() {
		t.Error("debug not enabled")
	}
	if got := last(env.run(env.wizard, "@debug off")); got != "Debug logging is off." {
		t.Errorf("@debug off = %q", got)
	}
}

func TestDebugTopics(t *testing.T) {
	env := newTestEnv(t)
	defer SetDebug(false)
	SetDebug(false)
	if got := last(env.run(env.wizard, "@debug rpc on")); got != "Debug logging is on for: rpc" {
		t.Errorf("@debug rpc on = %q", got)
	}
	if err := EnableDebugTopics([]string{" auth", "", "script "}); err != nil {
		t.Fatal(err)
	}
	if got := last(env.run(env.wizard, "@debug")); got != "Debug logging is on for: auth rpc script" {
		t.Errorf("@debug = %q", got)
	}
	if got := last(env.run(env.wizard, "@debug rpc off")); got != "Debug logging is on for: auth script" {
		t.Errorf("@debug rpc off = %q", got)
	}
	if got := last(env.run(env.wizard, "@debug bogus on")); !strings.Contains(got, `unknown debug topic "bogus"`) {
		t.Errorf("@debug bogus on = %q", got)
	}
	if err := EnableDebugTopics([]string{"nope"}); err == nil {
		t.Error("unknown topic accepted")
	}
}

func TestArchiveCommand(t *testing.T) {
	env := newTestEnv(t)
	scripts := t.TempDir()
	if err := os.WriteFile(filepath.Join(scripts, "Limbo.tick.ms"), []byte(`send("tick");`), 0644); err != nil {
		t.Fatal(err)
	}
	env.game.Conf.ScriptDir = scripts
	env.game.Conf.ArchiveDir = filepath.Join(t.TempDir(), "archives")

	if got := last(env.run(env.bob, "@archive")); got != "Permission denied." {
		t.Errorf("non-wizard @archive = %q", got)
	}
	got := last(env.run(env.wizard, "@archive"))
	if !strings.HasPrefix(got, "Archive written to "+env.game.Conf.ArchiveDir) {
		t.Fatalf("@archive = %q", got)
	}
	list := env.run(env.wizard, "@archive/list")
	if len(list) != 1 || !strings.Contains(list[0], "1 scripts") || !strings.HasPrefix(list[0], "world-") {
		t.Errorf("@archive/list = %q", list)
	}
}

func TestQuitDisconnects(t *testing.T) {
	env := newTestEnv(t)
	player := env.bob.Player
	env.run(env.bob, "QUIT")
	if !env.bob.IsClosed() {
		t.Error("descriptor still open")
	}
	if env.game.Conns.IsConnected(player) {
		t.Error("player still connected")
	}
	if got := env.drain(env.wizard); !contains(got, "Bob has disconnected.") {
		t.Errorf("room heard %q", got)
	}
	// A second disconnect is a no-op.
	env.game.Disconnect(env.bob)
}

func TestTickOnce(t *testing.T) {
	env := newTestEnv(t)
	env.run(env.wizard, `@script here/tick=setprop("ticks", (prop("ticks") || 0) + 1)`)
	env.run(env.wizard, "@create Broken")
	env.run(env.wizard, "@script Broken/tick=nosuch()")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if faults := env.game.TickOnce(ctx); faults != 1 {
			t.Errorf("tick %d: %d faults, want 1", i, faults)
		}
	}
	props, err := env.db.ResolveProps(env.room)
	if err != nil {
		t.Fatal(err)
	}
	if props["ticks"] != 2.0 {
		t.Errorf("ticks = %v, want 2", props["ticks"])
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if faults := env.game.TickOnce(cancelled); faults != 0 {
		t.Errorf("cancelled tick ran %d faulting invocations", faults)
	}
}
