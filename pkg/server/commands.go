package server

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/archive"
	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/tree"
	"github.com/crystal-mush/mushscript/pkg/validate"
)

// CommandHandler is the signature for game command implementations.
type CommandHandler func(g *Game, d *Descriptor, args string, switches []string)

// Command represents a registered game command.
type Command struct {
	Name    string
	Handler CommandHandler
	Wizard  bool // only wizards may use this command
}

// InitCommands registers all available game commands.
func InitCommands() map[string]*Command {
	cmds := make(map[string]*Command)

	register := func(name string, handler CommandHandler) {
		cmds[strings.ToLower(name)] = &Command{Name: name, Handler: handler}
	}
	registerWiz := func(name string, handler CommandHandler) {
		cmds[strings.ToLower(name)] = &Command{Name: name, Handler: handler, Wizard: true}
	}

	// Communication
	register("say", cmdSay)
	register("look", cmdLook)
	register("l", cmdLook)
	register("inventory", cmdInventory)
	register("i", cmdInventory)

	// Scripts
	register("eval", cmdEval)
	register("run", cmdRun)
	register("@script", cmdScript)
	register("@decompile", cmdDecompile)
	register("@opcodes", cmdOpcodes)

	// Building
	register("@create", cmdCreate)
	register("@set", cmdSet)
	register("@destroy", cmdDestroy)
	register("@examine", cmdExamine)
	register("examine", cmdExamine)

	// Capabilities
	registerWiz("@grant", cmdGrant)
	registerWiz("@revoke", cmdRevoke)
	register("@grants", cmdGrants)

	// Administration
	registerWiz("@dbck", cmdDbck)
	registerWiz("@backup", cmdBackup)
	registerWiz("@archive", cmdArchive)
	registerWiz("@debug", cmdDebug)
	register("@stats", cmdStats)
	register("@version", cmdVersion)
	register("@password", cmdPassword)

	// Session
	register("help", cmdHelp)
	register("WHO", cmdWho)
	register("QUIT", cmdQuit)

	return cmds
}

// DispatchCommand parses a line from a logged-in session and runs it.
func DispatchCommand(g *Game, d *Descriptor, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	d.CmdCount++
	d.LastCmd = time.Now()
	g.Metrics.command()

	// Single-character prefixes.
	switch input[0] {
	case '"':
		cmdSay(g, d, input[1:], nil)
		return
	case ';':
		cmdEval(g, d, input[1:], nil)
		return
	}

	var cmdName, args string
	if i := strings.IndexByte(input, ' '); i >= 0 {
		cmdName = input[:i]
		args = strings.TrimSpace(input[i+1:])
	} else {
		cmdName = input
	}

	// Switches: "@create/proto" -> "@create", ["proto"]
	var switches []string
	if i := strings.IndexByte(cmdName, '/'); i >= 0 {
		parts := strings.Split(cmdName, "/")
		cmdName = parts[0]
		switches = parts[1:]
	}

	lower := strings.ToLower(cmdName)
	cmd, ok := g.Commands[lower]
	if !ok && len(lower) > 1 && lower[0] == '@' {
		// Unique prefixes of @-commands are accepted: @dec = @decompile.
		var match *Command
		count := 0
		for name, c := range g.Commands {
			if strings.HasPrefix(name, lower) {
				match = c
				count++
			}
		}
		if count == 1 {
			cmd, ok = match, true
		}
	}
	if !ok {
		d.Send("Huh?  (Type \"help\" for help.)")
		return
	}
	if cmd.Wizard && !g.IsWizard(d.Player) {
		d.Send("Permission denied.")
		return
	}
	cmd.Handler(g, d, args, switches)
}

func hasSwitch(switches []string, name string) bool {
	for _, s := range switches {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// splitTarget splits "target/verb" into its parts.
func splitTarget(s string) (target, verb string) {
	target, verb, _ = strings.Cut(strings.TrimSpace(s), "/")
	return strings.TrimSpace(target), strings.TrimSpace(verb)
}

// splitAssign splits "lhs=rhs". ok is false when there is no '='.
func splitAssign(s string) (lhs, rhs string, ok bool) {
	lhs, rhs, ok = strings.Cut(s, "=")
	return strings.TrimSpace(lhs), strings.TrimSpace(rhs), ok
}

// matchOrComplain resolves a name for the player, telling them when it
// does not match anything.
func matchOrComplain(g *Game, d *Descriptor, name string) (*gamedb.Entity, bool) {
	e, ok := g.Match(d.Player, name)
	if !ok {
		d.Send(fmt.Sprintf("I don't see %q here.", name))
	}
	return e, ok
}

// controlOrComplain is matchOrComplain plus a control check.
func controlOrComplain(g *Game, d *Descriptor, name string) (*gamedb.Entity, bool) {
	e, ok := matchOrComplain(g, d, name)
	if !ok {
		return nil, false
	}
	if !g.Controls(d.Player, e.ID) {
		d.Send("Permission denied.")
		return nil, false
	}
	return e, true
}

func ref(e *gamedb.Entity) string {
	return fmt.Sprintf("%s(%s)", e.Name, e.ID)
}

// --- Communication ---

func cmdSay(g *Game, d *Descriptor, args string, _ []string) {
	args = strings.TrimSpace(args)
	if args == "" {
		d.Send("Say what?")
		return
	}
	name := g.Name(d.Player)
	loc := g.Location(d.Player)
	data := map[string]any{"message": args, "speaker": name}

	g.Emit(events.Event{
		Type:   events.EvSay,
		Entity: d.Player,
		Source: d.Player,
		Room:   loc,
		Text:   fmt.Sprintf("You say \"%s\"", args),
		Data:   data,
	})
	if loc == "" {
		return
	}
	g.EmitRoomExcept(loc, d.Player, events.Event{
		Type:   events.EvSay,
		Source: d.Player,
		Text:   fmt.Sprintf("%s says \"%s\"", name, args),
		Data:   data,
	})
	g.hear(loc, d.Player, name, args)
}

// hear runs the "hear" verb of each non-player in room with the speaker's
// name and message. Faults are reported to the speaker.
func (g *Game) hear(room, speaker, name, msg string) {
	for _, e := range g.store.Contents(room) {
		if e.ID == speaker || e.Kind == gamedb.KindPlayer {
			continue
		}
		n, ok := g.store.FindScript(e.ID, "hear")
		if !ok {
			continue
		}
		if _, err := g.Run(context.Background(), e.ID, speaker, n, g.OutputTo(speaker, e.ID), name, msg); err != nil {
			g.Emit(events.Event{Type: events.EvFault, Entity: speaker, Source: e.ID, Text: FaultText(err)})
		}
	}
}

func cmdLook(g *Game, d *Descriptor, args string, _ []string) {
	target := "here"
	if args != "" {
		target = args
	}
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	d.Send(e.Name)

	if n, ok := g.store.FindScript(e.ID, "describe"); ok {
		if _, err := g.Run(context.Background(), e.ID, d.Player, n, d.Send); err != nil {
			d.Send(FaultText(err))
		}
	} else if props, err := g.store.ResolveProps(e.ID); err == nil {
		if desc, ok := props["description"].(string); ok && desc != "" {
			d.Send(desc)
		}
	}

	var names []string
	for _, c := range g.store.Contents(e.ID) {
		if c.ID != d.Player {
			names = append(names, c.Name)
		}
	}
	if len(names) > 0 {
		d.Send("Contents:")
		for _, n := range names {
			d.Send("  " + n)
		}
	}
}

func cmdInventory(g *Game, d *Descriptor, _ string, _ []string) {
	contents := g.store.Contents(d.Player)
	if len(contents) == 0 {
		d.Send("You aren't carrying anything.")
		return
	}
	d.Send("You are carrying:")
	for _, e := range contents {
		d.Send("  " + ref(e))
	}
}

// --- Scripts ---

// cmdEval compiles and runs source as the player.
func cmdEval(g *Game, d *Descriptor, args string, _ []string) {
	if strings.TrimSpace(args) == "" {
		d.Send("Eval what?")
		return
	}
	n, err := compiler.Compile("eval", args)
	if err != nil {
		d.Send(err.Error())
		return
	}
	v, err := g.Run(context.Background(), d.Player, d.Player, n, d.Send)
	if err != nil {
		d.Send(FaultText(err))
		return
	}
	d.Send("=> " + render.DecompileValue(v))
}

// evalArgs evaluates a comma-separated argument list.
func evalArgs(g *Game, player, src string) ([]any, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	n, err := compiler.CompileExpr("[" + src + "]")
	if err != nil {
		return nil, err
	}
	v, err := g.Run(context.Background(), player, player, n, nil)
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	return list, nil
}

// cmdRun invokes a verb: run <target>/<verb> [args, ...]
func cmdRun(g *Game, d *Descriptor, args string, _ []string) {
	spec, rest, _ := strings.Cut(args, " ")
	target, verb := splitTarget(spec)
	if target == "" || verb == "" {
		d.Send("Usage: run <target>/<verb> [args]")
		return
	}
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	argv, err := evalArgs(g, d.Player, rest)
	if err != nil {
		d.Send(FaultText(err))
		return
	}
	v, err := g.Invoke(context.Background(), e.ID, verb, d.Player, g.OutputTo(d.Player, e.ID), argv...)
	if err != nil {
		d.Send(FaultText(err))
		return
	}
	if v != nil {
		d.Send("=> " + render.DecompileValue(v))
	}
}

// cmdScript attaches a verb: @script <target>/<verb>=<source>. An empty
// source removes the verb.
func cmdScript(g *Game, d *Descriptor, args string, _ []string) {
	lhs, src, ok := splitAssign(args)
	target, verb := splitTarget(lhs)
	if !ok || target == "" || verb == "" {
		d.Send("Usage: @script <target>/<verb>=<source>")
		return
	}
	e, ok := controlOrComplain(g, d, target)
	if !ok {
		return
	}
	if src == "" {
		if err := g.store.UpdateEntity(e.ID, gamedb.Patch{Scripts: map[string]*tree.Node{verb: nil}}); err != nil {
			d.Send("Error: " + err.Error())
			return
		}
		d.Send(fmt.Sprintf("Verb %s removed from %s.", verb, ref(e)))
		return
	}
	n, err := compiler.Compile(e.ID+"/"+verb, src)
	if err != nil {
		d.Send(err.Error())
		return
	}
	if err := g.store.UpdateEntity(e.ID, gamedb.Patch{Scripts: map[string]*tree.Node{verb: &n}}); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	d.Send(fmt.Sprintf("Verb %s set on %s.", verb, ref(e)))
}

// cmdDecompile prints a verb as script text, or lists the verbs of a
// target when no verb is named.
func cmdDecompile(g *Game, d *Descriptor, args string, switches []string) {
	target, verb := splitTarget(args)
	if target == "" {
		d.Send("Usage: @decompile <target>[/<verb>]")
		return
	}
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	if verb == "" {
		verbs := make([]string, 0, len(e.Scripts))
		for v := range e.Scripts {
			verbs = append(verbs, v)
		}
		sort.Strings(verbs)
		if len(verbs) == 0 {
			d.Send(fmt.Sprintf("%s has no verbs of its own.", ref(e)))
			return
		}
		d.Send(fmt.Sprintf("Verbs on %s: %s", ref(e), strings.Join(verbs, " ")))
		return
	}
	n, ok := g.store.FindScript(e.ID, verb)
	if !ok {
		d.Send(fmt.Sprintf("%s has no verb %q.", ref(e), verb))
		return
	}
	if hasSwitch(switches, "tree") {
		data, err := tree.Encode(n)
		if err != nil {
			d.Send("Error: " + err.Error())
			return
		}
		d.Send(string(data))
		return
	}
	for _, line := range strings.Split(render.Decompile(n), "\n") {
		d.Send(line)
	}
}

// cmdOpcodes lists registered opcodes, optionally filtered by category or
// name prefix.
func cmdOpcodes(g *Game, d *Descriptor, args string, _ []string) {
	filter := strings.ToLower(strings.TrimSpace(args))
	byCat := make(map[string][]string)
	for _, op := range g.Registry.Opcodes() {
		if filter != "" && op.Category != filter && !strings.HasPrefix(op.Name, filter) {
			continue
		}
		cat := op.Category
		if cat == "" {
			cat = "other"
		}
		byCat[cat] = append(byCat[cat], op.Name)
	}
	if len(byCat) == 0 {
		d.Send("No matching opcodes.")
		return
	}
	cats := make([]string, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		d.Send(fmt.Sprintf("%-10s %s", c+":", strings.Join(byCat[c], " ")))
	}
}

// --- Building ---

// cmdCreate makes a thing, or with /proto a prototype, in the player's
// inventory: @create[/proto] <name>[=<prototype>]
func cmdCreate(g *Game, d *Descriptor, args string, switches []string) {
	name, proto, _ := splitAssign(args)
	if name == "" {
		d.Send("Create what?")
		return
	}
	e := &gamedb.Entity{
		Name:     name,
		Kind:     gamedb.KindThing,
		Location: d.Player,
		Owner:    d.Player,
	}
	if hasSwitch(switches, "proto") {
		e.Kind = gamedb.KindPrototype
		e.Location = ""
	}
	if proto != "" {
		p, ok := matchOrComplain(g, d, proto)
		if !ok {
			return
		}
		e.Prototype = p.ID
	}
	id, err := g.store.CreateEntity(e)
	if err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	d.Send(fmt.Sprintf("Created %s %s(%s).", e.Kind, name, id))
}

// cmdSet evaluates an expression into a prop: @set <target>/<prop>=<expr>.
// An empty expression deletes the prop.
func cmdSet(g *Game, d *Descriptor, args string, _ []string) {
	lhs, expr, ok := splitAssign(args)
	target, prop := splitTarget(lhs)
	if !ok || target == "" || prop == "" {
		d.Send("Usage: @set <target>/<prop>=<expression>")
		return
	}
	e, ok := controlOrComplain(g, d, target)
	if !ok {
		return
	}
	var v any
	if expr != "" {
		n, err := compiler.CompileExpr(expr)
		if err != nil {
			d.Send(err.Error())
			return
		}
		v, err = g.Run(context.Background(), d.Player, d.Player, n, nil)
		if err != nil {
			d.Send(FaultText(err))
			return
		}
	}
	if err := g.store.UpdateEntity(e.ID, gamedb.Patch{Props: map[string]any{prop: v}}); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	if v == nil {
		d.Send(fmt.Sprintf("%s/%s cleared.", ref(e), prop))
		return
	}
	d.Send(fmt.Sprintf("%s/%s = %s", ref(e), prop, render.DecompileValue(v)))
}

func cmdDestroy(g *Game, d *Descriptor, args string, _ []string) {
	e, ok := controlOrComplain(g, d, args)
	if !ok {
		return
	}
	if e.ID == d.Player {
		d.Send("You can't destroy yourself.")
		return
	}
	if e.Kind == gamedb.KindPlayer && !g.IsWizard(d.Player) {
		d.Send("Permission denied.")
		return
	}
	g.Caps.RevokeAll(e.ID)
	if err := g.store.DeleteEntity(e.ID); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	d.Send(fmt.Sprintf("Destroyed %s.", ref(e)))
}

func cmdExamine(g *Game, d *Descriptor, args string, _ []string) {
	target := "here"
	if args != "" {
		target = args
	}
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	d.Send(fmt.Sprintf("%s [%s]", ref(e), e.Kind))
	if e.Owner != "" {
		d.Send("Owner: " + g.Name(e.Owner) + "(" + e.Owner + ")")
	}
	if e.Prototype != "" {
		d.Send("Prototype: " + g.Name(e.Prototype) + "(" + e.Prototype + ")")
	}
	if e.Location != "" {
		d.Send("Location: " + g.Name(e.Location) + "(" + e.Location + ")")
	}
	keys := make([]string, 0, len(e.Props))
	for k := range e.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Send(fmt.Sprintf("  %s: %s", k, render.DecompileValue(e.Props[k])))
	}
	if len(e.Scripts) > 0 {
		verbs := make([]string, 0, len(e.Scripts))
		for v := range e.Scripts {
			verbs = append(verbs, v)
		}
		sort.Strings(verbs)
		d.Send("Verbs: " + strings.Join(verbs, " "))
	}
	if g.Controls(d.Player, e.ID) {
		for _, c := range g.Caps.Granted(e.ID) {
			d.Send("Grant: " + c.Type())
		}
	}
}

// --- Capabilities ---

// cmdGrant: @grant <target>=<type> [<json params>]
func cmdGrant(g *Game, d *Descriptor, args string, _ []string) {
	target, rest, ok := splitAssign(args)
	typ, raw, _ := strings.Cut(rest, " ")
	if !ok || target == "" || typ == "" {
		d.Send("Usage: @grant <target>=<type> [<json params>]")
		return
	}
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	var params any
	if raw = strings.TrimSpace(raw); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			d.Send("Invalid params: " + err.Error())
			return
		}
	}
	if _, err := g.Caps.Grant(e.ID, typ, params); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	log.Printf("GRANT %s to %s by %s", typ, e.ID, d.Player)
	d.Send(fmt.Sprintf("Granted %s to %s.", typ, ref(e)))
}

// cmdRevoke: @revoke <target>[=<type>]. Without a type every grant goes.
func cmdRevoke(g *Game, d *Descriptor, args string, _ []string) {
	target, typ, _ := splitAssign(args)
	e, ok := matchOrComplain(g, d, target)
	if !ok {
		return
	}
	if typ == "" {
		g.Caps.RevokeAll(e.ID)
		log.Printf("REVOKE all from %s by %s", e.ID, d.Player)
		d.Send(fmt.Sprintf("Revoked all capabilities from %s.", ref(e)))
		return
	}
	if err := g.Caps.Revoke(e.ID, typ); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	log.Printf("REVOKE %s from %s by %s", typ, e.ID, d.Player)
	d.Send(fmt.Sprintf("Revoked %s from %s.", typ, ref(e)))
}

func cmdGrants(g *Game, d *Descriptor, args string, _ []string) {
	if args == "" {
		args = "me"
	}
	e, ok := controlOrComplain(g, d, args)
	if !ok {
		return
	}
	caps := g.Caps.Granted(e.ID)
	if len(caps) == 0 {
		d.Send(fmt.Sprintf("%s holds no capabilities.", ref(e)))
		return
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Type() < caps[j].Type() })
	for _, c := range caps {
		d.Send(c.String())
	}
}

// --- Administration ---

// cmdDbck checks the world; with /fix it repairs what it can.
func cmdDbck(g *Game, d *Descriptor, _ string, switches []string) {
	v := validate.New(g.store,
		&validate.IntegrityChecker{},
		&validate.PropsChecker{},
		validate.RegistryChecker(g.Registry),
		&validate.GrantChecker{Classes: g.Caps.Classes()},
	)
	v.Run()
	if hasSwitch(switches, "fix") {
		n, err := v.ApplyAll()
		if err != nil {
			d.Send("Error: " + err.Error())
		}
		log.Printf("DBCK fixed %d finding(s) for %s", n, d.Player)
	}
	for _, line := range validate.GenerateReport(v).Lines() {
		d.Send(line)
	}
}

// cmdBackup copies the bolt file: @backup [<path>]
func cmdBackup(g *Game, d *Descriptor, args string, _ []string) {
	if g.Bolt == nil {
		d.Send("The world is not persisted; nothing to back up.")
		return
	}
	path := strings.TrimSpace(args)
	if path == "" {
		path = fmt.Sprintf("%s.%s.bak", g.Bolt.Path(), time.Now().UTC().Format("20060102T150405"))
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(g.Bolt.Path()), path)
	}
	if err := g.Bolt.Backup(path); err != nil {
		d.Send("Backup failed: " + err.Error())
		return
	}
	log.Printf("Backup written to %s by %s", path, d.Player)
	d.Send("Backup written to " + path)
}

// cmdArchive bundles the world into archive_dir: @archive[/list]
func cmdArchive(g *Game, d *Descriptor, _ string, switches []string) {
	if hasSwitch(switches, "list") {
		list, err := archive.ListArchives(g.Conf.ArchiveDir)
		if err != nil {
			d.Send("Error: " + err.Error())
			return
		}
		if len(list) == 0 {
			d.Send("No archives in " + g.Conf.ArchiveDir)
			return
		}
		for _, a := range list {
			d.Send(fmt.Sprintf("%-32s %s  %d entities, %d scripts, %d bytes",
				a.Filename, a.Timestamp, a.Entities, a.Scripts, a.Size))
		}
		return
	}

	p := archive.Params{
		ScriptDir: g.Conf.ScriptDir,
		HelpFile:  g.Conf.HelpFile,
		ConfPath:  g.Conf.ConfPath,
		OutDir:    g.Conf.ArchiveDir,
		Server:    VersionString(),
		MudName:   g.Conf.MudName,
		Entities:  len(g.store.ListEntities()),
	}
	if g.Bolt != nil {
		p.Snapshot = g.Bolt.Backup
	}
	path, err := archive.CreateArchive(p)
	if err != nil {
		log.Printf("Archive failed: %v", err)
		d.Send("Archive failed: " + err.Error())
		return
	}
	log.Printf("Archive written to %s by %s", path, d.Player)
	d.Send("Archive written to " + path)
}

func cmdStats(g *Game, d *Descriptor, _ string, _ []string) {
	tcp, ws := g.Conns.SessionCounts()
	d.Send(fmt.Sprintf("Uptime: %s", g.Uptime().Truncate(time.Second)))
	d.Send(fmt.Sprintf("Entities: %d", len(g.store.ListEntities())))
	d.Send(fmt.Sprintf("Sessions: %d tcp, %d websocket", tcp, ws))
	d.Send(fmt.Sprintf("Opcodes: %d  Capability types: %s",
		len(g.Registry.Opcodes()), strings.Join(g.Caps.Classes().Types(), " ")))
}

func cmdVersion(g *Game, d *Descriptor, _ string, _ []string) {
	d.Send(VersionString())
}

// cmdDebug: @debug [on|off] or @debug <topic> on|off
func cmdDebug(g *Game, d *Descriptor, args string, _ []string) {
	fields := strings.Fields(strings.ToLower(args))
	switch {
	case len(fields) == 0:
	case len(fields) == 1 && fields[0] == "on":
		SetDebug(true)
	case len(fields) == 1 && fields[0] == "off":
		SetDebug(false)
	case len(fields) == 2 && (fields[1] == "on" || fields[1] == "off"):
		if err := setDebugTopic(fields[0], fields[1] == "on"); err != nil {
			d.Send(err.Error())
			return
		}
	default:
		d.Send("Usage: @debug [on|off] or @debug <topic> on|off")
		return
	}
	on := enabledDebugTopics()
	switch {
	case len(on) == 0:
		d.Send("Debug logging is off.")
	case len(on) == len(debugTopicNames):
		d.Send("Debug logging is on.")
	default:
		d.Send("Debug logging is on for: " + strings.Join(on, " "))
	}
}

// cmdPassword: @password <old>=<new>
func cmdPassword(g *Game, d *Descriptor, args string, _ []string) {
	oldPw, newPw, ok := splitAssign(args)
	if !ok || newPw == "" {
		d.Send("Usage: @password <old>=<new>")
		return
	}
	p, ok := g.store.GetEntity(d.Player)
	if !ok || !CheckPassword(p, oldPw) {
		d.Send("Sorry.")
		return
	}
	if len(newPw) < 4 {
		d.Send("Passwords must be at least 4 characters.")
		return
	}
	hash, err := HashPassword(newPw)
	if err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	if err := g.store.UpdateEntity(d.Player, gamedb.Patch{Password: &hash}); err != nil {
		d.Send("Error: " + err.Error())
		return
	}
	d.Send("Password changed.")
}

// --- Session ---

func cmdWho(g *Game, d *Descriptor, _ string, _ []string) {
	g.ShowWho(d)
}

// ShowWho lists logged-in sessions.
func (g *Game) ShowWho(d *Descriptor) {
	d.Send(fmt.Sprintf("%-20s %10s %6s  %s", "Player Name", "On For", "Idle", "Via"))
	count := 0
	for _, dd := range g.Conns.AllDescriptors() {
		if dd.State != ConnConnected {
			continue
		}
		count++
		d.Send(fmt.Sprintf("%-20s %10s %6s  %s",
			g.Name(dd.Player),
			FormatConnTime(time.Since(dd.ConnTime)),
			FormatIdleTime(time.Since(dd.LastCmd)),
			dd.Transport))
	}
	d.Send(fmt.Sprintf("%d session(s) logged in.", count))
}

func cmdQuit(g *Game, d *Descriptor, _ string, _ []string) {
	d.Send("Goodbye.")
	g.Disconnect(d)
}

// Disconnect logs a session out and closes it.
func (g *Game) Disconnect(d *Descriptor) {
	if d.State == ConnConnected && d.Player != "" {
		d.State = ConnLogin
		g.Emit(events.Event{Type: events.EvDisconnect, Entity: d.Player, Source: d.Player})
		if loc := g.Location(d.Player); loc != "" {
			g.EmitRoomExcept(loc, d.Player, events.Event{
				Type:   events.EvDisconnect,
				Source: d.Player,
				Text:   fmt.Sprintf("%s has disconnected.", g.Name(d.Player)),
			})
		}
		log.Printf("DISCONNECT %s (%s) from %s", g.Name(d.Player), d.Player, d.Addr)
	}
	g.Conns.Remove(d)
	d.Close()
}
