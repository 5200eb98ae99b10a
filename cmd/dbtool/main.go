// Command dbtool inspects a world's bolt database offline: counts, players,
// rooms, a single entity, opcode usage and integrity checks.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/boltstore"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/server"
	"github.com/crystal-mush/mushscript/pkg/tree"
	"github.com/crystal-mush/mushscript/pkg/validate"
)

func main() {
	boltPath := flag.String("bolt", os.Getenv("MUSH_BOLT"), "Path to bbolt database (env: MUSH_BOLT)")
	showPlayers := flag.Bool("players", false, "List all players")
	showRooms := flag.Bool("rooms", false, "List rooms with their contents")
	showEntity := flag.String("entity", "", "Show details for one entity id")
	showOpStats := flag.Bool("opstats", false, "Show opcode usage across all scripts")
	runChecks := flag.Bool("validate", false, "Run integrity checks")
	jsonReport := flag.Bool("json", false, "With -validate, print the report as JSON")
	export := flag.String("export", "", "Write every entity as JSON to this file ('-' for stdout)")
	flag.Parse()

	if *boltPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: dbtool -bolt <world.bolt> [options]")
		fmt.Fprintln(os.Stderr, "  -players        List all players")
		fmt.Fprintln(os.Stderr, "  -rooms          List rooms")
		fmt.Fprintln(os.Stderr, "  -entity <id>    Show entity details")
		fmt.Fprintln(os.Stderr, "  -opstats        Show opcode usage stats")
		fmt.Fprintln(os.Stderr, "  -validate       Run integrity checks (-json for a JSON report)")
		fmt.Fprintln(os.Stderr, "  -export <file>  Dump entities as JSON")
		os.Exit(1)
	}
	if _, err := os.Stat(*boltPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	log.SetOutput(io.Discard)
	start := time.Now()
	store, err := boltstore.Open(*boltPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %s in %v\n\n", *boltPath, time.Since(start))

	out := os.Stdout
	printSummary(out, store)

	if *showPlayers {
		fmt.Fprintln(out)
		printPlayers(out, store)
	}
	if *showRooms {
		fmt.Fprintln(out)
		printRooms(out, store)
	}
	if *showEntity != "" {
		fmt.Fprintln(out)
		printEntity(out, store, *showEntity)
	}
	if *showOpStats {
		fmt.Fprintln(out)
		printOpStats(out, store)
	}
	if *runChecks {
		fmt.Fprintln(out)
		if code := runValidation(out, store, *jsonReport); code != 0 {
			store.Close()
			os.Exit(code)
		}
	}
	if *export != "" {
		if err := exportEntities(*export, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}
}

func printSummary(w io.Writer, store gamedb.Store) {
	fmt.Fprintln(w, "=== WORLD SUMMARY ===")
	kinds := make(map[gamedb.Kind]int)
	scripts, grants, props := 0, 0, 0
	for _, e := range store.ListEntities() {
		kinds[e.Kind]++
		scripts += len(e.Scripts)
		grants += len(e.Grants)
		props += len(e.Props)
	}
	fmt.Fprintln(w, "--- Entities by Kind ---")
	for _, k := range []gamedb.Kind{gamedb.KindRoom, gamedb.KindThing, gamedb.KindPlayer, gamedb.KindExit, gamedb.KindPrototype} {
		if c, ok := kinds[k]; ok {
			fmt.Fprintf(w, "  %-10s %d\n", k, c)
		}
	}
	fmt.Fprintf(w, "\nScripts: %d  Props: %d  Grants: %d\n", scripts, props, grants)
}

func printPlayers(w io.Writer, store gamedb.Store) {
	fmt.Fprintln(w, "=== PLAYERS ===")
	var players []*gamedb.Entity
	for _, e := range store.ListEntities() {
		if e.Kind == gamedb.KindPlayer {
			players = append(players, e)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Created.Before(players[j].Created) })

	fmt.Fprintf(w, "%-38s %-20s %-6s %s\n", "ID", "Name", "Wiz", "Location")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, p := range players {
		wiz := ""
		if p.Wizard {
			wiz = "yes"
		}
		fmt.Fprintf(w, "%-38s %-20s %-6s %s\n", p.ID, truncate(p.Name, 20), wiz, nameOf(store, p.Location))
	}
	fmt.Fprintf(w, "\nTotal players: %d\n", len(players))
}

func printRooms(w io.Writer, store gamedb.Store) {
	fmt.Fprintln(w, "=== ROOMS ===")
	var rooms []*gamedb.Entity
	for _, e := range store.ListEntities() {
		if e.Kind == gamedb.KindRoom {
			rooms = append(rooms, e)
		}
	}
	fmt.Fprintf(w, "%-38s %-25s %8s %8s\n", "ID", "Name", "Contents", "Verbs")
	fmt.Fprintln(w, strings.Repeat("-", 82))
	for _, r := range rooms {
		fmt.Fprintf(w, "%-38s %-25s %8d %8d\n", r.ID, truncate(r.Name, 25), len(store.Contents(r.ID)), len(r.Scripts))
	}
	fmt.Fprintf(w, "\nTotal rooms: %d\n", len(rooms))
}

func printEntity(w io.Writer, store gamedb.Store, id string) {
	e, ok := store.GetEntity(id)
	if !ok {
		fmt.Fprintf(w, "Entity %s not found.\n", id)
		return
	}
	fmt.Fprintf(w, "=== %s (%s) ===\n", e.Name, e.ID)
	fmt.Fprintf(w, "Kind:      %s\n", e.Kind)
	fmt.Fprintf(w, "Owner:     %s\n", nameOf(store, e.Owner))
	fmt.Fprintf(w, "Location:  %s\n", nameOf(store, e.Location))
	if e.Prototype != "" {
		fmt.Fprintf(w, "Prototype: %s\n", nameOf(store, e.Prototype))
	}
	fmt.Fprintf(w, "Created:   %s\n", e.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Modified:  %s\n", e.Modified.Format(time.RFC3339))

	if len(e.Props) > 0 {
		fmt.Fprintf(w, "\nProps (%d):\n", len(e.Props))
		for _, k := range sortedKeys(e.Props) {
			fmt.Fprintf(w, "  %s = %s\n", k, render.DecompileValue(e.Props[k]))
		}
	}
	if len(e.Grants) > 0 {
		fmt.Fprintf(w, "\nGrants (%d):\n", len(e.Grants))
		for _, g := range e.Grants {
			params, _ := json.Marshal(g.Params)
			fmt.Fprintf(w, "  %s %s\n", g.Type, params)
		}
	}
	if len(e.Scripts) > 0 {
		fmt.Fprintf(w, "\nScripts (%d):\n", len(e.Scripts))
		for _, verb := range sortedKeys(e.Scripts) {
			fmt.Fprintf(w, "  --- %s ---\n", verb)
			for _, line := range strings.Split(render.Decompile(e.Scripts[verb]), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}
}

// printOpStats counts opcode call sites across every script.
func printOpStats(w io.Writer, store gamedb.Store) {
	fmt.Fprintln(w, "=== OPCODE USAGE ===")
	uses := make(map[string]int)
	holders := make(map[string]int)
	for _, e := range store.ListEntities() {
		seen := make(map[string]bool)
		for _, n := range e.Scripts {
			tree.Walk(n, func(c tree.Node) bool {
				if op := c.Op(); op != "" {
					uses[op]++
					seen[op] = true
				}
				return true
			})
		}
		for op := range seen {
			holders[op]++
		}
	}

	ops := sortedKeys(uses)
	sort.SliceStable(ops, func(i, j int) bool { return uses[ops[i]] > uses[ops[j]] })
	fmt.Fprintf(w, "%-24s %8s %10s\n", "Opcode", "Uses", "Entities")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	for _, op := range ops {
		fmt.Fprintf(w, "%-24s %8d %10d\n", op, uses[op], holders[op])
	}
	fmt.Fprintf(w, "\nDistinct opcodes: %d\n", len(ops))
}

// runValidation runs every checker against a game built over store so that
// capability opcodes from the builtin plugins are known. It returns a
// non-zero exit code when errors were found.
func runValidation(w io.Writer, store gamedb.Store, asJSON bool) int {
	conf := server.DefaultGameConf()
	conf.Port, conf.WebPort = 0, 0
	g, err := server.NewGame(store, conf)
	if err != nil {
		fmt.Fprintf(w, "ERROR: %v\n", err)
		return 1
	}
	defer g.Close()

	v := validate.New(store,
		&validate.IntegrityChecker{},
		&validate.PropsChecker{},
		validate.RegistryChecker(g.Registry),
		&validate.GrantChecker{Classes: g.Caps.Classes()},
	)
	v.Run()
	report := validate.GenerateReport(v)
	if asJSON {
		if err := report.WriteJSON(w); err != nil {
			fmt.Fprintf(w, "ERROR: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintln(w, "=== VALIDATION ===")
		for _, line := range report.Lines() {
			fmt.Fprintln(w, line)
		}
	}
	for _, f := range v.Findings() {
		if f.Severity == validate.SevError {
			return 2
		}
	}
	return 0
}

func exportEntities(path string, store gamedb.Store) error {
	data, err := json.MarshalIndent(store.ListEntities(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func nameOf(store gamedb.Store, id string) string {
	if id == "" {
		return "-"
	}
	if e, ok := store.GetEntity(id); ok {
		return fmt.Sprintf("%s (%s)", e.Name, id)
	}
	return id + " (missing)"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
