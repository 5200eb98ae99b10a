// Command scriptc compiles, decompiles and runs scripts outside the server.
//
//	scriptc compile [-o out.json] [-pretty] file.ms
//	scriptc decompile file.json
//	scriptc run [-plugins spawn,fetch] [-grant 'spawn={"maxProps":4}'] [-args '[1,2]'] file.ms|file.json
//	scriptc repl
//
// A file argument of "-" reads standard input. With no subcommand scriptc
// starts the REPL.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/plugins"
	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/server"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return cmdREPL(nil, stdout, stderr)
	}
	switch args[0] {
	case "compile":
		return cmdCompile(args[1:], stdin, stdout, stderr)
	case "decompile":
		return cmdDecompile(args[1:], stdin, stdout, stderr)
	case "run":
		return cmdRun(args[1:], stdin, stdout, stderr)
	case "repl":
		return cmdREPL(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, server.VersionString())
		return 0
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "scriptc: unknown command %q\n%s\n", args[0], usageText)
		return 2
	}
}

const usageText = `Usage:
  scriptc compile [-o out.json] [-pretty] file.ms
  scriptc decompile file.json
  scriptc run [-plugins list] [-grant type=json]... [-args json] [-v] file.ms|file.json
  scriptc repl [-plugins list] [-grant type=json]... [-v]`

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func cmdCompile(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "Write the tree here instead of stdout")
	pretty := fs.Bool("pretty", false, "Indent the JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: scriptc compile [-o out.json] [-pretty] file.ms")
		return 2
	}
	src, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	n, err := compiler.Compile(filepath.Base(fs.Arg(0)), string(src))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	data, err := tree.Encode(n)
	if err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	if *pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err == nil {
			data = buf.Bytes()
		}
	}
	data = append(data, '\n')
	if *out == "" {
		stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	return 0
}

func cmdDecompile(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: scriptc decompile file.json")
		return 2
	}
	data, err := readInput(args[0], stdin)
	if err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	n, err := tree.Decode(data)
	if err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, render.Decompile(n))
	return 0
}

// loadScript reads surface source, or a JSON tree when the file ends in
// .json.
func loadScript(name string, stdin io.Reader) (tree.Node, error) {
	data, err := readInput(name, stdin)
	if err != nil {
		return tree.Node{}, err
	}
	if strings.HasSuffix(name, ".json") {
		return tree.Decode(data)
	}
	return compiler.Compile(filepath.Base(name), string(data))
}

func cmdRun(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pluginList := fs.String("plugins", "", "Comma-separated capability plugins to load (default all)")
	var grants grantFlags
	fs.Var(&grants, "grant", "Grant the script a capability, as type=json-params (repeatable)")
	argsJSON := fs.String("args", "", "JSON array bound to args")
	verbose := fs.Bool("v", false, "Show server log output")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: scriptc run [-plugins list] [-args json] file.ms|file.json")
		return 2
	}
	var scriptArgs []any
	if *argsJSON != "" {
		if err := json.Unmarshal([]byte(*argsJSON), &scriptArgs); err != nil {
			fmt.Fprintf(stderr, "scriptc: -args: %v\n", err)
			return 2
		}
	}
	n, err := loadScript(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	sb, err := newSandbox(*pluginList, grants, *verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "scriptc: %v\n", err)
		return 1
	}
	defer sb.Close()

	v, err := sb.run(context.Background(), n, func(msg string) { fmt.Fprintln(stdout, msg) }, scriptArgs...)
	if err != nil {
		fmt.Fprintln(stderr, server.FaultText(err))
		return 1
	}
	fmt.Fprintln(stdout, "=> "+render.DecompileValue(v))
	return 0
}

// sandbox is a throwaway in-memory world with a wizard to run scripts as.
type sandbox struct {
	game   *server.Game
	wizard string
}

func newSandbox(pluginList string, grants []plugins.GrantConf, verbose bool, logOut io.Writer) (*sandbox, error) {
	if verbose {
		log.SetOutput(logOut)
	} else {
		log.SetOutput(io.Discard)
	}
	conf := server.DefaultGameConf()
	conf.Port = 0
	conf.WebPort = 0
	conf.TickIntervalMS = 0
	conf.WizardPassword = "scriptc"
	if pluginList != "" {
		conf.Plugins = strings.Split(pluginList, ",")
	}
	db := gamedb.NewDatabase()
	g, err := server.NewGame(db, conf)
	if err != nil {
		return nil, err
	}
	if err := g.Bootstrap(); err != nil {
		g.Close()
		return nil, err
	}
	wiz, ok := server.LookupPlayer(db, conf.WizardName)
	if !ok {
		g.Close()
		return nil, fmt.Errorf("no wizard after bootstrap")
	}
	for i := range grants {
		grants[i].Entity = wiz.ID
	}
	if _, err := plugins.ApplyGrants(g.Caps, db, grants); err != nil {
		g.Close()
		return nil, err
	}
	return &sandbox{game: g, wizard: wiz.ID}, nil
}

func (sb *sandbox) run(ctx context.Context, n tree.Node, send func(string), args ...any) (any, error) {
	return sb.game.Run(ctx, sb.wizard, sb.wizard, n, send, args...)
}

func (sb *sandbox) Close() error { return sb.game.Close() }

// grantFlags collects -grant type=json flags.
type grantFlags []plugins.GrantConf

func (g *grantFlags) String() string {
	var types []string
	for _, gc := range *g {
		types = append(types, gc.Type)
	}
	return strings.Join(types, ",")
}

func (g *grantFlags) Set(s string) error {
	typ, params, _ := strings.Cut(s, "=")
	if typ == "" {
		return fmt.Errorf("want type=json, got %q", s)
	}
	gc := plugins.GrantConf{Type: typ}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &gc.Params); err != nil {
			return fmt.Errorf("grant %s: %w", typ, err)
		}
	}
	*g = append(*g, gc)
	return nil
}
