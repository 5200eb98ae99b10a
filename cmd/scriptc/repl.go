package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/server"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

const (
	historyFile = ".scriptc_history"
	promptMain  = "ms> "
	promptCont  = "... "
)

const replHelp = `REPL commands:
  :quit         Exit
  :tree         Toggle printing the compiled tree before each result
  :decompile    Toggle printing the decompiled text before each result
  :opcodes      List opcode names
  :help         This text
Each entry runs as its own invocation; use setprop/prop to keep state.`

func red(s string) string   { return "\x1b[31m" + s + "\x1b[0m" }
func green(s string) string { return "\x1b[32m" + s + "\x1b[0m" }

func cmdREPL(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pluginList := fs.String("plugins", "", "Comma-separated capability plugins to load (default all)")
	var grants grantFlags
	fs.Var(&grants, "grant", "Grant the REPL a capability, as type=json-params (repeatable)")
	verbose := fs.Bool("v", false, "Show server log output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	sb, err := newSandbox(*pluginList, grants, *verbose, stderr)
	if err != nil {
		fmt.Fprintln(stderr, red(err.Error()))
		return 1
	}
	defer sb.Close()

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(opcodeCompleter(sb.game))

	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	fmt.Fprintf(stdout, "%s REPL\nCtrl+C cancels input, Ctrl+D exits. Type :help for commands.\n", server.VersionString())

	r := &repl{sb: sb, out: stdout}
	for {
		src, ok := readEntry(ln)
		if !ok {
			fmt.Fprintln(stdout)
			return 0
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(src)
		if r.command(strings.TrimSpace(src)) {
			return 0
		}
	}
}

// readEntry reads lines until they form a complete entry. ok is false on
// end of input.
func readEntry(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if strings.HasPrefix(strings.TrimSpace(b.String()), ":") || !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

// incomplete reports whether src fails to compile only because it ends
// too early, as with an unclosed block.
func incomplete(src string) bool {
	_, err := compiler.Compile("", src)
	var se *compiler.SyntaxError
	return errors.As(err, &se) && strings.Contains(se.Msg, "end of input")
}

type repl struct {
	sb       *sandbox
	out      io.Writer
	showTree bool
	showText bool
}

// command handles one entry and reports whether the REPL should exit.
func (r *repl) command(src string) bool {
	switch src {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprintln(r.out, replHelp)
		return false
	case ":tree":
		r.showTree = !r.showTree
		fmt.Fprintf(r.out, "tree display %s\n", onOff(r.showTree))
		return false
	case ":decompile":
		r.showText = !r.showText
		fmt.Fprintf(r.out, "decompile display %s\n", onOff(r.showText))
		return false
	case ":opcodes":
		var names []string
		for _, op := range r.sb.game.Registry.Opcodes() {
			names = append(names, op.Name)
		}
		fmt.Fprintln(r.out, strings.Join(names, " "))
		return false
	}
	if strings.HasPrefix(src, ":") {
		fmt.Fprintln(r.out, red("unknown REPL command "+src))
		return false
	}
	r.eval(src)
	return false
}

func (r *repl) eval(src string) {
	n, err := compiler.Compile("repl", src)
	if err != nil {
		fmt.Fprintln(r.out, red(err.Error()))
		return
	}
	if r.showTree {
		if data, err := tree.Encode(n); err == nil {
			fmt.Fprintln(r.out, string(data))
		}
	}
	if r.showText {
		fmt.Fprintln(r.out, render.Decompile(n))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	v, err := r.sb.run(ctx, n, func(msg string) { fmt.Fprintln(r.out, msg) })
	if err != nil {
		fmt.Fprintln(r.out, red(server.FaultText(err)))
		return
	}
	fmt.Fprintln(r.out, green("=> "+render.DecompileValue(v)))
}

// opcodeCompleter completes the identifier under the cursor against the
// registered opcode names.
func opcodeCompleter(g *server.Game) liner.Completer {
	var names []string
	for _, op := range g.Registry.Opcodes() {
		names = append(names, op.Name)
	}
	return func(line string) []string {
		i := strings.LastIndexFunc(line, func(r rune) bool {
			return !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
		})
		prefix, word := line[:i+1], line[i+1:]
		if word == "" {
			return nil
		}
		var out []string
		for _, name := range names {
			if strings.HasPrefix(name, word) {
				out = append(out, prefix+name)
			}
		}
		return out
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
