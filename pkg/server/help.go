package server

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

// HelpFile holds help entries keyed by lowercase topic. Files use the
// "& topic" format: each entry starts with one or more "& name" lines.
type HelpFile struct {
	Entries map[string]string
}

var commandHelp = map[string]string{
	"help": `help <topic>        Show a help entry. Wildcards list matching topics.
Topics: commands, scripts, capabilities, and every opcode name.`,
	"commands": `Commands:
  look [<thing>]            say <msg> (or "<msg>)       inventory
  eval <code> (or ;<code>)  run <thing>/<verb> [<args>]
  @script <thing>/<verb>=<source>      @decompile[/tree] <thing>[/<verb>]
  @create[/proto] <name>[=<proto>]     @set <thing>/<prop>=<value>
  @destroy <thing>   @examine <thing>  @grants <thing>   @opcodes [<filter>]
  @grant <thing>=<type> <json>   @revoke <thing>[=<type>]   (wizard)
  @dbck[/fix]   @backup [<path>]   @archive[/list]   @debug [<topic>] on|off   (wizard)
  @stats  @version  @password <old>=<new>  WHO  QUIT`,
	"scripts": `Scripts are attached to entities as verbs with @script or by writing
<entity>.<verb>.ms into the script directory. Verbs named "describe",
"hear" and "tick" are run by the world: on look, on say, and every tick.`,
	"capabilities": `Scripts reach the outside world only through capabilities granted by a
wizard with @grant. can(<type>) reports whether the running entity holds
one. @grants lists an entity's grants.`,
}

// LoadHelpFile parses a help file. It returns nil if the file cannot be
// opened.
func LoadHelpFile(path string) *HelpFile {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	hf := &HelpFile{Entries: make(map[string]string)}
	scanner := bufio.NewScanner(f)

	var currentTopics []string
	var buf strings.Builder

	saveEntry := func() {
		if len(currentTopics) == 0 {
			return
		}
		text := strings.TrimRight(buf.String(), "\n ")
		for _, topic := range currentTopics {
			hf.Entries[strings.ToLower(topic)] = text
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "& ") {
			topic := strings.TrimSpace(line[2:])
			if buf.Len() == 0 && len(currentTopics) > 0 {
				currentTopics = append(currentTopics, topic)
			} else {
				saveEntry()
				currentTopics = []string{topic}
				buf.Reset()
			}
		} else if len(currentTopics) > 0 {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	saveEntry()
	return hf
}

// BuildHelp returns the command topics plus one entry per registered
// opcode, overlaid with the entries of the file at extra (if any).
func BuildHelp(reg *eval.Registry, extra string) *HelpFile {
	hf := &HelpFile{Entries: make(map[string]string)}
	for topic, text := range commandHelp {
		hf.Entries[topic] = text
	}
	for _, op := range reg.Opcodes() {
		hf.Entries[strings.ToLower(op.Name)] = opcodeHelp(op)
	}
	if extra != "" {
		if f := LoadHelpFile(extra); f != nil {
			for k, v := range f.Entries {
				hf.Entries[k] = v
			}
			log.Printf("Loaded help file %s: %d entries", extra, len(f.Entries))
		} else {
			log.Printf("WARNING: could not read help file %s", extra)
		}
	}
	return hf
}

func opcodeHelp(op eval.OpcodeInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(%s)", op.Name, strings.Join(op.Args, ", "))
	if op.Label != "" {
		fmt.Fprintf(&sb, "\n  %s", op.Label)
	}
	switch {
	case op.MaxArgs < 0:
		fmt.Fprintf(&sb, "\n  Takes %d or more arguments.", op.MinArgs)
	case op.MinArgs == op.MaxArgs:
		fmt.Fprintf(&sb, "\n  Takes %d argument(s).", op.MinArgs)
	default:
		fmt.Fprintf(&sb, "\n  Takes %d to %d arguments.", op.MinArgs, op.MaxArgs)
	}
	if op.Category != "" {
		fmt.Fprintf(&sb, "\n  Category: %s", op.Category)
	}
	return sb.String()
}

// Lookup finds a help entry by topic: exact match, then the shortest key
// with topic as a prefix. A topic containing * or ? lists matching topics.
func (hf *HelpFile) Lookup(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		topic = "help"
	}

	if strings.ContainsAny(topic, "*?") {
		var matches []string
		for key := range hf.Entries {
			if ok, _ := path.Match(topic, key); ok {
				matches = append(matches, key)
			}
		}
		if len(matches) == 0 {
			return ""
		}
		sort.Strings(matches)
		return fmt.Sprintf("Here are the entries which match '%s':\n  %s",
			topic, strings.Join(matches, "  "))
	}

	if text, ok := hf.Entries[topic]; ok {
		return text
	}

	var bestKey string
	for key := range hf.Entries {
		if strings.HasPrefix(key, topic) {
			if bestKey == "" || len(key) < len(bestKey) || (len(key) == len(bestKey) && key < bestKey) {
				bestKey = key
			}
		}
	}
	if bestKey != "" {
		return hf.Entries[bestKey]
	}
	return ""
}

func cmdHelp(g *Game, d *Descriptor, args string, _ []string) {
	if g.Help == nil {
		d.Send("No help available.")
		return
	}
	text := g.Help.Lookup(args)
	if text == "" {
		d.Send(fmt.Sprintf("No entry for '%s'.", strings.TrimSpace(args)))
		return
	}
	d.Send(text)
}
