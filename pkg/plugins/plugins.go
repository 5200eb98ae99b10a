// Package plugins provides the capability classes shipped with the server
// and the loader that registers them from configuration.
//
// Each plugin contributes one capability.Class. Scripts reach its methods
// through the type.method opcodes built by capability.Manager.Opcodes, so a
// plugin never touches the interpreter registry directly.
package plugins

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// Deps are the host services plugins are built against.
type Deps struct {
	Store gamedb.Store
	HTTP  *http.Client // nil means a client with a 30s timeout
}

func (d Deps) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Plugin is a loadable capability class.
type Plugin struct {
	Name string
	New  func(d Deps) *capability.Class
	// Close releases resources the class acquired, if any.
	Close func() error
}

// Builtin returns the plugins compiled into the server, keyed by class type.
func Builtin() map[string]*Plugin {
	sql := newSQLPool()
	return map[string]*Plugin{
		"image": {Name: "image", New: imageClass},
		"fetch": {Name: "fetch", New: fetchClass},
		"spawn": {Name: "spawn", New: spawnClass},
		"sql":   {Name: "sql", New: sql.class, Close: sql.Close},
	}
}

// Loaded is the set of plugins registered by Load.
type Loaded struct {
	plugins []*Plugin
}

// Names lists the loaded class types.
func (l *Loaded) Names() []string {
	out := make([]string, len(l.plugins))
	for i, p := range l.plugins {
		out[i] = p.Name
	}
	return out
}

// Close releases every loaded plugin's resources.
func (l *Loaded) Close() error {
	var first error
	for _, p := range l.plugins {
		if p.Close == nil {
			continue
		}
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Load registers the named builtin plugins into classes. An empty list
// loads all of them. Classes is left unsealed.
func Load(classes *capability.Classes, names []string, d Deps) (*Loaded, error) {
	avail := Builtin()
	if len(names) == 0 {
		for name := range avail {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	l := &Loaded{}
	for _, name := range names {
		p, ok := avail[name]
		if !ok {
			return l, fmt.Errorf("plugins: unknown plugin %q", name)
		}
		c := p.New(d)
		if err := classes.Register(c); err != nil {
			return l, fmt.Errorf("plugins: %s: %w", name, err)
		}
		l.plugins = append(l.plugins, p)
		log.Printf("plugins: loaded %s (%d methods)", name, len(c.Methods))
	}
	return l, nil
}

// GrantConf is a grant declared in the server configuration.
type GrantConf struct {
	Entity string         `yaml:"entity"`
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// ApplyGrants issues the configured grants. Grants naming entities that do
// not exist are skipped with a log line; any other failure stops.
func ApplyGrants(m *capability.Manager, store gamedb.Store, grants []GrantConf) (int, error) {
	n := 0
	for _, g := range grants {
		if store != nil {
			if _, ok := store.GetEntity(g.Entity); !ok {
				log.Printf("plugins: grant %s@%s: no such entity, skipped", g.Type, g.Entity)
				continue
			}
		}
		if _, err := m.Grant(g.Entity, g.Type, g.Params); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
