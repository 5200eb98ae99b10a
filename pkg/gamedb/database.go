package gamedb

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Database holds the complete in-memory world. It implements Store and is
// safe for concurrent use.
type Database struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

var _ Store = (*Database)(nil)

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{entities: make(map[string]*Entity)}
}

// Len returns the number of entities.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entities)
}

func (db *Database) GetEntity(id string) (*Entity, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entities[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (db *Database) CreateEntity(e *Entity) (string, error) {
	if e == nil {
		return "", fmt.Errorf("gamedb: create: nil entity")
	}
	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Kind == "" {
		c.Kind = KindThing
	}
	if !c.Kind.Valid() {
		return "", fmt.Errorf("gamedb: create %s: unknown kind %q", c.ID, c.Kind)
	}
	now := time.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Modified = now

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, dup := db.entities[c.ID]; dup {
		return "", fmt.Errorf("gamedb: create %s: %w", c.ID, ErrExists)
	}
	if c.Prototype != "" && db.protoCycleLocked(c.ID, c.Prototype) {
		return "", fmt.Errorf("gamedb: create %s: %w", c.ID, ErrPrototypeCycle)
	}
	db.entities[c.ID] = c
	return c.ID, nil
}

// Put stores e as-is, replacing any entity with the same id. Loaders use it.
func (db *Database) Put(e *Entity) {
	db.mu.Lock()
	db.entities[e.ID] = e.Clone()
	db.mu.Unlock()
}

func (db *Database) UpdateEntity(id string, p Patch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entities[id]
	if !ok {
		return fmt.Errorf("gamedb: update %s: %w", id, ErrNotFound)
	}
	if p.Prototype != nil && *p.Prototype != "" && db.protoCycleLocked(id, *p.Prototype) {
		return fmt.Errorf("gamedb: update %s: %w", id, ErrPrototypeCycle)
	}

	c := e.Clone()
	setString(&c.Name, p.Name)
	setString(&c.Location, p.Location)
	setString(&c.Prototype, p.Prototype)
	setString(&c.Owner, p.Owner)
	setString(&c.Password, p.Password)
	if p.Wizard != nil {
		c.Wizard = *p.Wizard
	}
	for k, v := range p.Props {
		if v == nil {
			delete(c.Props, k)
			continue
		}
		if c.Props == nil {
			c.Props = make(map[string]any)
		}
		c.Props[k] = copyValue(v)
	}
	for verb, n := range p.Scripts {
		if n == nil {
			delete(c.Scripts, verb)
			continue
		}
		if c.Scripts == nil {
			c.Scripts = make(map[string]tree.Node)
		}
		c.Scripts[verb] = *n
	}
	if p.Grants != nil {
		c.Grants = copyGrants(*p.Grants)
	}
	c.Modified = time.Now().UTC()
	db.entities[id] = c
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func (db *Database) DeleteEntity(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entities[id]; !ok {
		return fmt.Errorf("gamedb: delete %s: %w", id, ErrNotFound)
	}
	delete(db.entities, id)
	return nil
}

// chainLocked returns id followed by its prototypes, nearest first. A repeated id
// ends the walk.
func (db *Database) chainLocked(id string) []*Entity {
	var out []*Entity
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		e, ok := db.entities[id]
		if !ok {
			break
		}
		out = append(out, e)
		id = e.Prototype
	}
	return out
}

// protoCycleLocked reports whether making proto the prototype of id would
// close a loop.
func (db *Database) protoCycleLocked(id, proto string) bool {
	if proto == id {
		return true
	}
	for _, e := range db.chainLocked(proto) {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Chain returns the ids of id and its prototypes, nearest first.
func (db *Database) Chain(id string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	chain := db.chainLocked(id)
	ids := make([]string, len(chain))
	for i, e := range chain {
		ids[i] = e.ID
	}
	return ids
}

func (db *Database) ResolveProps(id string) (map[string]any, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	chain := db.chainLocked(id)
	if len(chain) == 0 {
		return nil, fmt.Errorf("gamedb: resolve %s: %w", id, ErrNotFound)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Props {
			out[k] = copyValue(v)
		}
	}
	return out, nil
}

func (db *Database) FindScript(id, verb string) (tree.Node, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, e := range db.chainLocked(id) {
		if n, ok := e.Scripts[verb]; ok {
			return n, true
		}
	}
	return tree.Node{}, false
}

func (db *Database) Contents(id string) []*Entity {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*Entity
	for _, e := range db.entities {
		if e.Location == id {
			out = append(out, e.Clone())
		}
	}
	sortByName(out)
	return out
}

func (db *Database) FindByName(name string, kind Kind) (*Entity, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, e := range db.entities {
		if (kind == "" || e.Kind == kind) && strings.EqualFold(e.Name, name) {
			return e.Clone(), true
		}
	}
	return nil, false
}

func (db *Database) ListEntities() []*Entity {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Entity, 0, len(db.entities))
	for _, e := range db.entities {
		out = append(out, e.Clone())
	}
	sortByName(out)
	return out
}

func sortByName(es []*Entity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Name != es[j].Name {
			return es[i].Name < es[j].Name
		}
		return es[i].ID < es[j].ID
	})
}
