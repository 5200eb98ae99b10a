package gamedb

import (
	"errors"
	"time"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

var (
	ErrNotFound       = errors.New("gamedb: entity not found")
	ErrExists         = errors.New("gamedb: entity already exists")
	ErrPrototypeCycle = errors.New("gamedb: prototype cycle")
)

// Kind classifies an entity.
type Kind string

const (
	KindRoom      Kind = "room"
	KindThing     Kind = "thing"
	KindPlayer    Kind = "player"
	KindExit      Kind = "exit"
	KindPrototype Kind = "prototype"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRoom, KindThing, KindPlayer, KindExit, KindPrototype:
		return true
	}
	return false
}

// GrantRecord is the persisted form of a capability granted to an entity.
type GrantRecord struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Entity is one object in the world. Props hold plain data only (nil,
// float64, string, bool, []any, map[string]any); Scripts map verbs to
// Script Trees.
type Entity struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Kind      Kind                 `json:"kind"`
	Prototype string               `json:"prototype,omitempty"`
	Location  string               `json:"location,omitempty"`
	Owner     string               `json:"owner,omitempty"`
	Wizard    bool                 `json:"wizard,omitempty"`
	Password  string               `json:"password,omitempty"` // bcrypt hash
	Props     map[string]any       `json:"props,omitempty"`
	Scripts   map[string]tree.Node `json:"scripts,omitempty"`
	Grants    []GrantRecord        `json:"grants,omitempty"`
	Created   time.Time            `json:"created"`
	Modified  time.Time            `json:"modified"`
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Props = copyProps(e.Props)
	if e.Scripts != nil {
		c.Scripts = make(map[string]tree.Node, len(e.Scripts))
		for k, v := range e.Scripts {
			c.Scripts[k] = v // nodes are immutable
		}
	}
	c.Grants = copyGrants(e.Grants)
	return &c
}

func copyGrants(gs []GrantRecord) []GrantRecord {
	if gs == nil {
		return nil
	}
	out := make([]GrantRecord, len(gs))
	for i, g := range gs {
		out[i] = GrantRecord{Type: g.Type, Params: copyProps(g.Params)}
	}
	return out
}

// Patch is a partial entity update. Nil pointers leave fields alone; a nil
// value in Props or Scripts deletes that key.
type Patch struct {
	Name      *string
	Location  *string
	Prototype *string
	Owner     *string
	Password  *string
	Wizard    *bool
	Props     map[string]any
	Scripts   map[string]*tree.Node
	Grants    *[]GrantRecord
}

// Store is the entity store consumed by the interpreter, opcodes and
// capability implementations.
type Store interface {
	// GetEntity returns a copy of the entity.
	GetEntity(id string) (*Entity, bool)
	// CreateEntity stores e, assigning an id when e.ID is empty.
	CreateEntity(e *Entity) (string, error)
	// UpdateEntity merges p into the stored entity.
	UpdateEntity(id string, p Patch) error
	// DeleteEntity removes the entity.
	DeleteEntity(id string) error
	// ResolveProps merges prototype-inherited props with the entity's own,
	// instance values winning.
	ResolveProps(id string) (map[string]any, error)
	// FindScript looks verb up on the entity, then along its prototype chain.
	FindScript(id, verb string) (tree.Node, bool)
	// Contents lists entities whose location is id.
	Contents(id string) []*Entity
	// FindByName does a case-insensitive exact name lookup of the given kind.
	FindByName(name string, kind Kind) (*Entity, bool)
	// ListEntities returns copies of all entities.
	ListEntities() []*Entity
}

func copyProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case map[string]any:
		return copyProps(x)
	}
	return v
}
