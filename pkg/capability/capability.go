// Package capability implements entity-owned grants of privileged behavior.
//
// A Capability names a class, the entity it was granted to and a frozen
// parameter graph. Nothing about it can change after New returns: the fields
// are unexported with read-only accessors, and Params is a Value backed by an
// arena that exposes no mutation API.
package capability

import (
	"fmt"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

// Capability is one grant of a capability class to one entity.
type Capability struct {
	typ    string
	owner  string
	params Value
}

var _ eval.Grant = (*Capability)(nil)

// New freezes params and builds a capability owned by owner.
func New(typ, owner string, params any) (*Capability, error) {
	if typ == "" {
		return nil, fmt.Errorf("capability: empty type")
	}
	if owner == "" {
		return nil, fmt.Errorf("capability %s: empty owner", typ)
	}
	p, err := Freeze(params)
	if err != nil {
		return nil, err
	}
	if !p.IsNull() && p.Kind() != KindObject {
		return nil, fmt.Errorf("capability %s: params must be an object, got %s", typ, p.Kind())
	}
	return &Capability{typ: typ, owner: owner, params: p}, nil
}

// Type returns the capability class name.
func (c *Capability) Type() string { return c.typ }

// OwnerID returns the entity the capability was granted to.
func (c *Capability) OwnerID() string { return c.owner }

// Params returns the frozen configuration.
func (c *Capability) Params() Value { return c.params }

// Param returns one top-level parameter.
func (c *Capability) Param(key string) (Value, bool) { return c.params.Get(key) }

func (c *Capability) String() string {
	return fmt.Sprintf("%s@%s", c.typ, c.owner)
}
