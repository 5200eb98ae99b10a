package capability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"

	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// CatCapability is the editor category of capability opcodes.
const CatCapability = "capability"

// StatusError is returned by methods whose backend answered with a failure
// status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("backend returned status %d", e.Code) }

// Manager owns the capability instances granted to entities and runs the
// privilege-check protocol in front of every method call.
type Manager struct {
	classes *Classes
	store   gamedb.Store

	mu     sync.RWMutex
	grants map[string]map[string]*Capability // entity -> type -> capability

	// OnDenied, when set, is told about every call refused at the ownership
	// check.
	OnDenied func(typ string)
}

// NewManager creates a manager. store may be nil, in which case grants are
// neither persisted nor inherited through prototypes.
func NewManager(classes *Classes, store gamedb.Store) *Manager {
	return &Manager{
		classes: classes,
		store:   store,
		grants:  make(map[string]map[string]*Capability),
	}
}

// Classes returns the class registry.
func (m *Manager) Classes() *Classes { return m.classes }

// Load installs every grant recorded on the entities in the store. Grants
// of unknown classes are skipped.
func (m *Manager) Load() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	n := 0
	for _, e := range m.store.ListEntities() {
		for _, rec := range e.Grants {
			if _, ok := m.classes.Lookup(rec.Type); !ok {
				log.Printf("capability: %s: unknown class %q, grant skipped", e.ID, rec.Type)
				continue
			}
			c, err := New(rec.Type, e.ID, rec.Params)
			if err != nil {
				return n, fmt.Errorf("capability: load %s/%s: %w", e.ID, rec.Type, err)
			}
			m.install(c)
			n++
		}
	}
	return n, nil
}

func (m *Manager) install(c *Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := m.grants[c.owner]
	if byType == nil {
		byType = make(map[string]*Capability)
		m.grants[c.owner] = byType
	}
	byType[c.typ] = c
}

// Grant issues a capability of class typ to entity, replacing any earlier
// grant of the same type, and records it on the entity. params are frozen;
// they are checked against the class when the capability is used.
func (m *Manager) Grant(entity, typ string, params any) (*Capability, error) {
	if _, ok := m.classes.Lookup(typ); !ok {
		return nil, fmt.Errorf("capability: grant %s: unknown class %q", entity, typ)
	}
	c, err := New(typ, entity, params)
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		if c.params.cyclic() {
			return nil, fmt.Errorf("capability: grant %s/%s: cyclic params cannot be stored", entity, typ)
		}
		if err := m.persist(entity, func(recs []gamedb.GrantRecord) []gamedb.GrantRecord {
			recs = dropRecord(recs, typ)
			p, _ := c.params.Export().(map[string]any)
			return append(recs, gamedb.GrantRecord{Type: typ, Params: p})
		}); err != nil {
			return nil, err
		}
	}
	m.install(c)
	log.Printf("capability: granted %s", c)
	return c, nil
}

// Revoke removes entity's own grant of type typ.
func (m *Manager) Revoke(entity, typ string) error {
	m.mu.Lock()
	_, ok := m.grants[entity][typ]
	if ok {
		delete(m.grants[entity], typ)
		if len(m.grants[entity]) == 0 {
			delete(m.grants, entity)
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("capability: revoke %s/%s: not granted", entity, typ)
	}
	if m.store != nil {
		if err := m.persist(entity, func(recs []gamedb.GrantRecord) []gamedb.GrantRecord {
			return dropRecord(recs, typ)
		}); err != nil && !errors.Is(err, gamedb.ErrNotFound) {
			return err
		}
	}
	log.Printf("capability: revoked %s@%s", typ, entity)
	return nil
}

// RevokeAll drops every grant owned by entity. It is called when the entity
// is destroyed.
func (m *Manager) RevokeAll(entity string) {
	m.mu.Lock()
	delete(m.grants, entity)
	m.mu.Unlock()
}

func (m *Manager) persist(entity string, edit func([]gamedb.GrantRecord) []gamedb.GrantRecord) error {
	e, ok := m.store.GetEntity(entity)
	if !ok {
		return fmt.Errorf("capability: %s: %w", entity, gamedb.ErrNotFound)
	}
	recs := edit(e.Grants)
	return m.store.UpdateEntity(entity, gamedb.Patch{Grants: &recs})
}

func dropRecord(recs []gamedb.GrantRecord, typ string) []gamedb.GrantRecord {
	out := make([]gamedb.GrantRecord, 0, len(recs))
	for _, r := range recs {
		if r.Type != typ {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds the capability of type typ bound to entity: its own grant,
// or else the nearest one along its prototype chain. An inherited grant is
// still owned by the prototype.
func (m *Manager) Lookup(entity, typ string) (*Capability, bool) {
	seen := make(map[string]bool)
	for id := entity; id != "" && !seen[id]; {
		seen[id] = true
		m.mu.RLock()
		c, ok := m.grants[id][typ]
		m.mu.RUnlock()
		if ok {
			return c, true
		}
		if m.store == nil {
			break
		}
		e, ok := m.store.GetEntity(id)
		if !ok {
			break
		}
		id = e.Prototype
	}
	return nil, false
}

// Capability adapts Lookup to the interpreter's host interface.
func (m *Manager) Capability(entity, typ string) (eval.Grant, bool) {
	c, ok := m.Lookup(entity, typ)
	if !ok {
		return nil, false
	}
	return c, true
}

// Granted lists the capabilities entity owns itself.
func (m *Manager) Granted(entity string) []*Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Capability
	for _, c := range m.grants[entity] {
		out = append(out, c)
	}
	return out
}

func (m *Manager) missing(typ string) error {
	if m.OnDenied != nil {
		m.OnDenied(typ)
	}
	return eval.Errorf("missing capability: %s", typ)
}

// Invoke calls method on the capability of type typ held by the entity inv
// runs as. In order it resolves the capability, checks that inv.This owns
// it, validates the class params, applies the method's allow-lists and then
// runs the method. Every refusal is a ScriptError; a failing method is
// reported as a ScriptError with a readable cause and logged in full.
func (m *Manager) Invoke(ctx context.Context, inv *eval.Invocation, typ, method string, args []any) (any, error) {
	if inv.This == "" {
		return nil, m.missing(typ)
	}
	c, ok := m.Lookup(inv.This, typ)
	if !ok {
		return nil, m.missing(typ)
	}
	if c.OwnerID() != inv.This {
		return nil, m.missing(typ)
	}

	class, ok := m.classes.Lookup(typ)
	if !ok {
		return nil, m.missing(typ)
	}
	if class.Validate != nil {
		if err := class.Validate(c.params); err != nil {
			return nil, eval.Wrap(err, fmt.Sprintf("%s: invalid configuration: %v", typ, err))
		}
	}
	meth, ok := class.Methods[method]
	if !ok {
		return nil, eval.Errorf("%s: no method %q", typ, method)
	}
	if len(args) < meth.MinArgs || (meth.MaxArgs >= 0 && len(args) > meth.MaxArgs) {
		return nil, &eval.ArityError{Opcode: typ + "." + method, Got: len(args), Min: meth.MinArgs, Max: meth.MaxArgs}
	}
	if err := checkAllowLists(c, typ, meth, args); err != nil {
		return nil, err
	}

	v, err := meth.Fn(ctx, &Call{Cap: c, Inv: inv, Args: args})
	if err != nil {
		if eval.IsScriptFault(err) {
			return nil, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, &eval.CancelledError{Cause: cerr}
		}
		log.Printf("capability: %s.%s as %s failed: %v", typ, method, inv.This, err)
		return nil, eval.Wrap(err, fmt.Sprintf("%s.%s failed: %s", typ, method, describe(err)))
	}
	return eval.Normalize(v)
}

func checkAllowLists(c *Capability, typ string, meth Method, args []any) error {
	for pos, key := range meth.AllowLists {
		allowed, present, err := OptionalStrings(c.params, key)
		if err != nil {
			return eval.Wrap(err, fmt.Sprintf("%s: invalid configuration: %v", typ, err))
		}
		if !present || pos >= len(args) || args[pos] == nil {
			continue
		}
		choice, ok := args[pos].(string)
		if !ok {
			return eval.Errorf("%s: expected a string, got %s", typ, eval.TypeOf(args[pos]))
		}
		if !contains(allowed, choice) {
			return eval.Errorf("%s: %q is not allowed", typ, choice)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// describe turns a downstream failure into text fit for a script author.
// Transport details and parameters stay in the server log.
func describe(err error) string {
	var (
		se *StatusError
		ue *url.Error
		ne net.Error
		ce *ConfigError
	)
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.As(err, &ue) && ue.Timeout():
		return "request timed out"
	case errors.As(err, &ue), errors.As(err, &ne):
		return "request failed"
	case errors.As(err, &ce):
		return "invalid configuration: " + ce.Error()
	case errors.Is(err, gamedb.ErrNotFound):
		return "entity not found"
	}
	return "operation failed"
}

// Opcodes builds one library opcode per class method, named type.method,
// that calls Invoke. The class registry should be sealed first.
func (m *Manager) Opcodes() []eval.Opcode {
	var ops []eval.Opcode
	for _, typ := range m.classes.Types() {
		class, _ := m.classes.Lookup(typ)
		for _, name := range class.sortedMethods() {
			meth := class.Methods[name]
			typ, name := typ, name
			ops = append(ops, eval.Opcode{
				Name: typ + "." + name,
				Fn: func(ctx context.Context, inv *eval.Invocation, args []any) (any, error) {
					return m.Invoke(ctx, inv, typ, name, args)
				},
				MinArgs:  meth.MinArgs,
				MaxArgs:  meth.MaxArgs,
				Args:     meth.Args,
				Label:    meth.Label,
				Category: CatCapability,
			})
		}
	}
	return ops
}
