package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

func worldOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("this", fnThis, 0, 0, CatWorld, "This entity"),
		op("caller", fnCaller, 0, 0, CatWorld, "Caller"),
		op("prop", fnProp, 1, 2, CatWorld, "Read property", "entity", "name"),
		op("setprop", fnSetprop, 2, 3, CatWorld, "Write property", "entity", "name", "value"),
		op("name", fnName, 0, 1, CatWorld, "Name", "entity"),
		op("location", fnLocation, 0, 1, CatWorld, "Location", "entity"),
		op("contents", fnContents, 0, 1, CatWorld, "Contents", "entity"),
		op("send", fnSend, 1, variadic, CatWorld, "Send to caller", "message"),
		op("emit", fnEmit, 1, variadic, CatWorld, "Emit to room", "message"),
		op("can", fnCan, 1, 1, CatWorld, "Has capability", "type"),
	}
}

func store(name string, inv *eval.Invocation) (gamedb.Store, error) {
	s := inv.Store()
	if s == nil {
		return nil, eval.Errorf("%s: no world attached", name)
	}
	return s, nil
}

// optEntity reads an optional leading entity argument, defaulting to this.
// It returns the remaining arguments.
func optEntity(name string, inv *eval.Invocation, args []any, full int) (string, []any, error) {
	if len(args) < full {
		if inv.This == "" {
			return "", nil, eval.Errorf("%s: no entity bound to this", name)
		}
		return inv.This, args, nil
	}
	id, err := toStr(name, args[0])
	if err != nil {
		return "", nil, err
	}
	return id, args[1:], nil
}

func lookupEntity(name string, inv *eval.Invocation, id string) (*gamedb.Entity, error) {
	s, err := store(name, inv)
	if err != nil {
		return nil, err
	}
	e, ok := s.GetEntity(id)
	if !ok {
		return nil, eval.Errorf("%s: no such entity %q", name, id)
	}
	return e, nil
}

func fnThis(_ context.Context, inv *eval.Invocation, _ []any) (any, error) {
	if inv.This == "" {
		return nil, nil
	}
	return inv.This, nil
}

func fnCaller(_ context.Context, inv *eval.Invocation, _ []any) (any, error) {
	if inv.Caller == "" {
		return nil, nil
	}
	return inv.Caller, nil
}

// fnProp reads a property, following the prototype chain. Unset properties
// read as null.
func fnProp(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	id, rest, err := optEntity("prop", inv, args, 2)
	if err != nil {
		return nil, err
	}
	key, err := toStr("prop", rest[0])
	if err != nil {
		return nil, err
	}
	s, err := store("prop", inv)
	if err != nil {
		return nil, err
	}
	props, err := s.ResolveProps(id)
	if errors.Is(err, gamedb.ErrNotFound) {
		return nil, eval.Errorf("prop: no such entity %q", id)
	}
	if err != nil {
		return nil, err
	}
	return props[key], nil
}

// fnSetprop writes a property on this, or on an entity this owns. Writing
// null removes the property.
func fnSetprop(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	id, rest, err := optEntity("setprop", inv, args, 3)
	if err != nil {
		return nil, err
	}
	key, err := toStr("setprop", rest[0])
	if err != nil {
		return nil, err
	}
	v := rest[1]
	if !eval.IsData(v) {
		return nil, eval.Errorf("setprop: %s cannot be stored", eval.TypeOf(v))
	}
	e, err := lookupEntity("setprop", inv, id)
	if err != nil {
		return nil, err
	}
	if inv.This == "" || (e.ID != inv.This && e.Owner != inv.This) {
		return nil, eval.Errorf("setprop: permission denied on %q", id)
	}
	err = inv.Store().UpdateEntity(id, gamedb.Patch{Props: map[string]any{key: eval.CopyValue(v)}})
	if err != nil {
		return nil, fmt.Errorf("setprop %s.%s: %w", id, key, err)
	}
	return v, nil
}

func fnName(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	id, _, err := optEntity("name", inv, args, 1)
	if err != nil {
		return nil, err
	}
	e, err := lookupEntity("name", inv, id)
	if err != nil {
		return nil, err
	}
	return e.Name, nil
}

func fnLocation(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	id, _, err := optEntity("location", inv, args, 1)
	if err != nil {
		return nil, err
	}
	e, err := lookupEntity("location", inv, id)
	if err != nil {
		return nil, err
	}
	if e.Location == "" {
		return nil, nil
	}
	return e.Location, nil
}

// fnContents lists the ids of the entities inside an entity.
func fnContents(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	id, _, err := optEntity("contents", inv, args, 1)
	if err != nil {
		return nil, err
	}
	s, err := store("contents", inv)
	if err != nil {
		return nil, err
	}
	in := s.Contents(id)
	out := make([]any, len(in))
	for i, e := range in {
		out[i] = e.ID
	}
	return out, nil
}

// fnSend writes a line to whoever triggered the invocation.
func fnSend(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	msg := concatValues(args)
	inv.Output(msg)
	return msg, nil
}

// fnEmit delivers a line to everything in this entity's location.
func fnEmit(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	if inv.Host == nil {
		return nil, eval.Errorf("emit: no world attached")
	}
	e, err := lookupEntity("emit", inv, inv.This)
	if err != nil {
		return nil, err
	}
	msg := concatValues(args)
	room := e.Location
	if room == "" {
		room = e.ID
	}
	for _, c := range inv.Store().Contents(room) {
		inv.Host.Notify(c.ID, msg)
	}
	return msg, nil
}

// fnCan reports whether this entity holds a capability of the given type
// that it owns itself.
func fnCan(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	typ, err := toStr("can", args[0])
	if err != nil {
		return nil, err
	}
	if inv.Host == nil || inv.This == "" {
		return false, nil
	}
	g, ok := inv.Host.Capability(inv.This, typ)
	return ok && g.OwnerID() == inv.This, nil
}
