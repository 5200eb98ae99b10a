package plugins

import (
	"context"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

const defaultMaxProps = 32

// spawnClass lets a script create things from allowed prototypes. New
// things are owned by the capability owner and placed in its location.
//
// Params:
//
//	allowedPrototypes  prototype ids that may be instantiated; absent means any
//	maxProps           most initial props per new thing, default 32
func spawnClass(d Deps) *capability.Class {
	return &capability.Class{
		Type:  "spawn",
		Label: "Create things",
		Validate: func(p capability.Value) error {
			if _, _, err := capability.OptionalStrings(p, "allowedPrototypes"); err != nil {
				return err
			}
			_, err := capability.OptionalNumber(p, "maxProps", defaultMaxProps)
			return err
		},
		Methods: map[string]capability.Method{
			"create": {
				MinArgs:    2,
				MaxArgs:    3,
				Args:       []string{"name", "prototype", "props"},
				Label:      "Create thing",
				AllowLists: map[int]string{1: "allowedPrototypes"},
				Fn: func(ctx context.Context, call *capability.Call) (any, error) {
					return spawn(d.Store, call)
				},
			},
		},
	}
}

func spawn(store gamedb.Store, call *capability.Call) (any, error) {
	if store == nil {
		store = call.Inv.Store()
	}
	if store == nil {
		return nil, eval.Errorf("spawn: no world")
	}
	name, ok := call.Arg(0).(string)
	if !ok || name == "" {
		return nil, eval.Errorf("spawn.create: name must be a non-empty string")
	}
	protoID, ok := call.Arg(1).(string)
	if !ok {
		return nil, eval.Errorf("spawn.create: prototype must be an entity id")
	}
	proto, ok := store.GetEntity(protoID)
	if !ok || proto.Kind != gamedb.KindPrototype {
		return nil, eval.Errorf("spawn.create: %q is not a prototype", protoID)
	}

	var props map[string]any
	switch v := call.Arg(2).(type) {
	case nil:
	case map[string]any:
		props = v
	default:
		return nil, eval.Errorf("spawn.create: props must be an object, got %s", eval.TypeOf(v))
	}
	limit, _ := capability.OptionalNumber(call.Cap.Params(), "maxProps", defaultMaxProps)
	if float64(len(props)) > limit {
		return nil, eval.Errorf("spawn.create: at most %d props", int(limit))
	}
	if props != nil {
		if !eval.IsData(props) {
			return nil, eval.Errorf("spawn.create: props must be plain data")
		}
		props = eval.CopyValue(props).(map[string]any)
	}

	owner, _ := store.GetEntity(call.Cap.OwnerID())
	e := &gamedb.Entity{
		Name:      name,
		Kind:      gamedb.KindThing,
		Prototype: protoID,
		Owner:     call.Cap.OwnerID(),
		Props:     props,
	}
	if owner != nil {
		e.Location = owner.Location
	}
	return store.CreateEntity(e)
}
