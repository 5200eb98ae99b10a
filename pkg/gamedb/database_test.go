package gamedb

import (
	"errors"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

// newTestDB builds a small world:
//
//	proto-lamp (prototype) color=red, watts=40, verb "light"
//	lamp-1 (thing, prototype proto-lamp) in room-1, watts=60
//	room-1 (room)
func newTestDB(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase()
	for _, e := range []*Entity{
		{ID: "proto-lamp", Name: "Lamp", Kind: KindPrototype,
			Props:   map[string]any{"color": "red", "watts": 40.0},
			Scripts: map[string]tree.Node{"light": tree.Seq(tree.Call("say", tree.Text("click")))}},
		{ID: "room-1", Name: "Hall", Kind: KindRoom},
		{ID: "lamp-1", Name: "brass lamp", Kind: KindThing, Prototype: "proto-lamp", Location: "room-1",
			Props: map[string]any{"watts": 60.0}},
	} {
		if _, err := db.CreateEntity(e); err != nil {
			t.Fatalf("CreateEntity(%s): %v", e.ID, err)
		}
	}
	return db
}

func TestCreateAssignsID(t *testing.T) {
	db := NewDatabase()
	id, err := db.CreateEntity(&Entity{Name: "rock"})
	if err != nil || id == "" {
		t.Fatalf("CreateEntity = %q, %v", id, err)
	}
	e, ok := db.GetEntity(id)
	if !ok || e.Kind != KindThing || e.Created.IsZero() {
		t.Errorf("GetEntity = %+v, %v", e, ok)
	}
	if _, err := db.CreateEntity(&Entity{ID: id}); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate id: err = %v", err)
	}
	if _, err := db.CreateEntity(&Entity{Kind: "spaceship"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	db := newTestDB(t)
	e, _ := db.GetEntity("lamp-1")
	e.Props["watts"] = 1000.0
	e.Name = "changed"

	again, _ := db.GetEntity("lamp-1")
	if again.Props["watts"] != 60.0 || again.Name != "brass lamp" {
		t.Errorf("stored entity changed through a copy: %+v", again)
	}
}

func TestUpdateMerges(t *testing.T) {
	db := newTestDB(t)
	name := "silver lamp"
	light := tree.Seq(tree.Call("say", tree.Text("on")))
	err := db.UpdateEntity("lamp-1", Patch{
		Name:    &name,
		Props:   map[string]any{"lit": true, "watts": nil},
		Scripts: map[string]*tree.Node{"light": &light},
	})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := db.GetEntity("lamp-1")
	if e.Name != name || e.Props["lit"] != true || e.Location != "room-1" {
		t.Errorf("after update: %+v", e)
	}
	if _, ok := e.Props["watts"]; ok {
		t.Error("nil prop did not delete")
	}
	if !tree.Equal(e.Scripts["light"], light) {
		t.Errorf("script = %v", e.Scripts["light"])
	}

	if err := db.UpdateEntity("nope", Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
}

func TestResolvePropsInstanceWins(t *testing.T) {
	db := newTestDB(t)
	props, err := db.ResolveProps("lamp-1")
	if err != nil {
		t.Fatal(err)
	}
	if props["color"] != "red" || props["watts"] != 60.0 {
		t.Errorf("ResolveProps = %v", props)
	}
	if _, err := db.ResolveProps("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing entity: err = %v", err)
	}
}

func TestPrototypeCycles(t *testing.T) {
	db := newTestDB(t)
	lamp := "lamp-1"
	if err := db.UpdateEntity("proto-lamp", Patch{Prototype: &lamp}); !errors.Is(err, ErrPrototypeCycle) {
		t.Errorf("cycle accepted: err = %v", err)
	}

	// A cycle written directly by a loader must not hang resolution.
	db.Put(&Entity{ID: "a", Kind: KindThing, Prototype: "b", Props: map[string]any{"x": 1.0}})
	db.Put(&Entity{ID: "b", Kind: KindThing, Prototype: "a", Props: map[string]any{"y": 2.0}})
	props, err := db.ResolveProps("a")
	if err != nil || props["x"] != 1.0 || props["y"] != 2.0 {
		t.Errorf("ResolveProps on cycle = %v, %v", props, err)
	}
}

func TestFindScriptInherits(t *testing.T) {
	db := newTestDB(t)
	n, ok := db.FindScript("lamp-1", "light")
	if !ok || !n.IsCall("seq") {
		t.Errorf("FindScript = %v, %v", n, ok)
	}
	if _, ok := db.FindScript("lamp-1", "douse"); ok {
		t.Error("found a verb that does not exist")
	}
}

func TestContentsAndNames(t *testing.T) {
	db := newTestDB(t)
	in := db.Contents("room-1")
	if len(in) != 1 || in[0].ID != "lamp-1" {
		t.Errorf("Contents = %v", in)
	}
	if e, ok := db.FindByName("BRASS LAMP", KindThing); !ok || e.ID != "lamp-1" {
		t.Errorf("FindByName = %v, %v", e, ok)
	}
	if _, ok := db.FindByName("brass lamp", KindPlayer); ok {
		t.Error("kind filter ignored")
	}
	if err := db.DeleteEntity("lamp-1"); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 2 {
		t.Errorf("Len = %d after delete", db.Len())
	}
}
