package boltstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestWriteThroughSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	if s.HasData() {
		t.Fatal("fresh store reports data")
	}

	greet := tree.Seq(tree.Call("say", tree.Call("concat", tree.Text("hi "), tree.Var("who"))))
	id, err := s.CreateEntity(&gamedb.Entity{
		Name:    "statue",
		Props:   map[string]any{"height": 3.0, "tags": []any{"stone", nil}},
		Scripts: map[string]tree.Node{"greet": greet},
	})
	if err != nil {
		t.Fatal(err)
	}
	wiz := true
	if err := s.UpdateEntity(id, gamedb.Patch{Wizard: &wiz, Props: map[string]any{"height": nil}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.HasData() || s.Version() != schemaVersion {
		t.Fatalf("HasData = %v, Version = %d", s.HasData(), s.Version())
	}
	if err := s.LoadAll(); err != nil {
		t.Fatal(err)
	}
	e, ok := s.GetEntity(id)
	if !ok {
		t.Fatal("entity lost across reopen")
	}
	if !e.Wizard || e.Name != "statue" {
		t.Errorf("entity = %+v", e)
	}
	if _, ok := e.Props["height"]; ok {
		t.Error("deleted prop came back")
	}
	tags, _ := e.Props["tags"].([]any)
	if len(tags) != 2 || tags[0] != "stone" || tags[1] != nil {
		t.Errorf("tags = %#v", e.Props["tags"])
	}
	if !tree.Equal(e.Scripts["greet"], greet) {
		t.Errorf("script = %v", e.Scripts["greet"])
	}
}

func TestPlayerIndex(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	id, err := s.CreateEntity(&gamedb.Entity{Name: "Alice", Kind: gamedb.KindPlayer})
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := s.PlayerID("alice"); !ok || got != id {
		t.Errorf("PlayerID(alice) = %q, %v", got, ok)
	}

	name := "Alicia"
	if err := s.UpdateEntity(id, gamedb.Patch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.PlayerID("alice"); ok {
		t.Error("old name still indexed")
	}
	if got, _ := s.PlayerID("ALICIA"); got != id {
		t.Errorf("PlayerID(ALICIA) = %q", got)
	}

	if err := s.DeleteEntity(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.PlayerID("alicia"); ok {
		t.Error("deleted player still indexed")
	}
	if err := s.DeleteEntity(id); !errors.Is(err, gamedb.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestImportAndBackup(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	db := gamedb.NewDatabase()
	db.Put(&gamedb.Entity{ID: "room-1", Name: "Hall", Kind: gamedb.KindRoom})
	db.Put(&gamedb.Entity{ID: "p-1", Name: "Bob", Kind: gamedb.KindPlayer, Location: "room-1"})
	if err := s.ImportFromDatabase(db); err != nil {
		t.Fatal(err)
	}
	if id, ok := s.PlayerID("bob"); !ok || id != "p-1" {
		t.Errorf("PlayerID after import = %q, %v", id, ok)
	}

	backup := filepath.Join(t.TempDir(), "snap.bolt")
	if err := s.Backup(backup); err != nil {
		t.Fatal(err)
	}
	snap, err := Open(backup)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()
	if err := snap.LoadAll(); err != nil {
		t.Fatal(err)
	}
	if snap.DB().Len() != 2 {
		t.Errorf("backup holds %d entities", snap.DB().Len())
	}
	if in := snap.Contents("room-1"); len(in) != 1 || in[0].Name != "Bob" {
		t.Errorf("Contents = %v", in)
	}
}
