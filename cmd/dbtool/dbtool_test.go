package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

func testWorld(t *testing.T) *gamedb.Database {
	t.Helper()
	db := gamedb.NewDatabase()
	db.Put(&gamedb.Entity{ID: "r1", Name: "Hall", Kind: gamedb.KindRoom})
	db.Put(&gamedb.Entity{ID: "p1", Name: "Alice", Kind: gamedb.KindPlayer, Wizard: true, Location: "r1"})
	db.Put(&gamedb.Entity{
		ID: "t1", Name: "Lamp", Kind: gamedb.KindThing, Owner: "p1", Location: "r1",
		Props:   map[string]any{"color": "red"},
		Scripts: map[string]tree.Node{"use": tree.Call("seq", tree.Call("send", tree.Text("hi")))},
	})
	return db
}

func TestPrintSummaryAndListings(t *testing.T) {
	db := testWorld(t)
	var buf bytes.Buffer
	printSummary(&buf, db)
	printPlayers(&buf, db)
	printRooms(&buf, db)
	out := buf.String()
	for _, want := range []string{
		"room       1",
		"player     1",
		"Scripts: 1  Props: 1  Grants: 0",
		"Alice",
		"Hall (r1)",
		"Total players: 1",
		"Total rooms: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEntity(t *testing.T) {
	db := testWorld(t)
	var buf bytes.Buffer
	printEntity(&buf, db, "t1")
	out := buf.String()
	for _, want := range []string{"=== Lamp (t1) ===", "Owner:     Alice (p1)", `color = "red"`, "--- use ---", `send("hi");`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printEntity(&buf, db, "nope")
	if !strings.Contains(buf.String(), "not found") {
		t.Errorf("missing entity output = %q", buf.String())
	}
}

func TestPrintOpStats(t *testing.T) {
	var buf bytes.Buffer
	printOpStats(&buf, testWorld(t))
	out := buf.String()
	if !strings.Contains(out, "send") || !strings.Contains(out, "Distinct opcodes: 2") {
		t.Errorf("opstats:\n%s", out)
	}
}

func TestRunValidation(t *testing.T) {
	db := testWorld(t)
	var buf bytes.Buffer
	if code := runValidation(&buf, db, false); code != 0 {
		t.Fatalf("clean world exit %d:\n%s", code, buf.String())
	}

	db.Put(&gamedb.Entity{ID: "t2", Name: "Ghost", Kind: gamedb.KindThing, Location: "gone"})
	buf.Reset()
	if code := runValidation(&buf, db, true); code != 2 {
		t.Errorf("dangling location exit %d", code)
	}
	if !strings.Contains(buf.String(), "gone") {
		t.Errorf("report = %s", buf.String())
	}
}

func TestExportEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.json")
	if err := exportEntities(path, testWorld(t)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entities []map[string]any
	if err := json.Unmarshal(data, &entities); err != nil {
		t.Fatal(err)
	}
	if len(entities) != 3 {
		t.Errorf("exported %d entities", len(entities))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 8); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}
