package validate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

func makeTestDB(entities ...*gamedb.Entity) *gamedb.Database {
	db := gamedb.NewDatabase()
	for _, e := range entities {
		db.Put(e)
	}
	return db
}

func descriptions(fs []Finding) string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Description)
	}
	return strings.Join(out, "\n")
}

func TestIntegrityChecker(t *testing.T) {
	db := makeTestDB(
		&gamedb.Entity{ID: "hall", Name: "Hall", Kind: gamedb.KindRoom},
		&gamedb.Entity{ID: "wiz", Name: "Wizard", Kind: gamedb.KindPlayer, Location: "hall"},
		&gamedb.Entity{ID: "lamp", Name: "lamp", Kind: gamedb.KindThing, Location: "attic", Owner: "wiz", Prototype: "proto-gone"},
		&gamedb.Entity{ID: "rug", Name: "rug", Kind: gamedb.KindThing, Location: "hall", Owner: "hall", Prototype: "lamp"},
		&gamedb.Entity{ID: "box", Name: "box", Kind: gamedb.KindThing, Location: "bag"},
		&gamedb.Entity{ID: "bag", Name: "bag", Kind: gamedb.KindThing, Location: "box"},
	)

	got := descriptions((&IntegrityChecker{}).Check(db))
	for _, want := range []string{
		"lamp location attic does not exist",
		"lamp prototype proto-gone does not exist",
		"rug owner hall is not a player (kind=room)",
		"rug inherits from lamp, which is a thing",
		"box is inside itself",
		"bag is inside itself",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing finding %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "wiz") {
		t.Errorf("clean entity reported:\n%s", got)
	}
}

func TestApplyFixClearsDanglingLocation(t *testing.T) {
	db := makeTestDB(&gamedb.Entity{ID: "lamp", Name: "lamp", Kind: gamedb.KindThing, Location: "attic"})
	v := New(db)
	findings := v.Run()
	if len(findings) != 1 || !findings[0].Fixable {
		t.Fatalf("findings = %+v", findings)
	}
	if err := v.ApplyFix(findings[0].ID); err != nil {
		t.Fatal(err)
	}
	if e, _ := db.GetEntity("lamp"); e.Location != "" {
		t.Errorf("location = %q", e.Location)
	}
	if err := v.ApplyFix(findings[0].ID); err == nil {
		t.Error("fixed twice")
	}
	if err := v.ApplyFix("nope"); err == nil {
		t.Error("fixed an unknown finding")
	}
	if len(v.Run()) != 0 {
		t.Errorf("still dirty: %s", descriptions(v.Findings()))
	}
}

func TestScriptChecker(t *testing.T) {
	db := makeTestDB(&gamedb.Entity{
		ID: "lamp", Name: "lamp", Kind: gamedb.KindThing,
		Scripts: map[string]tree.Node{
			"look": tree.Seq(tree.Call("say", tree.Text("hi")), tree.Call("teleport", tree.Text("x"))),
			"tick": tree.Call("say", tree.Var("x")),
		},
	})
	c := &ScriptChecker{Known: func(op string) bool { return op == "say" }}
	findings := c.Check(db)
	if len(findings) != 1 {
		t.Fatalf("findings: %s", descriptions(findings))
	}
	if f := findings[0]; f.Verb != "look" || !strings.Contains(f.Description, `"teleport"`) {
		t.Errorf("finding = %+v", f)
	}
}

func TestPropsChecker(t *testing.T) {
	db := makeTestDB(&gamedb.Entity{
		ID: "lamp", Name: "lamp", Kind: gamedb.KindThing,
		Props: map[string]any{"ok": 1.0, "bad": struct{}{}},
	})
	v := New(db, &PropsChecker{})
	if findings := v.Run(); len(findings) != 1 {
		t.Fatalf("findings: %s", descriptions(findings))
	}
	n, err := v.ApplyAll()
	if n != 1 || err != nil {
		t.Fatalf("ApplyAll = %d, %v", n, err)
	}
	e, _ := db.GetEntity("lamp")
	if _, ok := e.Props["bad"]; ok || e.Props["ok"] != 1.0 {
		t.Errorf("props = %v", e.Props)
	}
}

func TestGrantChecker(t *testing.T) {
	classes := capability.NewClasses()
	classes.Register(&capability.Class{
		Type: "image",
		Validate: func(v capability.Value) error {
			_, err := capability.RequireURL(v, "endpoint")
			return err
		},
	})
	classes.Seal()
	db := makeTestDB(&gamedb.Entity{
		ID: "lamp", Name: "lamp", Kind: gamedb.KindThing,
		Grants: []gamedb.GrantRecord{
			{Type: "image"},
			{Type: "teleport"},
		},
	})

	v := New(db, &GrantChecker{Classes: classes})
	got := descriptions(v.Run())
	if !strings.Contains(got, `unknown capability "teleport"`) || !strings.Contains(got, "image grant is misconfigured") {
		t.Fatalf("findings:\n%s", got)
	}
	if n, err := v.ApplyAll(); n != 1 || err != nil {
		t.Fatalf("ApplyAll = %d, %v", n, err)
	}
	e, _ := db.GetEntity("lamp")
	if len(e.Grants) != 1 || e.Grants[0].Type != "image" {
		t.Errorf("grants = %+v", e.Grants)
	}
}

func TestReport(t *testing.T) {
	db := makeTestDB(&gamedb.Entity{ID: "lamp", Name: "lamp", Kind: gamedb.KindThing, Location: "attic"})
	v := New(db)
	v.Run()
	r := GenerateReport(v)
	if r.TotalFindings != 1 || r.Categories["integrity-error"].Fixable != 1 {
		t.Errorf("report = %+v", r)
	}
	lines := r.Lines()
	if len(lines) != 2 || !strings.Contains(lines[0], "(fixable)") {
		t.Errorf("lines = %q", lines)
	}
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil || !strings.Contains(buf.String(), `"entity": "lamp"`) {
		t.Errorf("json = %s, %v", buf.String(), err)
	}

	if lines := GenerateReport(New(makeTestDB())).Lines(); lines[0] != "No problems found." {
		t.Errorf("empty report = %q", lines)
	}
}
