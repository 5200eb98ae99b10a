package render

import (
	"strings"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

func TestDecompileLiterals(t *testing.T) {
	cases := []struct {
		in   tree.Node
		want string
	}{
		{tree.Num(1), "1"},
		{tree.Num(2.5), "2.5"},
		{tree.Num(-3), "-3"},
		{tree.Text("hello"), `"hello"`},
		{tree.Text("a\"b\\c\nd"), `"a\"b\\c\nd"`},
		{tree.Bool(true), "true"},
		{tree.Bool(false), "false"},
		{tree.Null(), "null"},
		{tree.EmptyList(), "[]"},
	}
	for _, c := range cases {
		if got := Decompile(c.in); got != c.want {
			t.Errorf("Decompile(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecompileRawValues(t *testing.T) {
	if got := DecompileValue(1.0); got != "1" {
		t.Errorf("DecompileValue(1) = %q", got)
	}
	if got := DecompileValue("hello"); got != `"hello"` {
		t.Errorf("DecompileValue(hello) = %q", got)
	}
	if got := DecompileValue(nil); got != "null" {
		t.Errorf("DecompileValue(nil) = %q", got)
	}
	if got := DecompileValue([]any{}); got != "[]" {
		t.Errorf("DecompileValue([]) = %q", got)
	}
	// Not a tree: rendered, not rejected.
	if got := DecompileValue(map[string]any{"a": 1}); !strings.HasPrefix(got, `"`) {
		t.Errorf("DecompileValue(map) = %q, want quoted fallback", got)
	}
}

func TestDecompileTopLevelSeq(t *testing.T) {
	n := tree.Seq(tree.Let("x", tree.Num(1)), tree.Var("x"))
	want := "let(\"x\", 1);\nvar(\"x\");"
	if got := Decompile(n); got != want {
		t.Errorf("Decompile = %q, want %q", got, want)
	}
}

func TestDecompileFlatCall(t *testing.T) {
	n := tree.Call("+", tree.Num(1), tree.Num(2))
	if got := Decompile(n); got != "+(1, 2)" {
		t.Errorf("Decompile = %q, want %q", got, "+(1, 2)")
	}
}

func TestDecompileNestedSeqIndents(t *testing.T) {
	n := tree.Seq(
		tree.Call("if", tree.Bool(true),
			tree.Seq(tree.Let("x", tree.Num(1)), tree.Call("say", tree.Var("x"))),
			tree.Null()),
	)
	want := strings.Join([]string{
		`if(true, seq(`,
		`  let("x", 1);`,
		`  say(var("x"));`,
		`), null);`,
	}, "\n")
	if got := Decompile(n); got != want {
		t.Errorf("Decompile =\n%s\nwant\n%s", got, want)
	}
}

func TestDecompileIndentGrowsWithDepth(t *testing.T) {
	inner := tree.Seq(tree.Call("say", tree.Text("deep")))
	outer := tree.Seq(tree.Call("if", tree.Bool(true), inner, tree.Null()))
	n := tree.Seq(tree.Call("if", tree.Bool(true), outer, tree.Null()))

	got := Decompile(n)
	lines := strings.Split(got, "\n")
	var sayLine, ifLine string
	for _, l := range lines {
		if strings.Contains(l, "say(") {
			sayLine = l
		}
		if strings.HasPrefix(strings.TrimLeft(l, " "), "if(") && strings.HasPrefix(l, " ") {
			ifLine = l
		}
	}
	if indentOf(sayLine) != indentOf(ifLine)+len(indentUnit) {
		t.Errorf("nested seq not one level deeper:\n%s", got)
	}
	if indentOf(ifLine) != len(indentUnit) {
		t.Errorf("first nested statement should be indented one level:\n%s", got)
	}
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}

func TestDecompileTotal(t *testing.T) {
	// Odd but well-formed trees must still render.
	nodes := []tree.Node{
		tree.Seq(),
		tree.Seq(tree.Seq(tree.Seq())),
		tree.Call("seq"),
		tree.Call("x", tree.EmptyList(), tree.Seq(tree.EmptyList())),
		tree.Text(string([]byte{0xff, 0x01})),
	}
	for _, n := range nodes {
		_ = Decompile(n)
	}
}

func TestParseReadsDecompiledText(t *testing.T) {
	trees := []tree.Node{
		tree.Num(1),
		tree.Text("a \"quoted\"\ttext"),
		tree.Call("+", tree.Num(1), tree.Num(-2.5)),
		tree.Seq(tree.Let("x", tree.Num(1)), tree.Var("x")),
		tree.Seq(
			tree.Call("if", tree.Call("==", tree.Var("x"), tree.Num(1)),
				tree.Seq(tree.Call("say", tree.Text("one")), tree.Seq(tree.EmptyList())),
				tree.Null()),
		),
		tree.Seq(),
		tree.Call("this"),
	}
	for _, n := range trees {
		text := Decompile(n)
		back, err := Parse(text)
		if err != nil {
			t.Errorf("Parse(%q): %v", text, err)
			continue
		}
		if !tree.Equal(n, back) {
			t.Errorf("Parse(Decompile(%v)) = %v", n, back)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{`+(1, 2`, `"open`, `foo bar`, `[1]`} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		}
	}
}
