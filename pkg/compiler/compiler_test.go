package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

func mustCompile(t *testing.T, src string) tree.Node {
	t.Helper()
	n, err := Compile("test.ms", src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return n
}

func wire(t *testing.T, n tree.Node) string {
	t.Helper()
	data, err := tree.Encode(n)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return string(data)
}

func TestCompileLowering(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"declaration and reference",
			`let x = 1; x;`,
			`["seq",["let","x",1],["var","x"]]`},
		{"precedence",
			`1 + 2 * 3`,
			`["seq",["+",1,["*",2,3]]]`},
		{"uninitialized let",
			`let y`,
			`["seq",["let","y",null]]`},
		{"strings and literals",
			`say('it\'s', "tab\there", true, null, undefined)`,
			`["seq",["say","it's","tab\there",true,null,null]]`},
		{"opcode, closure and namespaced calls",
			`say("hi"); const g = (a) => a + 1; g(2); room.emit("x");`,
			`["seq",["say","hi"],["let","g",["lambda","a",["+",["var","a"],1]]],["apply",["var","g"],2],["room.emit","x"]]`},
		{"if else",
			`if (x > 1) { say("big"); } else say("small");`,
			`["seq",["if",[">",["var","x"],1],["seq",["say","big"]],["say","small"]]]`},
		{"if without else",
			`if (ok) say(1)`,
			`["seq",["if",["var","ok"],["say",1],null]]`},
		{"assignment and members",
			`let o = {a: 1}; o.a = 2; o["b"] = o.a; x = 3;`,
			`["seq",["let","o",["obj","a",1]],["put",["var","o"],"a",2],["put",["var","o"],"b",["get",["var","o"],"a"]],["set","x",3]]`},
		{"shorthand property",
			`let a = 1; ({a})`,
			`["seq",["let","a",1],["obj","a",["var","a"]]]`},
		{"function hoisting and recursion",
			`f(1); function f(n) { return f(n - 1); }`,
			`["seq",["let","f",["lambda","n",["seq",["return",["apply",["var","f"],["-",["var","n"],1]]]]]],["apply",["var","f"],1]]`},
		{"function declarations bound before the statements of their block",
			`let r = f(); function f() { return 7; } if (r) { g(); function g() {} } r`,
			`["seq",["let","f",["lambda",["seq",["return",7]]]],["let","r",["apply",["var","f"]]],["if",["var","r"],["seq",["let","g",["lambda",["seq"]]],["apply",["var","g"]]],null],["var","r"]]`},
		{"logic and unary",
			`!a && -b || typeof c`,
			`["seq",["||",["&&",["!",["var","a"]],["-",["var","b"]]],["typeof",["var","c"]]]]`},
		{"conditional expression",
			`let v = a ? 1 : 2`,
			`["seq",["let","v",["if",["var","a"],1,2]]]`},
		{"while and bare return",
			`while (n < 3) { n = n + 1; } return;`,
			`["seq",["while",["<",["var","n"],3],["seq",["set","n",["+",["var","n"],1]]]],["return"]]`},
		{"arrays and this",
			`[1, this, []]`,
			`["seq",["list",1,["this"],["list"]]]`},
		{"comments and line breaks",
			"// leading\nlet a = 1\nlet b = /* inline */ 2",
			`["seq",["let","a",1],["let","b",2]]`},
		{"local object method call",
			`let o = {}; o.f(1)`,
			`["seq",["let","o",["obj"]],["apply",["get",["var","o"],"f"],1]]`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := wire(t, mustCompile(t, c.src)); got != c.want {
				t.Errorf("Compile(%q)\n got %s\nwant %s", c.src, got, c.want)
			}
		})
	}
}

func TestComputedKeyLowersExpression(t *testing.T) {
	n := mustCompile(t, `function f(key) { return { [key]: "bar" }; }`)

	want := tree.Call("obj", tree.Var("key"), tree.Text("bar"))
	var found bool
	tree.Walk(n, func(m tree.Node) bool {
		if m.IsCall("obj") {
			found = true
			if !tree.Equal(m, want) {
				t.Errorf("obj = %v, want %v", m, want)
			}
		}
		return true
	})
	if !found {
		t.Fatalf("no obj node in %s", wire(t, n))
	}
	if strings.Contains(wire(t, n), `"[key]"`) {
		t.Errorf("computed key was stringified: %s", wire(t, n))
	}
}

func TestComputedKeyExpression(t *testing.T) {
	n, err := CompileExpr(`({ ["a" + b]: 1, plain: 2 })`)
	if err != nil {
		t.Fatal(err)
	}
	want := `["obj",["+","a",["var","b"]],1,"plain",2]`
	if got := wire(t, n); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCompileKeepsEveryStatement(t *testing.T) {
	n := mustCompile(t, "a(); b();; c()\n d()")
	if n.NumArgs() != 4 {
		t.Errorf("seq has %d statements, want 4: %s", n.NumArgs(), wire(t, n))
	}
}

func TestCompileEmpty(t *testing.T) {
	n := mustCompile(t, "  // nothing\n")
	if !tree.Equal(n, tree.Seq()) {
		t.Errorf("got %v, want empty seq", n)
	}
}

func TestUnsupportedConstructs(t *testing.T) {
	cases := []struct {
		src       string
		construct string
	}{
		{`for (;;) {}`, "for loop"},
		{`class A {}`, "class"},
		{`x++`, "increment"},
		{`x += 1`, "compound assignment"},
		{"let s = `t ${x}`", "template literal"},
		{`f(...xs)`, "spread"},
		{`new Foo()`, "new"},
		{`throw 1`, "throw"},
		{`switch (x) {}`, "switch"},
		{`try {} catch (e) {}`, "try"},
		{`a ?? b`, "nullish"},
		{`let {a} = o`, "destructuring"},
		{`outer: while (x) {}`, "labeled"},
		{`seq(1, 2)`, "reserved form"},
	}
	for _, c := range cases {
		_, err := Compile("", c.src)
		var uce *UnsupportedConstructError
		if !errors.As(err, &uce) {
			t.Errorf("Compile(%q) error = %v, want UnsupportedConstructError", c.src, err)
			continue
		}
		if !strings.Contains(uce.Construct, c.construct) {
			t.Errorf("Compile(%q) construct = %q, want %q", c.src, uce.Construct, c.construct)
		}
		if !uce.Pos.IsValid() {
			t.Errorf("Compile(%q) has no position", c.src)
		}
	}
}

func TestUnsupportedConstructPosition(t *testing.T) {
	_, err := Compile("room.ms", "let a = 1;\n  for (;;) {}")
	var uce *UnsupportedConstructError
	if !errors.As(err, &uce) {
		t.Fatalf("err = %v", err)
	}
	if uce.Pos != (Pos{Line: 2, Col: 3}) {
		t.Errorf("pos = %v, want 2:3", uce.Pos)
	}
	if !strings.HasPrefix(err.Error(), "room.ms:2:3:") {
		t.Errorf("message %q lacks location", err.Error())
	}
}

func TestSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		`let = 1`,
		`f(1,`,
		`"unterminated`,
		`x = ;`,
		`{`,
		`a b`,
		`1 = 2`,
		`const c;`,
		`const c = 1; c = 2;`,
		`function (a, a) {}`,
		`let n = 12abc`,
		`@`,
	} {
		_, err := Compile("", src)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Compile(%q) error = %v, want SyntaxError", src, err)
			continue
		}
		if !se.Pos.IsValid() {
			t.Errorf("Compile(%q) has no position", src)
		}
	}
}

func TestCompileExprRejectsStatements(t *testing.T) {
	for _, src := range []string{`let x = 1`, `a; b`, ``} {
		if _, err := CompileExpr(src); err == nil {
			t.Errorf("CompileExpr(%q) succeeded", src)
		}
	}
	n, err := CompileExpr(`1 + x`)
	if err != nil {
		t.Fatal(err)
	}
	if got := wire(t, n); got != `["+",1,["var","x"]]` {
		t.Errorf("got %s", got)
	}
}
