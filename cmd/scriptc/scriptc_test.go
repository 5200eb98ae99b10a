package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCompileStdin(t *testing.T) {
	code, out, errOut := runCLI(t, "1 + 2 * 3", "compile", "-")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != `["seq",["+",1,["*",2,3]]]`+"\n" {
		t.Errorf("tree = %q", out)
	}
}

func TestCompileToFileAndDecompile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "greet.ms")
	if err := os.WriteFile(src, []byte(`let x = 1; send("hi");`), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "greet.json")
	if code, _, errOut := runCLI(t, "", "compile", "-o", out, "-pretty", src); code != 0 {
		t.Fatalf("compile exit %d: %s", code, errOut)
	}
	code, text, errOut := runCLI(t, "", "decompile", out)
	if code != 0 {
		t.Fatalf("decompile exit %d: %s", code, errOut)
	}
	if text != "let(\"x\", 1);\nsend(\"hi\");\n" {
		t.Errorf("decompile = %q", text)
	}
}

func TestCompileErrorHasPosition(t *testing.T) {
	code, _, errOut := runCLI(t, "let = ;", "compile", "-")
	if code != 1 {
		t.Errorf("exit %d", code)
	}
	if !strings.Contains(errOut, "1:") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestDecompileRejectsBadTree(t *testing.T) {
	if code, _, _ := runCLI(t, `{"not":"a tree"}`, "decompile", "-"); code != 1 {
		t.Errorf("exit %d", code)
	}
}

func TestRunScript(t *testing.T) {
	code, out, errOut := runCLI(t, `send("hi"); return args[0] + 1;`, "run", "-args", "[41]", "-")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "hi\n=> 42\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunFault(t *testing.T) {
	code, _, errOut := runCLI(t, `nothing + 1;`, "run", "-")
	if code != 1 || errOut == "" {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestRunWithGrant(t *testing.T) {
	code, out, errOut := runCLI(t, `[can("spawn"), can("fetch")];`, "run", "-plugins", "spawn,fetch", "-grant", "spawn={}", "-")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "true") || !strings.Contains(out, "false") {
		t.Errorf("stdout = %q", out)
	}
}

func TestGrantFlagParsing(t *testing.T) {
	var g grantFlags
	if err := g.Set(`sql={"database":"x.db"}`); err != nil {
		t.Fatal(err)
	}
	if err := g.Set("spawn"); err != nil {
		t.Fatal(err)
	}
	if err := g.Set("=x"); err == nil {
		t.Error("empty type accepted")
	}
	if err := g.Set("fetch={bad"); err == nil {
		t.Error("bad json accepted")
	}
	if g.String() != "sql,spawn" || g[0].Params["database"] != "x.db" {
		t.Errorf("grants = %+v", g)
	}
}

func TestIncomplete(t *testing.T) {
	if !incomplete("if (true) {") {
		t.Error("open block should be incomplete")
	}
	if incomplete("1 + 2") {
		t.Error("complete expression reported incomplete")
	}
}

func TestUnknownCommand(t *testing.T) {
	if code, _, errOut := runCLI(t, "", "frobnicate"); code != 2 || !strings.Contains(errOut, "Usage") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}
