package eval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// evalTestEnv holds a sealed registry with a handful of test opcodes and
// collects output sent by scripts.
type evalTestEnv struct {
	reg    *Registry
	interp *Interpreter
	out    []string
}

func newEvalTestEnv(t *testing.T, extra ...Opcode) *evalTestEnv {
	t.Helper()
	env := &evalTestEnv{reg: NewRegistry()}
	ops := []Opcode{
		{Name: "+", MinArgs: 2, MaxArgs: 2, Fn: func(_ context.Context, _ *Invocation, a []any) (any, error) {
			x, _ := ToNumber(a[0])
			y, _ := ToNumber(a[1])
			return x + y, nil
		}},
		{Name: "<", MinArgs: 2, MaxArgs: 2, Fn: func(_ context.Context, _ *Invocation, a []any) (any, error) {
			x, _ := ToNumber(a[0])
			y, _ := ToNumber(a[1])
			return x < y, nil
		}},
		{Name: "say", MinArgs: 1, MaxArgs: -1, Fn: func(_ context.Context, inv *Invocation, a []any) (any, error) {
			parts := make([]string, len(a))
			for i, v := range a {
				parts[i] = Stringify(v)
			}
			inv.Output(strings.Join(parts, " "))
			return nil, nil
		}},
		{Name: "apply", MinArgs: 1, MaxArgs: -1, Fn: func(ctx context.Context, inv *Invocation, a []any) (any, error) {
			return inv.Apply(ctx, a[0], a[1:]...)
		}},
		{Name: "reject", MinArgs: 0, MaxArgs: 0, Fn: func(context.Context, *Invocation, []any) (any, error) {
			return nil, Errorf("not allowed: %s", "c")
		}},
		{Name: "boom", MinArgs: 0, MaxArgs: 0, Fn: func(context.Context, *Invocation, []any) (any, error) {
			return nil, errors.New("dial tcp 10.0.0.5:5432: password=hunter2 refused")
		}},
		{Name: "panic", MinArgs: 0, MaxArgs: 0, Fn: func(context.Context, *Invocation, []any) (any, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		}},
	}
	if err := env.reg.RegisterLibrary(append(ops, extra...)...); err != nil {
		t.Fatalf("RegisterLibrary: %v", err)
	}
	env.reg.Seal()
	env.interp = NewInterpreter(env.reg)
	return env
}

func (env *evalTestEnv) run(t *testing.T, n tree.Node) (any, *Invocation, error) {
	t.Helper()
	return env.runCtx(t, context.Background(), n)
}

func (env *evalTestEnv) runCtx(t *testing.T, ctx context.Context, n tree.Node) (any, *Invocation, error) {
	t.Helper()
	inv := NewInvocation("thing-1", "player-1", nil, "a1", 2.0)
	inv.Send = func(msg string) { env.out = append(env.out, msg) }
	v, err := env.interp.Run(ctx, inv, n)
	if s := inv.Scope(); s != nil && (s.Depth() != 0 || s.Pushed() != s.Popped()) {
		t.Errorf("frames unbalanced: depth %d, pushed %d, popped %d", s.Depth(), s.Pushed(), s.Popped())
	}
	return v, inv, err
}

func call(op string, args ...tree.Node) tree.Node { return tree.Call(op, args...) }

func TestEvalLiterals(t *testing.T) {
	env := newEvalTestEnv(t)
	cases := []struct {
		in   tree.Node
		want any
	}{
		{tree.Num(1.5), 1.5},
		{tree.Text("hi"), "hi"},
		{tree.Bool(true), true},
		{tree.Null(), nil},
	}
	for _, c := range cases {
		v, _, err := env.run(t, c.in)
		if err != nil || v != c.want {
			t.Errorf("Run(%v) = %v, %v; want %v", c.in, v, err, c.want)
		}
	}
	v, _, err := env.run(t, tree.EmptyList())
	if l, ok := v.([]any); err != nil || !ok || len(l) != 0 {
		t.Errorf("Run([]) = %#v, %v; want empty list", v, err)
	}
}

func TestEvalLetVar(t *testing.T) {
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, tree.Seq(tree.Let("x", tree.Num(1)), tree.Var("x")))
	if err != nil || v != 1.0 {
		t.Fatalf("got %v, %v; want 1", v, err)
	}

	// Redeclaring in the same frame overwrites.
	v, _, err = env.run(t, tree.Seq(
		tree.Let("x", tree.Num(1)),
		tree.Let("x", tree.Num(2)),
		tree.Var("x"),
	))
	if err != nil || v != 2.0 {
		t.Errorf("got %v, %v; want 2", v, err)
	}
}

func TestEvalUnboundVariable(t *testing.T) {
	env := newEvalTestEnv(t)
	_, inv, err := env.run(t, tree.Var("x"))
	var ue *UnboundVariableError
	if !errors.As(err, &ue) || ue.Name != "x" {
		t.Fatalf("err = %v, want UnboundVariableError for x", err)
	}
	if inv.State() != StateFaulted {
		t.Errorf("state = %v, want faulted", inv.State())
	}

	// A binding inside a nested seq does not outlive it.
	_, _, err = env.run(t, tree.Seq(tree.Seq(tree.Let("y", tree.Num(1))), tree.Var("y")))
	if !errors.As(err, &ue) {
		t.Errorf("err = %v, want UnboundVariableError for y", err)
	}
}

func TestEvalSetRebindsNearest(t *testing.T) {
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, tree.Seq(
		tree.Let("x", tree.Num(1)),
		tree.Seq(call("set", tree.Text("x"), tree.Num(2))),
		tree.Var("x"),
	))
	if err != nil || v != 2.0 {
		t.Errorf("got %v, %v; want 2", v, err)
	}

	_, _, err = env.run(t, call("set", tree.Text("nope"), tree.Num(1)))
	var ue *UnboundVariableError
	if !errors.As(err, &ue) {
		t.Errorf("set of unbound name: err = %v", err)
	}
}

func TestEvalIf(t *testing.T) {
	env := newEvalTestEnv(t)
	cases := []struct {
		n    tree.Node
		want any
	}{
		{call("if", tree.Bool(true), tree.Num(1), tree.Num(2)), 1.0},
		{call("if", tree.Num(0), tree.Num(1), tree.Num(2)), 2.0},
		{call("if", tree.Text(""), tree.Num(1), tree.Null()), nil},
		{call("if", tree.Text("x"), tree.Null(), tree.Num(2)), nil},
		{call("if", tree.Bool(false), tree.Num(1)), nil},
	}
	for _, c := range cases {
		v, _, err := env.run(t, c.n)
		if err != nil || v != c.want {
			t.Errorf("Run(%v) = %v, %v; want %v", c.n, v, err, c.want)
		}
	}
}

func TestEvalShortCircuit(t *testing.T) {
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, call("&&", tree.Bool(false), call("bogus")))
	if err != nil || v != false {
		t.Errorf("&& = %v, %v", v, err)
	}
	v, _, err = env.run(t, call("||", tree.Text("first"), call("bogus")))
	if err != nil || v != "first" {
		t.Errorf("|| = %v, %v", v, err)
	}
	v, _, err = env.run(t, call("||", tree.Null(), tree.Num(3)))
	if err != nil || v != 3.0 {
		t.Errorf("|| = %v, %v", v, err)
	}
}

func TestEvalUnknownOpcode(t *testing.T) {
	env := newEvalTestEnv(t)
	_, _, err := env.run(t, call("bogus", tree.Num(1)))
	var oe *UnknownOpcodeError
	if !errors.As(err, &oe) || oe.Name != "bogus" {
		t.Fatalf("err = %v, want UnknownOpcodeError", err)
	}
	if !IsScriptFault(err) {
		t.Errorf("unknown opcode should be a script fault")
	}
}

func TestEvalArity(t *testing.T) {
	env := newEvalTestEnv(t)
	for _, n := range []tree.Node{
		call("+", tree.Num(1)),
		call("let", tree.Text("x")),
		call("var"),
		call("if", tree.Bool(true)),
	} {
		_, _, err := env.run(t, n)
		var ae *ArityError
		if !errors.As(err, &ae) {
			t.Errorf("Run(%v) err = %v, want ArityError", n, err)
		}
	}
	_, _, err := env.run(t, call("let", tree.Num(1), tree.Num(2)))
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Errorf("let with a number name: err = %v, want ScriptError", err)
	}
}

func TestScopeReleasedOnFault(t *testing.T) {
	env := newEvalTestEnv(t)
	n := tree.Seq(tree.Seq(tree.Seq(tree.Let("x", tree.Num(1)), call("bogus"), call("say", tree.Text("unreached")))))
	_, inv, err := env.run(t, n)
	if err == nil {
		t.Fatal("expected fault")
	}
	s := inv.Scope()
	// One frame for the invocation plus one per seq, each released once.
	if s.Pushed() != 4 || s.Popped() != 4 || s.Depth() != 0 {
		t.Errorf("pushed %d popped %d depth %d; want 4 4 0", s.Pushed(), s.Popped(), s.Depth())
	}
	if len(env.out) != 0 {
		t.Errorf("statement after fault ran: %v", env.out)
	}
}

func TestEvalCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newEvalTestEnv(t, Opcode{Name: "cancel", Fn: func(context.Context, *Invocation, []any) (any, error) {
		cancel()
		return nil, nil
	}})

	n := tree.Seq(tree.Seq(call("cancel"), call("say", tree.Text("after"))))
	_, inv, err := env.runCtx(t, ctx, n)
	var ce *CancelledError
	if !errors.As(err, &ce) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want CancelledError", err)
	}
	if len(env.out) != 0 {
		t.Errorf("statement after cancellation ran: %v", env.out)
	}
	if inv.Scope().Depth() != 0 {
		t.Errorf("frames left after cancellation: %d", inv.Scope().Depth())
	}

	// Already-cancelled context stops an endless loop.
	_, _, err = env.runCtx(t, ctx, call("while", tree.Bool(true), tree.Null()))
	if !errors.As(err, &ce) {
		t.Errorf("loop err = %v, want CancelledError", err)
	}
}

func TestHostFaultIsOpaque(t *testing.T) {
	env := newEvalTestEnv(t)
	for _, op := range []string{"boom", "panic"} {
		_, _, err := env.run(t, tree.Seq(call(op)))
		var ie *InternalError
		if !errors.As(err, &ie) || ie.Incident == "" {
			t.Errorf("%s: err = %v, want InternalError with incident", op, err)
			continue
		}
		if strings.Contains(err.Error(), "hunter2") || strings.Contains(err.Error(), "nil map") {
			t.Errorf("%s: internal detail leaked: %v", op, err)
		}
		if IsScriptFault(err) {
			t.Errorf("%s: host fault classified as script fault", op)
		}
	}
}

func TestScriptErrorPassesThrough(t *testing.T) {
	env := newEvalTestEnv(t)
	_, _, err := env.run(t, call("reject"))
	var se *ScriptError
	if !errors.As(err, &se) || se.Error() != "not allowed: c" {
		t.Errorf("err = %v, want ScriptError", err)
	}
}

func TestEvalClosures(t *testing.T) {
	env := newEvalTestEnv(t)
	add := call("lambda", tree.Text("a"), tree.Text("b"), call("+", tree.Var("a"), tree.Var("b")))
	v, _, err := env.run(t, tree.Seq(
		tree.Let("add", add),
		call("apply", tree.Var("add"), tree.Num(1), tree.Num(2)),
	))
	if err != nil || v != 3.0 {
		t.Fatalf("apply = %v, %v; want 3", v, err)
	}

	// Closures see their defining frame, not the caller's.
	v, _, err = env.run(t, tree.Seq(
		tree.Let("n", tree.Num(10)),
		tree.Let("get", call("lambda", tree.Var("n"))),
		tree.Seq(tree.Let("n", tree.Num(99)), call("apply", tree.Var("get"))),
	))
	if err != nil || v != 10.0 {
		t.Errorf("closure capture = %v, %v; want 10", v, err)
	}
}

func TestEvalReturn(t *testing.T) {
	env := newEvalTestEnv(t)
	fn := call("lambda", tree.Text("x"), tree.Seq(
		call("if", tree.Var("x"), call("return", tree.Text("early")), tree.Null()),
		tree.Text("late"),
	))
	v, _, err := env.run(t, tree.Seq(tree.Let("f", fn), call("apply", tree.Var("f"), tree.Bool(true))))
	if err != nil || v != "early" {
		t.Errorf("got %v, %v; want early", v, err)
	}

	v, _, err = env.run(t, tree.Seq(call("return", tree.Num(7)), call("say", tree.Text("unreached"))))
	if err != nil || v != 7.0 {
		t.Errorf("top-level return = %v, %v", v, err)
	}
	if len(env.out) != 0 {
		t.Errorf("ran past return: %v", env.out)
	}
}

func TestEvalWhile(t *testing.T) {
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, tree.Seq(
		tree.Let("i", tree.Num(0)),
		call("while", call("<", tree.Var("i"), tree.Num(3)),
			call("set", tree.Text("i"), call("+", tree.Var("i"), tree.Num(1)))),
		tree.Var("i"),
	))
	if err != nil || v != 3.0 {
		t.Errorf("got %v, %v; want 3", v, err)
	}
}

func TestEvalLimits(t *testing.T) {
	env := newEvalTestEnv(t)
	env.interp.MaxSteps = 50
	_, _, err := env.run(t, call("while", tree.Bool(true), tree.Null()))
	var se *ScriptError
	if !errors.As(err, &se) || !strings.Contains(se.Msg, "step limit") {
		t.Errorf("endless loop: err = %v", err)
	}

	env = newEvalTestEnv(t)
	env.interp.MaxDepth = 20
	rec := call("lambda", tree.Text("n"), call("apply", tree.Var("f"), tree.Var("n")))
	_, _, err = env.run(t, tree.Seq(tree.Let("f", rec), call("apply", tree.Var("f"), tree.Num(1))))
	if !errors.As(err, &se) || !strings.Contains(se.Msg, "nesting limit") {
		t.Errorf("endless recursion: err = %v", err)
	}
}

func TestInvocationArgs(t *testing.T) {
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, tree.Var("args"))
	l, ok := v.([]any)
	if err != nil || !ok || len(l) != 2 || l[0] != "a1" || l[1] != 2.0 {
		t.Errorf("args = %#v, %v", v, err)
	}
}

func TestInvocationRunsOnce(t *testing.T) {
	env := newEvalTestEnv(t)
	inv := NewInvocation("thing-1", "", nil)
	if inv.State() != StateReady {
		t.Fatalf("new invocation state = %v", inv.State())
	}
	if _, err := env.interp.Run(context.Background(), inv, tree.Num(1)); err != nil {
		t.Fatal(err)
	}
	if inv.State() != StateCompleted {
		t.Errorf("state = %v, want completed", inv.State())
	}
	if v, err := inv.Result(); v != 1.0 || err != nil {
		t.Errorf("Result = %v, %v", v, err)
	}
	if _, err := env.interp.Run(context.Background(), inv, tree.Num(1)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second run err = %v", err)
	}
}

func TestUnsealedRegistryCannotRun(t *testing.T) {
	interp := NewInterpreter(NewRegistry())
	_, err := interp.Run(context.Background(), NewInvocation("", "", nil), tree.Num(1))
	if !errors.Is(err, ErrRegistryOpen) {
		t.Errorf("err = %v, want ErrRegistryOpen", err)
	}
}

func TestRegistryRules(t *testing.T) {
	noop := func(context.Context, *Invocation, []any) (any, error) { return nil, nil }
	reg := NewRegistry()

	if err := reg.Register(Opcode{Name: "seq", Fn: noop}); err == nil {
		t.Error("shadowing a built-in form was accepted")
	}
	if err := reg.Register(Opcode{Name: "b", Fn: noop, Label: "B", Category: "misc"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(Opcode{Name: "b", Fn: noop}); err == nil {
		t.Error("duplicate accepted")
	}
	if err := reg.Register(Opcode{Name: "a", Fn: noop, MaxArgs: -1}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(Opcode{Name: "nil"}); err == nil {
		t.Error("nil function accepted")
	}

	reg.Seal()
	if err := reg.Register(Opcode{Name: "c", Fn: noop}); err == nil {
		t.Error("register after Seal accepted")
	}

	infos := reg.Opcodes()
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" || infos[1].Label != "B" {
		t.Errorf("Opcodes = %+v", infos)
	}
	if _, ok := reg.Lookup("b"); !ok {
		t.Error("Lookup(b) failed")
	}
}

func TestCallBeforeFunctionDeclaration(t *testing.T) {
	n, err := compiler.Compile("hoist.ms", `let r = f(2); function f(n) { return n + 5; } say(r); r`)
	if err != nil {
		t.Fatal(err)
	}
	env := newEvalTestEnv(t)
	v, _, err := env.run(t, n)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v != 7.0 {
		t.Errorf("result = %v, want 7", v)
	}
	if len(env.out) != 1 || env.out[0] != "7" {
		t.Errorf("output = %q", env.out)
	}
}
